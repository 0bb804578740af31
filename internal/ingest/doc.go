// Package ingest connects the monitor to acquisition processes over MQTT.
//
// Adapter subscribes to source value batches and command reports and hands
// them to the monitor. Publisher mirrors accepted tag updates and entity
// status onto retained topics. Sender delivers command executions to the
// acquisition process that owns the equipment.
//
// All three talk to the broker through Transport, which *mqtt.Client
// satisfies.
package ingest
