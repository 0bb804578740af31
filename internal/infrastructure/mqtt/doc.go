// Package mqtt provides the MQTT client of Gray Logic Monitor.
//
// Acquisition processes publish source values to the monitor through the
// broker and receive command executions from it. The monitor publishes
// retained tag snapshots and entity status for downstream consumers.
//
//	Acquisition processes ↔ MQTT Broker ↔ Gray Logic Monitor
//
// This package manages the connection with auto-reconnect, restores
// subscriptions after a reconnect, recovers handler panics and registers
// a Last Will so the broker announces an unexpected disconnect on
// graymon/system/status.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllAcquisitionValues(), 1, handler)
//
// TLS should be enabled outside local development (cfg.Broker.TLS).
package mqtt
