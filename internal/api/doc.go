// Package api implements the HTTP REST API and WebSocket server for Gray Logic Monitor.
//
// This package provides:
//   - read endpoints for cached tags, supervised entities and command tags
//   - admin endpoints to reconfigure tags, start and stop entities and
//     execute commands, guarded by JWT role permissions
//   - a WebSocket hub relaying tag and supervision changes
//   - Prometheus exposition of every component's metrics
//
// # Architecture
//
// The server reads the monitor's caches directly. It never sits on the
// update path: WebSocket broadcasts are fed by buffered cache listeners, so
// slow or stalled clients only lose intermediate states. Admin changes go
// through the monitor first and are persisted afterwards when a repository
// is configured.
//
// # Graceful Degradation
//
// History, persistence and MQTT are optional. Without them reads and the
// WebSocket feed still work; the history endpoint answers 503.
package api
