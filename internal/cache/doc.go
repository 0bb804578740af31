// Package cache provides the concurrent entity stores of Gray Logic Monitor.
//
// One Store exists per entity family (tags, processes, equipment,
// subequipment, command tags). Every mutation of a cached entity goes
// through one of four operations:
//
//	┌─────────────┬────────────────────────────────────────────────────────┐
//	│ Put         │ unconditional replace (startup load, reconfiguration)  │
//	│ PutIfValid  │ replace if the family Policy accepts the candidate     │
//	│ Compute     │ atomic read-modify-write under the key lock            │
//	│ Remove      │ delete                                                 │
//	└─────────────┴────────────────────────────────────────────────────────┘
//
// # Locking
//
// Each key has its own mutex, so writers to different keys never contend.
// The id → entity map is guarded by an RWMutex that is only held for the
// map access itself, never across a Compute function or a listener.
//
// # Listeners
//
// Subscribe registers a synchronous listener. It runs on the writing
// goroutine while the key lock is still held, which gives per-key
// notification in acceptance order. Synchronous listeners must only hand
// work off (a channel send, a debounce buffer) and never write back to the
// same key.
//
// SubscribeBuffered registers a listener that receives coalesced batches on
// its own goroutine:
//
//	writer ──▶ enqueue (non-blocking) ──▶ [queue] ──▶ window ──▶ fn([]Event)
//	                 │ full                              ▲
//	                 ▼                                   │ MinDelay..MaxDelay,
//	           dropped_total++                           │ doubles under load
//
// History logging, MQTT publishing and WebSocket fan-out use buffered
// listeners so a slow consumer can never hold up ingestion.
package cache
