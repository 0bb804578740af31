// Package fallback is a durable FIFO queue on a local bbolt file.
//
// The update log parks batches here while the SQLite database is not
// writable and replays them, oldest first, once it is. The queue is
// bounded: when full, the oldest records are discarded so the most recent
// history survives an extended outage.
//
// Records are opaque byte slices; callers own their encoding.
package fallback
