// Package history records accepted tag updates as InfluxDB points.
//
// A Recorder subscribes to the tag store as a buffered listener, so bursts
// of updates reach InfluxDB as coalesced batches and never slow the cache.
// Each point is stamped with the tag's source timestamp.
package history
