// Package tag defines the monitored point model of Gray Logic Monitor.
//
// A tag is a named, typed, quality-annotated value. Three variants share
// the one Tag struct, discriminated by Kind:
//
//	┌──────────────┬──────────────────────────────────────────────────┐
//	│ KindData     │ value reported by an acquisition process         │
//	│ KindRule     │ value derived from other tags by an expression   │
//	│ KindControl  │ ALIVE / COMM_FAULT / STATE signal of an entity   │
//	└──────────────┴──────────────────────────────────────────────────┘
//
// Quality is a set of invalidity flags. An empty set means the value can be
// trusted. Flags are added and removed individually so that independent
// reasons (a source fault and a supervision cascade, say) never clobber
// each other.
//
// FlowPolicy is the gate applied by the cache before a candidate replaces
// the cached tag. It orders updates by timestamp so that out-of-order
// delivery from concurrent producers cannot roll a tag backwards.
//
// Usage:
//
//	candidate := current.Candidate(tag.Update{
//	    Value:           21.5,
//	    SourceTimestamp: ts,
//	})
//	if (tag.FlowPolicy{}).Accept(current, candidate) {
//	    // replace
//	}
package tag
