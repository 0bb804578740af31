package cache

import "errors"

// Domain errors for the cache package.
//
//	if errors.Is(err, cache.ErrNotFound) {
//	    // skip and log: the key may have been removed concurrently
//	}
var (
	// ErrNotFound is returned when a key is absent from a store.
	ErrNotFound = errors.New("cache: not found")

	// ErrKeyMismatch is returned when an entity's key differs from the key it is written under.
	ErrKeyMismatch = errors.New("cache: key mismatch")
)
