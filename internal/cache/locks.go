package cache

import "sync"

const lockShards = 64

// keyLocks hands out one mutex per key. Mutexes are reference counted and
// released when no goroutine holds or waits on them, so the table stays the
// size of the set of keys currently being written. The shard mutex only
// guards the bookkeeping map and is never held while a key lock is held.
type keyLocks struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) shard(id int64) *lockShard {
	return &k.shards[uint64(id)%lockShards]
}

// lock acquires the mutex of id and returns its release function.
func (k *keyLocks) lock(id int64) func() {
	s := k.shard(id)

	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[int64]*keyLock)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &keyLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
