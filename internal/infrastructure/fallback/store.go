package fallback

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultMaxEntries bounds the queue when no limit is configured.
	DefaultMaxEntries = 100000

	// DefaultDrainBatch is the number of records handed to a drain callback
	// at a time.
	DefaultDrainBatch = 500

	openTimeout     = time.Second
	filePermissions = 0600
	dirPermissions  = 0750
)

var queueBucket = []byte("queue")

// Store is a bounded FIFO of records persisted in a bbolt file.
//
// Thread Safety: all methods are safe for concurrent use. Drain holds an
// exclusive lock so two drains never hand out the same records.
type Store struct {
	path       string
	maxEntries int

	drainMu sync.Mutex
	mu      sync.RWMutex
	db      *bolt.DB
	count   int
}

// Open opens or creates the queue file at path.
// A maxEntries of zero or less uses DefaultMaxEntries.
func Open(path string, maxEntries int) (*Store, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating fallback directory: %w", err)
	}

	db, err := bolt.Open(path, filePermissions, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening fallback store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating fallback bucket: %w", err)
	}

	count := 0
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("counting fallback records: %w", err)
	}
	return &Store{path: path, maxEntries: maxEntries, db: db, count: count}, nil
}

// Path returns the queue file path.
func (s *Store) Path() string {
	return s.path
}

// Append adds records at the tail. When the queue would exceed its bound
// the oldest records are discarded; their number is returned.
func (s *Store) Append(records [][]byte) (dropped int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}

	excess := s.count + len(records) - s.maxEntries
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		for _, rec := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(key(seq), rec); err != nil {
				return err
			}
		}
		if excess <= 0 {
			return nil
		}

		var oldest [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(oldest) < excess; k, _ = c.Next() {
			oldest = append(oldest, append([]byte(nil), k...))
		}
		for _, k := range oldest {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("appending to fallback store: %w", err)
	}
	if excess > 0 {
		dropped = excess
	}
	s.count += len(records) - dropped
	return dropped, nil
}

// Len returns the number of queued records.
func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	return s.count, nil
}

// Drain hands queued records to fn in batches of up to batchSize, oldest
// first, deleting each batch once fn returns nil. It stops at the first
// error from fn, leaving that batch queued, or when ctx is done.
// Returns the number of records delivered.
func (s *Store) Drain(ctx context.Context, batchSize int, fn func([][]byte) error) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultDrainBatch
	}
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		keys, batch, err := s.peek(batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := fn(batch); err != nil {
			return total, err
		}
		if err := s.delete(keys); err != nil {
			return total, err
		}
		total += len(batch)
	}
}

func (s *Store) peek(n int) (keys, values [][]byte, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, nil, ErrClosed
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(queueBucket).Cursor()
		for k, v := c.First(); k != nil && len(keys) < n; k, v = c.Next() {
			// Slices returned by bbolt are only valid inside the transaction.
			keys = append(keys, append([]byte(nil), k...))
			values = append(values, append([]byte(nil), v...))
		}
		return nil
	})
	return keys, values, err
}

func (s *Store) delete(keys [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		for _, k := range keys {
			// Append may have discarded the key since peek.
			if b.Get(k) == nil {
				continue
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting drained records: %w", err)
	}
	s.count -= removed
	return nil
}

// Close closes the file. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing fallback store: %w", err)
	}
	return nil
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
