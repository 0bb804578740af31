package fallback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fallback.db"), maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func records(from, to int) [][]byte {
	out := make([][]byte, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, []byte(fmt.Sprintf("r%d", i)))
	}
	return out
}

func drainAll(t *testing.T, s *Store, batch int) []string {
	t.Helper()
	var got []string
	_, err := s.Drain(context.Background(), batch, func(recs [][]byte) error {
		for _, r := range recs {
			got = append(got, string(r))
		}
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestStore_FIFO(t *testing.T) {
	s := openStore(t, 0)

	_, err := s.Append(records(1, 3))
	require.NoError(t, err)
	_, err = s.Append(records(4, 5))
	require.NoError(t, err)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5"}, drainAll(t, s, 2))

	n, err = s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_DropsOldestWhenFull(t *testing.T) {
	s := openStore(t, 3)

	dropped, err := s.Append(records(1, 2))
	require.NoError(t, err)
	assert.Zero(t, dropped)

	dropped, err = s.Append(records(3, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	assert.Equal(t, []string{"r3", "r4", "r5"}, drainAll(t, s, 10))
}

func TestStore_DrainStopsOnError(t *testing.T) {
	s := openStore(t, 0)
	_, err := s.Append(records(1, 4))
	require.NoError(t, err)

	boom := errors.New("database locked")
	calls := 0
	delivered, err := s.Drain(context.Background(), 2, func([][]byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, delivered)

	// The failed batch stays queued.
	assert.Equal(t, []string{"r3", "r4"}, drainAll(t, s, 10))
}

func TestStore_DrainHonoursContext(t *testing.T) {
	s := openStore(t, 0)
	_, err := s.Append(records(1, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Drain(ctx, 1, func([][]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	_, err = s.Append(records(1, 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // Test cleanup

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Sequence numbers continue after reopening.
	_, err = s.Append(records(4, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, drainAll(t, s, 0))
}

func TestStore_Closed(t *testing.T) {
	s := openStore(t, 0)
	require.NoError(t, s.Close())

	_, err := s.Append(records(1, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Len()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", 0)
	assert.ErrorIs(t, err, ErrInvalidPath)
}
