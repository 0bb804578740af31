package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-monitor/migrations"
)

func openAt(t *testing.T, path string, wal bool) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: path, WALMode: wal, BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

// openMonitorDB opens a temporary database carrying the monitor schema.
func openMonitorDB(t *testing.T) *DB {
	t.Helper()
	db := openAt(t, filepath.Join(t.TempDir(), "graymon.db"), true)
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return db
}

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "graymon", "graymon.db")
	db := openAt(t, path, false)

	assert.Equal(t, path, db.Path())
	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}

func TestOpen_JournalMode(t *testing.T) {
	tests := []struct {
		name string
		wal  bool
		want string
	}{
		{"wal", true, "wal"},
		{"rollback journal", false, "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openAt(t, filepath.Join(t.TempDir(), "j.db"), tt.wal)
			mode, err := db.JournalMode(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.ToLower(mode))
		})
	}
}

func TestOpen_Pragmas(t *testing.T) {
	db := openAt(t, filepath.Join(t.TempDir(), "p.db"), true)
	ctx := context.Background()

	var fk, timeout int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, timeout)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections, "one writer connection")
}

func TestOpen_BlockedDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Open(context.Background(), Config{Path: filepath.Join(blocker, "graymon.db")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating database directory")
}

func TestHealthCheck_NeedsSchema(t *testing.T) {
	ctx := context.Background()

	bare := openAt(t, filepath.Join(t.TempDir(), "bare.db"), false)
	assert.Error(t, bare.HealthCheck(ctx), "tags table missing before migration")

	assert.NoError(t, openMonitorDB(t).HealthCheck(ctx))
}

func TestMigrate_MonitorSchema(t *testing.T) {
	db := openMonitorDB(t)
	for _, table := range []string{"tags", "entities", "command_tags", "tag_log", "audit_log"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	applied, pending, err := db.MigrationStatus(context.Background(), migrations.FS)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Empty(t, pending)
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openMonitorDB(t)

	_, err := db.ExecContext(context.Background(), "INSERT INTO no_such_table VALUES (1)")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "executing query:"), err.Error())
}

func TestBeginTx_RollbackLeavesNoRows(t *testing.T) {
	db := openMonitorDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO audit_log (id, action, entity_type, entity_id, subject, source, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		"a1", "tag.remove", "tag", 7, "tester", "api", "{}", "2026-03-02T09:00:00.000000000Z")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n))
	assert.Zero(t, n)
}

func TestClose_NilConnection(t *testing.T) {
	db := openAt(t, filepath.Join(t.TempDir(), "c.db"), false)
	require.NoError(t, db.Close())

	db.DB = nil
	assert.NoError(t, db.Close())
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.DatabaseConfig{Path: "/data/graymon.db", WALMode: true, BusyTimeout: 7})
	assert.Equal(t, Config{Path: "/data/graymon.db", WALMode: true, BusyTimeout: 7}, got)
}

// openTestDB opens an empty WAL database with no schema.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "test.db"), true)
}
