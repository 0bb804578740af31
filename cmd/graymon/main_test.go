package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYMON_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config loading error", err)
	}
}

// TestRun_MissingJWTSecret verifies validation stops start-up before any
// connection is attempted.
func TestRun_MissingJWTSecret(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfig(t, configPath, `
site:
  id: test-site
database:
  path: "`+filepath.Join(tmpDir, "graymon.db")+`"
`)
	t.Setenv("GRAYMON_CONFIG", configPath)
	t.Setenv("GRAYMON_JWT_SECRET", "")

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("run() error = %v, want the JWT secret named", err)
	}
}

// TestRun_InvalidDatabasePath verifies run fails when the database cannot be opened.
func TestRun_InvalidDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()

	// A regular file where the database directory should be.
	blocker := filepath.Join(tmpDir, "blocker")
	writeConfig(t, blocker, "")

	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfig(t, configPath, `
site:
  id: test-site
database:
  path: "`+filepath.Join(blocker, "graymon.db")+`"
  wal_mode: true
  busy_timeout: 5
influxdb:
  enabled: false
`)
	t.Setenv("GRAYMON_CONFIG", configPath)
	t.Setenv("GRAYMON_JWT_SECRET", testSecret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with an unusable database path")
	}
	if !strings.Contains(err.Error(), "opening database") {
		t.Errorf("run() error = %v, want a database error", err)
	}
}

func TestRunMigrate(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeConfig(t, configPath, `
site:
  id: test-site
database:
  path: "`+filepath.Join(tmpDir, "graymon.db")+`"
  wal_mode: true
  busy_timeout: 5
`)
	t.Setenv("GRAYMON_CONFIG", configPath)
	t.Setenv("GRAYMON_JWT_SECRET", testSecret)
	ctx := context.Background()

	var out strings.Builder
	if err := runMigrate(ctx, nil, &out); err != nil {
		t.Fatalf("runMigrate(status) error = %v", err)
	}
	if got := strings.Count(out.String(), "pending"); got != 2 {
		t.Errorf("fresh database: %d pending, want 2\n%s", got, out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, []string{"up"}, &out); err != nil {
		t.Fatalf("runMigrate(up) error = %v", err)
	}
	if got := strings.Count(out.String(), "applied"); got != 2 {
		t.Errorf("after up: %d applied, want 2\n%s", got, out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, []string{"down"}, &out); err != nil {
		t.Fatalf("runMigrate(down) error = %v", err)
	}
	if !strings.Contains(out.String(), "pending  20260302_090000  audit_log") {
		t.Errorf("after down: latest migration not pending\n%s", out.String())
	}
	if got := strings.Count(out.String(), "applied"); got != 1 {
		t.Errorf("after down: %d applied, want 1\n%s", got, out.String())
	}

	if err := runMigrate(ctx, []string{"sideways"}, &out); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("runMigrate(sideways) error = %v, want usage", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYMON_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYMON_CONFIG", "/etc/graymon/config.yaml")
	if got := getConfigPath(); got != "/etc/graymon/config.yaml" {
		t.Errorf("getConfigPath() = %q, want the environment value", got)
	}
}

func TestMonitorConfig(t *testing.T) {
	cfg := &config.Config{
		Rules: config.RulesConfig{
			Tick: 75, MaxCycles: 6, MaxDepth: 16, Workers: 4, QueueSize: 100, Timeout: 250,
		},
		Supervision: config.SupervisionConfig{
			SweepInterval: 5, Tolerance: 2, AliveRejectFactor: 3, SignalQueueSize: 64,
		},
		Commands: config.CommandsConfig{CheckInterval: 2},
	}

	got := monitorConfig(cfg)

	if got.Rules.Tick != 75*time.Millisecond {
		t.Errorf("Rules.Tick = %v, want 75ms", got.Rules.Tick)
	}
	if got.Rules.Timeout != 250*time.Millisecond {
		t.Errorf("Rules.Timeout = %v, want 250ms", got.Rules.Timeout)
	}
	if got.Rules.MaxCycles != 6 || got.Rules.MaxDepth != 16 || got.Rules.Workers != 4 || got.Rules.QueueSize != 100 {
		t.Errorf("Rules = %+v, want counts copied", got.Rules)
	}
	if got.Supervision.SweepInterval != 5*time.Second {
		t.Errorf("Supervision.SweepInterval = %v, want 5s", got.Supervision.SweepInterval)
	}
	if got.Supervision.Tolerance != 2 || got.Supervision.AliveRejectFactor != 3 || got.Supervision.SignalQueueSize != 64 {
		t.Errorf("Supervision = %+v, want factors copied", got.Supervision)
	}
	if got.CommandCheckInterval != 2*time.Second {
		t.Errorf("CommandCheckInterval = %v, want 2s", got.CommandCheckInterval)
	}
}

func TestBufferOptions(t *testing.T) {
	got := named(bufferOptions(config.CacheConfig{
		MinDelay: 50, MaxDelay: 1000, GrowThreshold: 100, QueueSize: 500,
	}), "history")

	want := cache.BufferOptions{
		Name:          "history",
		MinDelay:      50 * time.Millisecond,
		MaxDelay:      time.Second,
		GrowThreshold: 100,
		QueueSize:     500,
	}
	if got != want {
		t.Errorf("bufferOptions() = %+v, want %+v", got, want)
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}
