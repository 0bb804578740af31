package audit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-monitor/migrations"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "graymon.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(openDB(t))
	repo.now = func() time.Time { return t0 }

	e := &Entry{Action: ActionTagConfigure, EntityType: "tag", EntityID: 1, Subject: "alice"}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" {
		t.Error("Create() should generate an ID")
	}
	if !e.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, t0)
	}
	if e.Source != SourceAPI {
		t.Errorf("Source = %q, want %q", e.Source, SourceAPI)
	}
}

func TestCreate_RejectsIncompleteEntry(t *testing.T) {
	repo := NewSQLiteRepository(openDB(t))

	err := repo.Create(context.Background(), &Entry{EntityType: "tag", EntityID: 1})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Create() error = %v, want ErrInvalidEntry", err)
	}
}

func TestList_NewestFirstWithDetails(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openDB(t))

	entries := []*Entry{
		{Action: ActionTagConfigure, EntityType: "tag", EntityID: 1, Subject: "alice", CreatedAt: t0},
		{Action: ActionSupervisionStop, EntityType: "equipment", EntityID: 10, CreatedAt: t0.Add(time.Second),
			Details: map[string]any{"timestamp": "2026-03-01T12:00:01Z"}},
		{Action: ActionCommandExecute, EntityType: "command", EntityID: 300, Subject: "bob", CreatedAt: t0.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Entries) != 3 {
		t.Fatalf("List() total=%d len=%d, want 3 and 3", res.Total, len(res.Entries))
	}
	if res.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, DefaultLimit)
	}

	got := res.Entries
	if got[0].Action != ActionCommandExecute || got[2].Action != ActionTagConfigure {
		t.Errorf("order = %s, %s, %s; want newest first", got[0].Action, got[1].Action, got[2].Action)
	}
	if got[1].Details["timestamp"] != "2026-03-01T12:00:01Z" {
		t.Errorf("Details = %v, want the timestamp kept", got[1].Details)
	}
	if got[1].Subject != "" {
		t.Errorf("Subject = %q, want empty", got[1].Subject)
	}
	if !got[0].CreatedAt.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, t0.Add(2*time.Second))
	}
}

func TestList_FiltersAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openDB(t))

	for i := range 5 {
		e := &Entry{Action: ActionTagConfigure, EntityType: "tag", EntityID: int64(i % 2), CreatedAt: t0.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.Create(ctx, &Entry{Action: ActionSupervisionStart, EntityType: "process", EntityID: 1, CreatedAt: t0}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantLen   int
	}{
		{"by action", Filter{Action: ActionTagConfigure}, 5, 5},
		{"by entity type", Filter{EntityType: "process"}, 1, 1},
		{"by entity", Filter{EntityType: "tag", EntityID: 1}, 2, 2},
		{"paged", Filter{Limit: 2, Offset: 4}, 6, 2},
		{"offset past end", Filter{Offset: 10}, 6, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantLen {
				t.Errorf("List() total=%d len=%d, want %d and %d", res.Total, len(res.Entries), tt.wantTotal, tt.wantLen)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(openDB(t))

	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("List() limit=%d offset=%d, want %d and 0", res.Limit, res.Offset, MaxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}
