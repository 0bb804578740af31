package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-monitor/migrations"
)

const migrateUsage = "usage: graymon migrate [status|up|down]"

// runMigrate manages the schema without starting the service:
//
//	graymon migrate status   list applied and pending migrations
//	graymon migrate up       apply pending migrations
//	graymon migrate down     roll back the latest migration
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 || (action != "status" && action != "up" && action != "down") {
		return fmt.Errorf("%s", migrateUsage)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly tool, close errors are not actionable

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
