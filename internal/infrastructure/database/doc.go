// Package database opens the monitor's SQLite file and migrates it.
//
// The file holds the tag, entity and command configuration read at
// start-up, the tag update log and the audit trail. One connection is
// kept open, in WAL mode by default, so configuration reads do not wait
// on the update log writer.
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
//
// Migrations only add: new columns are nullable or carry a default, and
// every .up.sql ships with a .down.sql.
package database
