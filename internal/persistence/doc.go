// Package persistence stores the monitor configuration and the tag update
// log in SQLite.
//
// SQLiteRepository is the start-up loader: it returns every tag, supervised
// entity and command tag so the caches can be seeded before ingest opens.
// UpdateLog listens on the tag store and appends accepted updates to
// tag_log, spilling to a fallback queue while the database is unavailable.
package persistence
