// Package migrations embeds the SQL schema of the monitor database so the
// binary can migrate without the files on disk.
package migrations

import "embed"

// FS holds every *.sql file of this directory at its root.
//
//go:embed *.sql
var FS embed.FS
