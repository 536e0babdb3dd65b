// Package migrations embeds the bridge's SQL schema migrations.
//
// Pass FS to database.DB.Migrate; the files are compiled into the binary
// so the bridge runs without them on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
