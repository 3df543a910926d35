// Package migrations embeds the SQL schema applied by goose.
package migrations

import "embed"

// FS holds the PostgreSQL migrations.
//
//go:embed *.sql
var FS embed.FS

// SQLiteFS holds the SQLite migrations.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS
