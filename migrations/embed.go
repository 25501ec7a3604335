// Package migrations embeds the SQL migration files.
package migrations

import "embed"

// FS holds the goose migration files applied at startup.
//
//go:embed *.sql
var FS embed.FS
