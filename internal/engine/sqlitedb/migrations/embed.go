// Package migrations embeds the base schema for the sqlitedb reference
// engine, applied via goose before any per-entity table is created.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
