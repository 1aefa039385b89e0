// Package migrations embeds the goose SQL migrations for the SQL-backed
// key-value stores.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS
