// Package migrations embeds the accounts service's PostgreSQL schema.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
