// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order. Every file is idempotent.
var Files = []string{
	"001_create_tasks.sql",
	"002_create_reminder_index.sql",
}
