// Package migrations embeds the schema migration files applied by the
// engine's migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists migrations in apply order.
var Files = []string{
	"001_create_agent_runs.sql",
	"002_create_schedules.sql",
	"003_create_experiments.sql",
	"004_create_attribution.sql",
}
