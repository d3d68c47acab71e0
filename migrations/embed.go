// Package migrations embeds the SQLite schema so the binary can migrate
// without the SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/pglive/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
