// Package migrations embeds the SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
