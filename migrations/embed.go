// Package migrations embeds SQL migration files into the binary.
//
// The files are portable between SQLite and Postgres so the same set
// serves either durable driver. Importing the package registers them.
package migrations

import (
	"embed"

	"github.com/nerrad567/crm-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// FS returns the embedded migration files.
func FS() embed.FS {
	return files
}

func init() {
	database.RegisterMigrations(files)
}
