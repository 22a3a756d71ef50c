package auth

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the schema migration files bundled with this
// package. RunMigrations applies them; callers needing their own
// migrator can discover from the raw FS instead.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
