package auth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds the SQL migrations embedded with the package,
// discovered at init.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(migrationsFS); err != nil {
		panic(err)
	}
}

// RunMigrations applies any pending schema migrations, creating the
// migration bookkeeping tables on first run. It locks the migrator so
// concurrent starters do not race each other.
func RunMigrations(ctx context.Context, db *bun.DB) error {
	migrator := migrate.NewMigrator(db, Migrations)

	if err := migrator.Init(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to initialize migrator")
	}

	if err := migrator.Lock(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to acquire migration lock")
	}
	defer migrator.Unlock(ctx)

	if _, err := migrator.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "migration failed")
	}

	return nil
}

// RollbackMigrations reverts the most recent migration group.
func RollbackMigrations(ctx context.Context, db *bun.DB) error {
	migrator := migrate.NewMigrator(db, Migrations)

	if err := migrator.Lock(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to acquire migration lock")
	}
	defer migrator.Unlock(ctx)

	if _, err := migrator.Rollback(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "rollback failed")
	}

	return nil
}
