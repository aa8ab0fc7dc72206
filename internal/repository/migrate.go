package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/opensource-finance/aura/internal/domain"
)

//go:embed migrations
var migrations embed.FS

// runMigrations applies all pending migrations for the configured driver.
// It uses its own connection because closing the migrator closes the
// database handle it was given.
func runMigrations(cfg domain.RepositoryConfig) error {
	var (
		db  *sql.DB
		drv database.Driver
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		if db, err = openSQLite(cfg); err != nil {
			return err
		}
		drv, err = sqlite.WithInstance(db, &sqlite.Config{})
	case "postgres":
		if db, err = openPostgres(cfg); err != nil {
			return err
		}
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations/"+cfg.Driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, cfg.Driver, drv)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
