package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationsDir is the default location of the SQL migration files,
// relative to the working directory.
const MigrationsDir = "file://migrations"

// Migrate applies schema migrations. direction is "up" or "down"; steps
// limits how many are applied, 0 means all.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = MigrationsDir
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return fmt.Errorf("migrate: no database DSN configured")
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	switch direction {
	case "", "up":
		if steps == 0 {
			err = m.Up()
		} else {
			err = m.Steps(steps)
		}
	case "down":
		if steps == 0 {
			err = m.Down()
		} else {
			err = m.Steps(-steps)
		}
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
