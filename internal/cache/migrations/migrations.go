// Package migrations owns the cache schema and its version handling. SQL
// migration files are embedded into the binary; an out-of-date cache is
// brought up to the current version on open, anything the binary cannot
// handle is rejected before the first query runs.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Status describes the cache schema relative to the embedded migrations.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool
	Fresh   bool // no schema version recorded at all (empty cache file)
}

// Check inspects the schema version of db without modifying it.
func Check(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, fmt.Errorf("creating migrate instance: %w", err)
	}
	// m is not closed: closing it would close the caller-owned db connection.

	latest, err := latestVersion()
	if err != nil {
		return Status{}, fmt.Errorf("reading embedded migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return Status{Latest: latest, Fresh: true}, nil
		}
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}

	return Status{Version: version, Latest: latest, Dirty: dirty}, nil
}

// Up applies all pending migrations, bringing db to the latest version.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("creating source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("creating database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// latestVersion returns the highest version among the embedded migrations.
func latestVersion() (uint, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, err
	}
	defer sourceDriver.Close()

	version, err := sourceDriver.First()
	if err != nil {
		return 0, err
	}
	for {
		// Next returns an error once no later migration exists.
		next, err := sourceDriver.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}
