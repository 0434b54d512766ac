package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/skdvlpr/gomercatocrm/internal/store/migrations"
)

// SchemaVersion is the newest migration embedded in this build.
const SchemaVersion = 2

var (
	// ErrDirtySchema means a previous migration stopped halfway and the
	// database needs manual repair.
	ErrDirtySchema = errors.New("message store schema is dirty")
	// ErrNewerSchema means the database was migrated by a newer build.
	ErrNewerSchema = errors.New("message store schema is newer than this build")
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate brings the schema up to SchemaVersion. It refuses dirty databases
// and databases written by a newer build.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	switch {
	case dirty:
		return nil, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	case from > SchemaVersion:
		return nil, fmt.Errorf("%w (%d > %d)", ErrNewerSchema, from, SchemaVersion)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up from %d: %w", from, err)
	}

	to, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &MigrateResult{From: from, Version: to, Changed: to != from}, nil
}
