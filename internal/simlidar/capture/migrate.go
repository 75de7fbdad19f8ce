package capture

import (
	"embed"
	"errors"
	"fmt"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateUp applies every pending migration. Being current is not an error.
func (s *Store) MigrateUp() error {
	return s.withMigrate("up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts the newest applied migration.
func (s *Store) MigrateDown() error {
	return s.withMigrate("down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateVersion reports the schema version and dirty flag; an unmigrated
// database is version 0.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	err = s.withMigrate("version", func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// withMigrate runs fn against a migrator bound to the store's connection.
// The migrator is not closed: that would close the shared *sql.DB.
func (s *Store) withMigrate(op string, fn func(*migrate.Migrate) error) error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("capture schema %s: %w", op, err)
	}
	return nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{MigrationsTable: "capture_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("capture schema driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("capture schema migrator: %w", err)
	}
	m.Log = diagMigrateLog{}
	return m, nil
}

// diagMigrateLog sends migrate's progress to the diag stream.
type diagMigrateLog struct{}

func (diagMigrateLog) Printf(format string, v ...interface{}) {
	simlidar.Diagf("capture schema: "+format, v...)
}

func (diagMigrateLog) Verbose() bool { return simlidar.Enabled(simlidar.StreamTrace) }
