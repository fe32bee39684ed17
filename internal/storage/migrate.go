package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Migrate applies every pending up migration for the dialect ("sqlite" or
// "postgres"). The connection stays open.
func Migrate(conn *sql.DB, dialectName string) error {
	m, src, err := newMigrator(conn, dialectName)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrateDown reverts every applied migration.
func MigrateDown(conn *sql.DB, dialectName string) error {
	m, src, err := newMigrator(conn, dialectName)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func MigrationVersion(conn *sql.DB, dialectName string) (uint, bool, error) {
	m, src, err := newMigrator(conn, dialectName)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrator(conn *sql.DB, dialectName string) (*migrate.Migrate, interface{ Close() error }, error) {
	src, err := iofs.New(migrations, "migrations/"+dialectName)
	if err != nil {
		return nil, nil, fmt.Errorf("create migration source: %w", err)
	}

	var driver database.Driver
	switch dialectName {
	case sqliteDialect.name:
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	case postgresDialect.name:
		driver, err = migratepgx.WithInstance(conn, &migratepgx.Config{})
	default:
		err = fmt.Errorf("unknown dialect %q", dialectName)
	}
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialectName, driver)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, src, nil
}

// SQLConn exposes the underlying connection and dialect for maintenance commands.
func (d *DB) SQLConn() (*sql.DB, string) {
	return d.conn, d.dialect.name
}
