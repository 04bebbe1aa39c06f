// Package db owns the sqlite connection setup and the embedded schema migrations.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// DSN builds a sqlite data source name with the pragmas every connection needs.
// Paths that already carry a "file:" scheme or query string are extended, not replaced.
func DSN(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// Open opens the sqlite database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("while opening database '%s': %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("while connecting to database '%s': %w", path, err)
	}
	return db, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("while loading embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("while preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("while preparing migrations: %w", err)
	}
	return m, nil
}

// Migrate applies every pending up migration. The database handle stays open.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	logger.Info("applying migrations")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("while applying migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Rollback reverts the given number of migrations.
func Rollback(db *sql.DB, logger *zap.Logger, steps int) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	logger.Info("reverting migrations", zap.Int("steps", steps))
	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("while reverting migrations: %w", err)
	}
	return nil
}
