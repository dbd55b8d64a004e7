package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"odisea.app/cloud/internal/logger"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func newMigrator(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	switch dialect {
	case DialectPostgres:
		driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", source, "pgx5", driver)
	case DialectSQLite:
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// runMigrations uses a dedicated connection pool: closing the migrator also
// closes the *sql.DB handed to its driver.
func runMigrations(driver, dsn, dialect string, dir Direction) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}

	m, err := newMigrator(db, dialect)
	if err != nil {
		db.Close()
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator", map[string]interface{}{
				"source_error": fmt.Sprint(srcErr),
				"db_error":     fmt.Sprint(dbErr),
			})
		}
	}()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("Schema already current", map[string]interface{}{"dialect": dialect})
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, verr := m.Version()
	if verr == nil {
		logger.Info("Schema migrated", map[string]interface{}{
			"dialect":   dialect,
			"direction": string(dir),
			"version":   version,
			"dirty":     dirty,
		})
	}
	return nil
}
