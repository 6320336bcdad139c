package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// FS holds the versioned schema shared by every dialect.
//
//go:embed sql/*.sql
var FS embed.FS

// Dialect names accepted by Up and Down.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// Result describes what a migration run changed.
type Result struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Up applies every pending migration to db.
func Up(db *sql.DB, dialect string) (*Result, error) {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return nil, err
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}
	return result(m, changed)
}

// Down rolls back the given number of migrations.
func Down(db *sql.DB, dialect string, steps int) (*Result, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := newMigrate(db, dialect)
	if err != nil {
		return nil, err
	}

	err = m.Steps(-steps)
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration down: %w", err)
	}
	return result(m, changed)
}

// Version reports the applied schema version without changing anything.
func Version(db *sql.DB, dialect string) (*Result, error) {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return nil, err
	}
	return result(m, false)
}

// newMigrate binds the embedded source to db. The returned instance is
// never closed because closing it would close db.
func newMigrate(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	source, err := iofs.New(FS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

func result(m *migrate.Migrate, changed bool) (*Result, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &Result{Changed: changed}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &Result{Version: version, Dirty: dirty, Changed: changed}, nil
}
