// Package database is the persistence gateway for per-tenant message tables.
// SQLite (mattn/go-sqlite3) and PostgreSQL (pgx stdlib) share one code path
// through database/sql.
package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/errors"
	"whatsrelay/internal/migrations"
	"whatsrelay/internal/models"
	"whatsrelay/internal/retry"
	"whatsrelay/internal/security"
	"whatsrelay/internal/tenant"
	pkgconstants "whatsrelay/pkg/constants"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Supported dialects
const (
	DialectSQLite   = migrations.DialectSQLite
	DialectPostgres = migrations.DialectPostgres
)

// ErrTableNotProvisioned is returned for operations on a table that was
// never passed through EnsureTenantTable.
var ErrTableNotProvisioned = stderrors.New("table is not provisioned")

type Database struct {
	db        *sql.DB
	dialect   string
	encryptor *encryptor
	logger    logrus.FieldLogger
	now       func() time.Time

	mu     sync.RWMutex
	tables map[string]string
}

// New opens the configured store, applies pending migrations and returns a
// gateway with an empty table allow-list.
func New(ctx context.Context, cfg models.DatabaseConfig, logger logrus.FieldLogger) (*Database, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	enc, err := newEncryptor(cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	db, dialect, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := migrations.Up(db, dialect)
	if err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to apply migrations: %w", err))
	}
	logger.WithFields(logrus.Fields{
		"dialect":        dialect,
		"schema_version": res.Version,
		"migrated":       res.Changed,
	}).Info("Database ready")

	return &Database{
		db:        db,
		dialect:   dialect,
		encryptor: enc,
		logger:    logger,
		now:       time.Now,
		tables:    make(map[string]string),
	}, nil
}

// Open connects to the configured store and waits for it to answer a ping.
// It returns the handle together with the resolved dialect name.
func Open(ctx context.Context, cfg models.DatabaseConfig) (*sql.DB, string, error) {
	dialect, err := ResolveDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = openSQLite(cfg.Path)
	case DialectPostgres:
		db, err = openPostgres(cfg.DSN)
	}
	if err != nil {
		return nil, "", err
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = constants.DefaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = constants.DefaultMaxIdleConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	startup := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultStartupPingAttempts,
		Jitter:       true,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logrus.WithFields(logrus.Fields{
				"dialect": dialect,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(err).Warn("Database not reachable yet, retrying")
		},
	})
	if err := startup.Retry(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		connErr := errors.Wrap(err, errors.ErrCodeDatabaseConnection, "database not reachable").
			WithContext("dialect", dialect).
			WithContext("attempts", constants.DefaultStartupPingAttempts)
		return nil, "", closeOnError(db, connErr)
	}

	return db, dialect, nil
}

// ResolveDialect maps a configured driver name to a dialect.
func ResolveDialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = constants.DefaultDatabasePath
	}
	if path[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, pkgconstants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?"+constants.SQLiteConnectionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres driver requires a dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func closeOnError(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Dialect() string {
	return d.dialect
}

// EnsureTenantTable creates the message table for phoneNumberID if needed,
// records ownership in the catalogue and admits the table to the allow-list.
// A table already claimed by a different phone number id is rejected.
func (d *Database) EnsureTenantTable(ctx context.Context, table tenant.Table, phoneNumberID string) error {
	if table.IsZero() {
		return fmt.Errorf("cannot provision a zero table")
	}
	name := table.String()

	err := retryableDBOperation(ctx, func() error {
		if _, err := d.db.ExecContext(ctx, forTable(createMessageTableQuery, name)); err != nil {
			return err
		}
		if _, err := d.db.ExecContext(ctx, forTable(createMessageIndexQuery, name)); err != nil {
			return err
		}
		_, err := d.db.ExecContext(ctx, rebind(d.dialect, claimTableQuery), name, phoneNumberID, d.now().UnixMilli())
		return err
	}, "provision tenant table")
	if err != nil {
		return fmt.Errorf("failed to provision table %s: %w", name, err)
	}

	var owner string
	if err := d.db.QueryRowContext(ctx, rebind(d.dialect, selectTableOwnerQuery), name).Scan(&owner); err != nil {
		return fmt.Errorf("failed to read owner of table %s: %w", name, err)
	}
	if owner != phoneNumberID {
		return fmt.Errorf("table %s already belongs to phone number id %s", name, owner)
	}

	d.mu.Lock()
	d.tables[name] = phoneNumberID
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"table":           name,
		"phone_number_id": phoneNumberID,
	}).Debug("Tenant table provisioned")
	return nil
}

// ProvisionTenants runs EnsureTenantTable for every tenant.
func (d *Database) ProvisionTenants(ctx context.Context, tenants []tenant.Tenant) error {
	for _, t := range tenants {
		if err := d.EnsureTenantTable(ctx, t.Table, t.PhoneNumberID); err != nil {
			return err
		}
	}
	return nil
}

// allowed returns the table name after checking it against the allow-list.
func (d *Database) allowed(table tenant.Table) (string, error) {
	name := table.String()
	d.mu.RLock()
	_, ok := d.tables[name]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTableNotProvisioned, name)
	}
	return name, nil
}
