package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Database owns the process-wide connection pool. The relational store is the
// single source of truth for every cross-request invariant; connections are
// checked out per query or per transaction, never held across provider calls.
type Database struct {
	db     *sql.DB
	driver string
	logger arbor.ILogger
	config *common.DatabaseConfig
}

// NewDatabase opens the pool. With DATABASE_HOST set the postgres driver is
// used; otherwise a local SQLite file (or ":memory:" in tests) through the
// same database/sql code paths.
func NewDatabase(config *common.DatabaseConfig, logger arbor.ILogger) (*Database, error) {
	var (
		db     *sql.DB
		driver string
		err    error
	)

	if config.Host != "" {
		driver = "postgres"
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
			config.Host, config.Port, config.Name, config.User, config.Password)
		db, err = sql.Open(driver, dsn)
	} else {
		driver = "sqlite"
		if config.SQLitePath != ":memory:" {
			if mkErr := os.MkdirAll(filepath.Dir(config.SQLitePath), 0755); mkErr != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", mkErr)
			}
		}
		db, err = sql.Open(driver, config.SQLitePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.PoolMax > 0 {
		db.SetMaxOpenConns(config.PoolMax)
	}
	if driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY churn under worker concurrency.
		db.SetMaxOpenConns(1)
	}

	d := &Database{
		db:     db,
		driver: driver,
		logger: logger,
		config: config,
	}

	if err := d.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := d.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("driver", driver).Msg("Database initialized")
	return d, nil
}

// configure applies driver-specific settings.
func (d *Database) configure() error {
	if d.driver != "sqlite" {
		return nil
	}
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// DB returns the underlying pool.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the pool.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Ping verifies the connection.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction, guaranteeing rollback on every
// non-commit exit path, including panics.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
