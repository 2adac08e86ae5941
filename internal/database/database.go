// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/lib/pq"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
)

// DB wraps the SQL connection pool and provides data access for matches and
// profiles.
type DB struct {
	conn          *sql.DB
	cfg           *config.DatabaseConfig
	dialect       dialect
	notifyChannel string
}

// Option configures a DB.
type Option func(*DB)

// WithNotifyChannel sets the channel the Postgres change trigger notifies.
// It has no effect with DuckDB.
func WithNotifyChannel(channel string) Option {
	return func(db *DB) { db.notifyChannel = channel }
}

// New opens the configured datastore, verifies the connection and, unless
// disabled, applies pending migrations.
func New(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (*DB, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == config.DriverDuckDB {
		dsn = cfg.Path
		if dsn != "" && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}

	db := &DB{conn: conn, cfg: cfg, dialect: d, notifyChannel: "tandem_changes"}
	for _, opt := range opts {
		opt(db)
	}
	db.configureConnectionPool()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.name, err)
	}

	if cfg.Migrate {
		if err := db.Migrate(ctx); err != nil {
			closeQuietly(conn)
			return nil, err
		}
	}

	logging.Info().
		Str("driver", d.name).
		Bool("migrated", cfg.Migrate).
		Msg("Database ready")
	return db, nil
}

// configureConnectionPool sizes the pool. DuckDB is embedded and serializes
// writers, so a small pool bounded by CPU count is enough.
func (db *DB) configureConnectionPool() {
	maxOpen := db.cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
		if db.dialect.name == config.DriverPostgres {
			maxOpen *= 2
		}
	}
	db.conn.SetMaxOpenConns(maxOpen)
	db.conn.SetMaxIdleConns(maxOpen)
	db.conn.SetConnMaxLifetime(30 * time.Minute)
}

// Driver returns the configured driver name.
func (db *DB) Driver() string { return db.dialect.name }

// Conn exposes the pool for tests and tooling.
func (db *DB) Conn() *sql.DB { return db.conn }

// Ping reports whether the datastore is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases the pool.
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// dialect captures the SQL differences between the supported engines.
type dialect struct {
	name      string
	driver    string
	timestamp string
	// forUpdate is appended to row reads inside write transactions.
	forUpdate string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return dialect{name: driver, driver: "postgres", timestamp: "TIMESTAMPTZ", forUpdate: " FOR UPDATE"}, nil
	case config.DriverDuckDB, "":
		// DuckDB uses optimistic concurrency and has no row locks.
		return dialect{name: config.DriverDuckDB, driver: "duckdb", timestamp: "TIMESTAMP"}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// now returns the write timestamp truncated to the precision both engines
// store, so the revision returned to callers equals the persisted one.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
