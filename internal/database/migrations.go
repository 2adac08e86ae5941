// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/logging"
)

// Migration is one versioned schema change. Migrations are append-only:
// never modify or remove one that has shipped.
type Migration struct {
	Version     int
	Name        string
	Description string
	Statements  []string
	// Drivers limits the migration to the named drivers. Empty means all.
	Drivers   []string
	AppliedAt time.Time
}

// notifyPayloadLimit keeps trigger payloads under the 8000 byte NOTIFY limit.
const notifyPayloadLimit = 7900

func (db *DB) schemaMigrationsTable() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, db.dialect.timestamp)
}

// getMigrations returns every migration in version order.
func (db *DB) getMigrations() []Migration {
	ts := db.dialect.timestamp
	return []Migration{
		{
			Version:     1,
			Name:        "create_profiles",
			Description: "Public profile shown to a match counterpart",
			Statements: []string{`
CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT ''
)`},
		},
		{
			Version:     2,
			Name:        "create_matches",
			Description: "Two-party relationships; updated_at is the row revision",
			Statements: []string{
				fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	user_a_id TEXT NOT NULL,
	user_b_id TEXT NOT NULL,
	status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at %[1]s NOT NULL,
	updated_at %[1]s NOT NULL
)`, ts),
				`CREATE INDEX IF NOT EXISTS idx_matches_user_a ON matches (user_a_id)`,
				`CREATE INDEX IF NOT EXISTS idx_matches_user_b ON matches (user_b_id)`,
			},
		},
		{
			Version:     3,
			Name:        "matches_notify_trigger",
			Description: "Emit a JSON change notification for every row change on matches",
			Drivers:     []string{config.DriverPostgres},
			Statements: []string{
				notifyFunctionSQL(db.notifyChannel),
				`DROP TRIGGER IF EXISTS matches_notify_change ON matches`,
				`CREATE TRIGGER matches_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON matches
	FOR EACH ROW EXECUTE FUNCTION tandem_notify_change()`,
			},
		},
	}
}

// notifyFunctionSQL builds the trigger function. Payloads too large for
// NOTIFY keep only the id of the new row, which the capture bridge resolves
// with a lookup, and the participants of the old row, which cannot be looked
// up once deleted.
func notifyFunctionSQL(channel string) string {
	return fmt.Sprintf(`
CREATE OR REPLACE FUNCTION tandem_notify_change() RETURNS trigger AS $$
DECLARE
	new_row JSONB;
	old_row JSONB;
	payload TEXT;
BEGIN
	IF TG_OP <> 'DELETE' THEN
		new_row := to_jsonb(NEW);
	END IF;
	IF TG_OP <> 'INSERT' THEN
		old_row := to_jsonb(OLD);
	END IF;
	payload := jsonb_build_object(
		'table', TG_TABLE_NAME,
		'operation', TG_OP,
		'new_row', new_row,
		'old_row', old_row,
		'committed_at', now())::text;
	IF octet_length(payload) > %d THEN
		payload := jsonb_build_object(
			'table', TG_TABLE_NAME,
			'operation', TG_OP,
			'new_row', CASE WHEN new_row IS NULL THEN NULL
				ELSE jsonb_build_object('id', new_row->'id') END,
			'old_row', CASE WHEN old_row IS NULL THEN NULL
				ELSE jsonb_build_object('id', old_row->'id',
					'user_a_id', old_row->'user_a_id',
					'user_b_id', old_row->'user_b_id') END,
			'committed_at', now())::text;
	END IF;
	PERFORM pg_notify(%s, payload);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, notifyPayloadLimit, pq.QuoteLiteral(channel))
}

func (m Migration) appliesTo(driver string) bool {
	if len(m.Drivers) == 0 {
		return true
	}
	for _, d := range m.Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]Migration, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version, name, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer closeQuietly(rows)

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration for the configured driver. Each
// migration runs in its own transaction together with its bookkeeping row.
func (db *DB) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, db.schemaMigrationsTable()); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	newMigrations := 0
	for _, m := range db.getMigrations() {
		if _, done := applied[m.Version]; done || !m.appliesTo(db.dialect.name) {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return err
		}
		newMigrations++
	}

	if newMigrations > 0 {
		logging.Info().Int("count", newMigrations).Str("driver", db.dialect.name).Msg("Applied database migrations")
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration v%d: %w", m.Version, err)
	}
	defer rollbackQuietly(tx)

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, description) VALUES ($1, $2, $3)`,
		m.Version, m.Name, m.Description); err != nil {
		return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// MigrationHistory lists applied migrations in order.
func (db *DB) MigrationHistory(ctx context.Context) ([]Migration, error) {
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(applied))
	for _, m := range db.getMigrations() {
		if a, ok := applied[m.Version]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
