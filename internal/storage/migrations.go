package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func runMigrations(ctx context.Context, db *sql.DB) error {
	const bootstrapSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  version INTEGER NOT NULL
);

INSERT OR IGNORE INTO schema_migrations (id, version) VALUES (1, 1);
`
	if _, err := db.ExecContext(ctx, bootstrapSchema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}

	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE id = 1").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read sqlite schema version: %w", err)
	}
	if currentVersion > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, schemaVersion)
	}

	steps := []func(context.Context, *sql.Tx) error{
		2: migrateV2,
		3: migrateV3,
	}
	for version := currentVersion + 1; version <= schemaVersion; version++ {
		if err := applyMigration(ctx, db, version, steps[version]); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, step func(context.Context, *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite migration v%d transaction: %w", version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = step(ctx, tx); err != nil {
		return fmt.Errorf("run sqlite v%d migrations: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE schema_migrations SET version = ? WHERE id = 1", version); err != nil {
		return fmt.Errorf("update sqlite schema version to %d: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite v%d migrations: %w", version, err)
	}
	return nil
}

func migrateV2(ctx context.Context, tx *sql.Tx) error {
	const schema = `
CREATE TABLE IF NOT EXISTS recurring_items (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
  label TEXT NOT NULL,
  amount TEXT NOT NULL,
  frequency TEXT NOT NULL,
  anchor_date TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  last_confirmed_at TEXT,
  revision INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recurring_items_kind ON recurring_items(kind);

CREATE TABLE IF NOT EXISTS reminder_records (
  item_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  handle TEXT NOT NULL,
  scheduled_for TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_reminders (
  handle TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  slot TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL,
  channel TEXT NOT NULL,
  trigger_at TEXT NOT NULL,
  trigger_unix INTEGER NOT NULL,
  occurrence_date TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_reminders_trigger_unix ON scheduled_reminders(trigger_unix);
CREATE INDEX IF NOT EXISTS idx_scheduled_reminders_item_id ON scheduled_reminders(item_id);

CREATE TABLE IF NOT EXISTS payment_history (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  occurrence_date TEXT NOT NULL,
  paid_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payment_history_occurrence_date ON payment_history(occurrence_date);

CREATE TABLE IF NOT EXISTS monthly_totals (
  month TEXT PRIMARY KEY,
  confirmed_income TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS app_config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
  collection TEXT PRIMARY KEY,
  last_success_at TEXT,
  last_attempt_at TEXT,
  last_error TEXT
);
`
	_, err := tx.ExecContext(ctx, schema)
	return err
}

// migrateV3 tracks consecutive mirror failures so the dashboard can flag a
// mirror that keeps failing.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	has, err := tableHasColumn(ctx, tx, "sync_state", "consecutive_failures")
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE sync_state ADD COLUMN consecutive_failures INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("add sync_state.consecutive_failures column: %w", err)
	}
	return nil
}

func tableHasColumn(ctx context.Context, tx *sql.Tx, tableName, columnName string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, fmt.Errorf("query table info for %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name         string
			ctype        sql.NullString
			notNull      int
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("scan table info for %s: %w", tableName, err)
		}
		if name == columnName {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("read table info rows for %s: %w", tableName, err)
	}
	return false, nil
}
