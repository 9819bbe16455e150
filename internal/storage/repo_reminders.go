package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
)

// RemindersRepo stores the item to canonical reminder mapping.
type RemindersRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewRemindersRepo(db *sql.DB) *RemindersRepo {
	return &RemindersRepo{db: db, now: time.Now}
}

func (r *RemindersRepo) Get(ctx context.Context, itemID string) (ledger.ReminderRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT item_id, kind, handle, scheduled_for FROM reminder_records WHERE item_id = ?`, itemID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ReminderRecord{}, false, nil
		}
		return ledger.ReminderRecord{}, false, fmt.Errorf("query reminder record %q: %w", itemID, err)
	}
	return rec, true, nil
}

func (r *RemindersRepo) Put(ctx context.Context, rec ledger.ReminderRecord) error {
	const q = `
INSERT INTO reminder_records (item_id, kind, handle, scheduled_for, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(item_id) DO UPDATE SET
	kind = excluded.kind,
	handle = excluded.handle,
	scheduled_for = excluded.scheduled_for,
	updated_at = excluded.updated_at
`
	if _, err := r.db.ExecContext(ctx, q, rec.ItemID, string(rec.Kind), rec.Handle, formatTime(rec.ScheduledFor), formatTime(r.now())); err != nil {
		return fmt.Errorf("upsert reminder record %q: %w", rec.ItemID, err)
	}
	return nil
}

func (r *RemindersRepo) Delete(ctx context.Context, itemID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reminder_records WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete reminder record %q: %w", itemID, err)
	}
	return nil
}

func (r *RemindersRepo) List(ctx context.Context) ([]ledger.ReminderRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item_id, kind, handle, scheduled_for FROM reminder_records ORDER BY scheduled_for`)
	if err != nil {
		return nil, fmt.Errorf("query reminder records: %w", err)
	}
	defer rows.Close()

	var out []ledger.ReminderRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reminder record rows: %w", err)
	}
	return out, nil
}

func scanRecord(row rowScanner) (ledger.ReminderRecord, error) {
	var (
		rec          ledger.ReminderRecord
		kind         string
		scheduledFor string
	)
	if err := row.Scan(&rec.ItemID, &kind, &rec.Handle, &scheduledFor); err != nil {
		return ledger.ReminderRecord{}, err
	}
	rec.Kind = ledger.Kind(kind)
	t, err := parseTime("scheduled_for", scheduledFor)
	if err != nil {
		return ledger.ReminderRecord{}, err
	}
	rec.ScheduledFor = t
	return rec, nil
}
