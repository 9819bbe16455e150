package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/reminder"
)

// ReminderQueue is a reminder subsystem backed by the local database. Pending
// reminders wait in scheduled_reminders until ClaimDue hands them out.
type ReminderQueue struct {
	db  *sql.DB
	now func() time.Time
}

func NewReminderQueue(db *sql.DB) *ReminderQueue {
	return &ReminderQueue{db: db, now: time.Now}
}

func (q *ReminderQueue) Schedule(ctx context.Context, req reminder.Request) (string, error) {
	if req.TriggerAt.IsZero() {
		return "", errors.New("reminder trigger time is required")
	}
	sc := reminder.Scheduled{Handle: uuid.NewString(), Request: req}
	if err := q.insert(ctx, sc); err != nil {
		return "", err
	}
	return sc.Handle, nil
}

// Requeue restores a claimed reminder under its original handle. A handle
// that is already queued is left as it is.
func (q *ReminderQueue) Requeue(ctx context.Context, sc reminder.Scheduled) error {
	if sc.Handle == "" {
		return errors.New("reminder handle is required")
	}
	return q.insert(ctx, sc)
}

func (q *ReminderQueue) insert(ctx context.Context, sc reminder.Scheduled) error {
	const insert = `
INSERT INTO scheduled_reminders (
	handle,
	item_id,
	kind,
	slot,
	title,
	body,
	channel,
	trigger_at,
	trigger_unix,
	occurrence_date,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(handle) DO NOTHING
`
	if _, err := q.db.ExecContext(
		ctx,
		insert,
		sc.Handle,
		sc.ItemID,
		string(sc.Kind),
		string(sc.Slot),
		sc.Title,
		sc.Body,
		sc.Channel,
		sc.TriggerAt.Format(time.RFC3339Nano),
		sc.TriggerAt.Unix(),
		recurrence.FormatDate(sc.OccurrenceDate),
		formatTime(q.now()),
	); err != nil {
		return fmt.Errorf("insert scheduled reminder %q: %w", sc.Handle, err)
	}
	return nil
}

func (q *ReminderQueue) Cancel(ctx context.Context, handle string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM scheduled_reminders WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("delete scheduled reminder %q: %w", handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scheduled reminder %q: %w", handle, err)
	}
	if n == 0 {
		return fmt.Errorf("handle %q: %w", handle, reminder.ErrReminderNotFound)
	}
	return nil
}

const reminderColumns = `handle, item_id, kind, slot, title, body, channel, trigger_at, occurrence_date`

func (q *ReminderQueue) List(ctx context.Context) ([]reminder.Scheduled, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+reminderColumns+` FROM scheduled_reminders ORDER BY trigger_unix, handle`)
	if err != nil {
		return nil, fmt.Errorf("query scheduled reminders: %w", err)
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// ClaimDue removes and returns up to limit reminders whose trigger time is at
// or before now. A claimed reminder is never handed out twice.
func (q *ReminderQueue) ClaimDue(ctx context.Context, now time.Time, limit int) (claimed []reminder.Scheduled, err error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT `+reminderColumns+` FROM scheduled_reminders WHERE trigger_unix <= ? ORDER BY trigger_unix, handle LIMIT ?`,
		now.Unix(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	claimed, err = scanScheduled(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		err = tx.Commit()
		return nil, err
	}

	placeholders := make([]string, len(claimed))
	args := make([]any, len(claimed))
	for i, sc := range claimed {
		placeholders[i] = "?"
		args[i] = sc.Handle
	}
	del := fmt.Sprintf("DELETE FROM scheduled_reminders WHERE handle IN (%s)", strings.Join(placeholders, ","))
	if _, err = tx.ExecContext(ctx, del, args...); err != nil {
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim transaction: %w", err)
	}
	return claimed, nil
}

func scanScheduled(rows *sql.Rows) ([]reminder.Scheduled, error) {
	var out []reminder.Scheduled
	for rows.Next() {
		var (
			sc         reminder.Scheduled
			kind       string
			slot       string
			triggerAt  string
			occurrence string
		)
		if err := rows.Scan(&sc.Handle, &sc.ItemID, &kind, &slot, &sc.Title, &sc.Body, &sc.Channel, &triggerAt, &occurrence); err != nil {
			return nil, fmt.Errorf("scan scheduled reminder: %w", err)
		}
		sc.Kind = ledger.Kind(kind)
		sc.Slot = reminder.Slot(slot)
		var err error
		if sc.TriggerAt, err = parseTime("trigger_at", triggerAt); err != nil {
			return nil, err
		}
		if sc.OccurrenceDate, err = parseDateColumn("occurrence_date", occurrence); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read scheduled reminder rows: %w", err)
	}
	return out, nil
}

func (q *ReminderQueue) Name() string {
	return "sqlite"
}
