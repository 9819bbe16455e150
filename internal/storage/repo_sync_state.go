package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncState records how the last pushes of a collection to the document
// mirror went.
type SyncState struct {
	Collection          string
	LastSuccess         *time.Time
	LastAttempt         *time.Time
	LastErrorMsg        string
	ConsecutiveFailures int
}

type SyncStateRepo struct {
	db *sql.DB
}

func NewSyncStateRepo(db *sql.DB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

func (r *SyncStateRepo) Get(ctx context.Context, collection string) (SyncState, bool, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT collection, last_success_at, last_attempt_at, COALESCE(last_error, ''), consecutive_failures
		 FROM sync_state WHERE collection = ?`,
		collection,
	)

	var (
		state       SyncState
		lastSuccess sql.NullString
		lastAttempt sql.NullString
	)
	if err := row.Scan(&state.Collection, &lastSuccess, &lastAttempt, &state.LastErrorMsg, &state.ConsecutiveFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncState{}, false, nil
		}
		return SyncState{}, false, fmt.Errorf("query sync state for %q: %w", collection, err)
	}

	var err error
	if state.LastSuccess, err = parseOptionalTime("last_success_at", lastSuccess); err != nil {
		return SyncState{}, false, fmt.Errorf("sync state %q: %w", collection, err)
	}
	if state.LastAttempt, err = parseOptionalTime("last_attempt_at", lastAttempt); err != nil {
		return SyncState{}, false, fmt.Errorf("sync state %q: %w", collection, err)
	}
	return state, true, nil
}

func (r *SyncStateRepo) RecordAttempt(ctx context.Context, collection string, at time.Time) error {
	const q = `
INSERT INTO sync_state (collection, last_attempt_at, last_error) VALUES (?, ?, '')
ON CONFLICT(collection) DO UPDATE SET last_attempt_at = excluded.last_attempt_at
`
	if _, err := r.db.ExecContext(ctx, q, collection, formatTime(at)); err != nil {
		return fmt.Errorf("record sync attempt for %q: %w", collection, err)
	}
	return nil
}

func (r *SyncStateRepo) RecordSuccess(ctx context.Context, collection string, at time.Time) error {
	const q = `
INSERT INTO sync_state (collection, last_attempt_at, last_success_at, last_error, consecutive_failures)
VALUES (?, ?, ?, '', 0)
ON CONFLICT(collection) DO UPDATE SET
  last_attempt_at = excluded.last_attempt_at,
  last_success_at = excluded.last_success_at,
  last_error = '',
  consecutive_failures = 0
`
	ts := formatTime(at)
	if _, err := r.db.ExecContext(ctx, q, collection, ts, ts); err != nil {
		return fmt.Errorf("record sync success for %q: %w", collection, err)
	}
	return nil
}

func (r *SyncStateRepo) RecordError(ctx context.Context, collection string, at time.Time, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	const q = `
INSERT INTO sync_state (collection, last_attempt_at, last_error, consecutive_failures)
VALUES (?, ?, ?, 1)
ON CONFLICT(collection) DO UPDATE SET
  last_attempt_at = excluded.last_attempt_at,
  last_error = excluded.last_error,
  consecutive_failures = sync_state.consecutive_failures + 1
`
	if _, err := r.db.ExecContext(ctx, q, collection, formatTime(at), msg); err != nil {
		return fmt.Errorf("record sync error for %q: %w", collection, err)
	}
	return nil
}
