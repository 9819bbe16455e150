package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

type ItemsRepo struct {
	db *sql.DB
}

func NewItemsRepo(db *sql.DB) *ItemsRepo {
	return &ItemsRepo{db: db}
}

const itemColumns = `id, kind, label, amount, frequency, anchor_date, category, last_confirmed_at, revision, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ledger.Item, error) {
	var (
		it            ledger.Item
		kind          string
		amount        string
		frequency     string
		anchor        string
		lastConfirmed sql.NullString
		createdAt     string
		updatedAt     string
	)
	if err := row.Scan(&it.ID, &kind, &it.Label, &amount, &frequency, &anchor, &it.Category, &lastConfirmed, &it.Revision, &createdAt, &updatedAt); err != nil {
		return ledger.Item{}, err
	}

	var err error
	it.Kind = ledger.Kind(kind)
	it.Frequency = recurrence.Frequency(frequency)
	if it.Amount, err = parseAmount("amount", amount); err != nil {
		return ledger.Item{}, err
	}
	if it.AnchorDate, err = parseDateColumn("anchor_date", anchor); err != nil {
		return ledger.Item{}, err
	}
	if it.LastConfirmedAt, err = parseOptionalTime("last_confirmed_at", lastConfirmed); err != nil {
		return ledger.Item{}, err
	}
	if it.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ledger.Item{}, err
	}
	if it.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ledger.Item{}, err
	}
	return it, nil
}

// List returns every tracked item, income first, ordered by anchor.
func (r *ItemsRepo) List(ctx context.Context) ([]ledger.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM recurring_items ORDER BY kind DESC, anchor_date, label`)
	if err != nil {
		return nil, fmt.Errorf("query recurring items: %w", err)
	}
	defer rows.Close()

	var items []ledger.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read recurring item rows: %w", err)
	}
	return items, nil
}

func (r *ItemsRepo) GetItem(ctx context.Context, id string) (ledger.Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM recurring_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Item{}, fmt.Errorf("item %q: %w", id, ledger.ErrItemNotFound)
		}
		return ledger.Item{}, fmt.Errorf("query recurring item %q: %w", id, err)
	}
	return it, nil
}

func (r *ItemsRepo) Insert(ctx context.Context, it ledger.Item) error {
	const q = `
INSERT INTO recurring_items (
	id,
	kind,
	label,
	amount,
	frequency,
	anchor_date,
	category,
	last_confirmed_at,
	revision,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if _, err := r.db.ExecContext(
		ctx,
		q,
		it.ID,
		string(it.Kind),
		it.Label,
		it.Amount.String(),
		string(it.Frequency),
		recurrence.FormatDate(it.AnchorDate),
		it.Category,
		optionalTime(it.LastConfirmedAt),
		it.Revision,
		formatTime(it.CreatedAt),
		formatTime(it.UpdatedAt),
	); err != nil {
		return fmt.Errorf("%w: insert recurring item %q: %w", ledger.ErrPersistenceWrite, it.ID, err)
	}
	return nil
}

// Update writes the editable fields of it, provided the stored revision still
// equals it.Revision. The returned item carries the bumped revision.
func (r *ItemsRepo) Update(ctx context.Context, it ledger.Item) (ledger.Item, error) {
	const q = `
UPDATE recurring_items SET
	kind = ?,
	label = ?,
	amount = ?,
	frequency = ?,
	anchor_date = ?,
	category = ?,
	revision = revision + 1,
	updated_at = ?
WHERE id = ? AND revision = ?
`
	res, err := r.db.ExecContext(
		ctx,
		q,
		string(it.Kind),
		it.Label,
		it.Amount.String(),
		string(it.Frequency),
		recurrence.FormatDate(it.AnchorDate),
		it.Category,
		formatTime(it.UpdatedAt),
		it.ID,
		it.Revision,
	)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("%w: update recurring item %q: %w", ledger.ErrPersistenceWrite, it.ID, err)
	}
	if err := r.expectOneRow(ctx, nil, res, it.ID); err != nil {
		return ledger.Item{}, err
	}
	it.Revision++
	return it, nil
}

func (r *ItemsRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurring_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete recurring item %q: %w", ledger.ErrPersistenceWrite, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recurring item %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("item %q: %w", id, ledger.ErrItemNotFound)
	}
	return nil
}

// CommitConfirmation advances the item and records the money movement in a
// single transaction. Nothing is written if the item changed since it was
// read.
func (r *ItemsRepo) CommitConfirmation(ctx context.Context, c ledger.Confirmation) (item ledger.Item, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("%w: begin confirmation transaction: %w", ledger.ErrPersistenceWrite, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const advance = `
UPDATE recurring_items SET
	anchor_date = ?,
	last_confirmed_at = ?,
	revision = revision + 1,
	updated_at = ?
WHERE id = ? AND revision = ? AND anchor_date = ?
`
	res, err := tx.ExecContext(
		ctx,
		advance,
		recurrence.FormatDate(c.NextAnchor),
		formatTime(c.ConfirmedAt),
		formatTime(c.ConfirmedAt),
		c.ItemID,
		c.ExpectedRevision,
		recurrence.FormatDate(c.ExpectedAnchor),
	)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("%w: advance item %q: %w", ledger.ErrPersistenceWrite, c.ItemID, err)
	}
	if err = r.expectOneRow(ctx, tx, res, c.ItemID); err != nil {
		return ledger.Item{}, err
	}

	if c.Payment != nil {
		if err = insertPayment(ctx, tx, *c.Payment); err != nil {
			return ledger.Item{}, err
		}
	} else {
		if err = addConfirmedIncome(ctx, tx, c.Month, c.Amount, c.ConfirmedAt); err != nil {
			return ledger.Item{}, err
		}
	}

	item, err = scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM recurring_items WHERE id = ?`, c.ItemID))
	if err != nil {
		return ledger.Item{}, fmt.Errorf("%w: reload item %q: %w", ledger.ErrPersistenceWrite, c.ItemID, err)
	}
	if err = tx.Commit(); err != nil {
		return ledger.Item{}, fmt.Errorf("%w: commit confirmation of %q: %w", ledger.ErrPersistenceWrite, c.ItemID, err)
	}
	return item, nil
}

// expectOneRow maps a conditional write that matched nothing to either a
// missing item or a concurrent change.
func (r *ItemsRepo) expectOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for %q: %w", ledger.ErrPersistenceWrite, id, err)
	}
	if n == 1 {
		return nil
	}

	const q = `SELECT EXISTS(SELECT 1 FROM recurring_items WHERE id = ?)`
	var exists int
	if tx != nil {
		err = tx.QueryRowContext(ctx, q, id).Scan(&exists)
	} else {
		err = r.db.QueryRowContext(ctx, q, id).Scan(&exists)
	}
	if err != nil {
		return fmt.Errorf("%w: check item %q: %w", ledger.ErrPersistenceWrite, id, err)
	}
	if exists == 0 {
		return fmt.Errorf("item %q: %w", id, ledger.ErrItemNotFound)
	}
	return fmt.Errorf("item %q: %w", id, ledger.ErrConflict)
}

func insertPayment(ctx context.Context, tx *sql.Tx, p ledger.PaymentEntry) error {
	const q = `
INSERT INTO payment_history (id, item_id, kind, amount, category, occurrence_date, paid_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	if _, err := tx.ExecContext(
		ctx,
		q,
		p.ID,
		p.ItemID,
		string(p.Kind),
		p.Amount.String(),
		p.Category,
		recurrence.FormatDate(p.OccurrenceDate),
		formatTime(p.PaidAt),
	); err != nil {
		return fmt.Errorf("%w: insert payment %q: %w", ledger.ErrPersistenceWrite, p.ID, err)
	}
	return nil
}

func addConfirmedIncome(ctx context.Context, tx *sql.Tx, month recurrence.Month, amount decimal.Decimal, at time.Time) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT confirmed_income FROM monthly_totals WHERE month = ?`, month.String()).Scan(&current)
	total := decimal.Zero
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("%w: read confirmed income for %s: %w", ledger.ErrPersistenceWrite, month, err)
	default:
		if total, err = parseAmount("confirmed_income", current); err != nil {
			return fmt.Errorf("%w: %w", ledger.ErrPersistenceWrite, err)
		}
	}

	const upsert = `
INSERT INTO monthly_totals (month, confirmed_income, updated_at) VALUES (?, ?, ?)
ON CONFLICT(month) DO UPDATE SET
	confirmed_income = excluded.confirmed_income,
	updated_at = excluded.updated_at
`
	if _, err := tx.ExecContext(ctx, upsert, month.String(), total.Add(amount).String(), formatTime(at)); err != nil {
		return fmt.Errorf("%w: update confirmed income for %s: %w", ledger.ErrPersistenceWrite, month, err)
	}
	return nil
}
