package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

// HistoryRepo reads what confirmations wrote: the payment log and the running
// confirmed income per month.
type HistoryRepo struct {
	db *sql.DB
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) ConfirmedIncome(ctx context.Context, month recurrence.Month) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT confirmed_income FROM monthly_totals WHERE month = ?`, month.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("query confirmed income for %s: %w", month, err)
	}
	return parseAmount("confirmed_income", raw)
}

// Payments lists entries whose occurrence falls in month, oldest first.
func (r *HistoryRepo) Payments(ctx context.Context, month recurrence.Month) ([]ledger.PaymentEntry, error) {
	const q = `
SELECT id, item_id, kind, amount, category, occurrence_date, paid_at
FROM payment_history
WHERE occurrence_date >= ? AND occurrence_date < ?
ORDER BY occurrence_date, paid_at
`
	rows, err := r.db.QueryContext(ctx, q, recurrence.FormatDate(month.Start()), recurrence.FormatDate(month.End()))
	if err != nil {
		return nil, fmt.Errorf("query payments for %s: %w", month, err)
	}
	defer rows.Close()

	var out []ledger.PaymentEntry
	for rows.Next() {
		var (
			p          ledger.PaymentEntry
			kind       string
			amount     string
			occurrence string
			paidAt     string
		)
		if err := rows.Scan(&p.ID, &p.ItemID, &kind, &amount, &p.Category, &occurrence, &paidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Kind = ledger.Kind(kind)
		if p.Amount, err = parseAmount("amount", amount); err != nil {
			return nil, err
		}
		if p.OccurrenceDate, err = parseDateColumn("occurrence_date", occurrence); err != nil {
			return nil, err
		}
		if p.PaidAt, err = parseTime("paid_at", paidAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read payment rows: %w", err)
	}
	return out, nil
}
