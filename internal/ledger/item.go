package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound     = errors.New("recurring item not found")
	ErrInvalidItem      = errors.New("invalid recurring item")
	ErrConflict         = errors.New("recurring item changed concurrently")
	ErrPersistenceWrite = errors.New("persistence write failed")
)

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "income", "payday":
		return KindIncome, nil
	case "expense", "bill":
		return KindExpense, nil
	default:
		return "", fmt.Errorf("unknown kind %q", raw)
	}
}

// ReminderHour is the local hour reminders fire for an item of this kind.
func (k Kind) ReminderHour() int {
	if k == KindExpense {
		return 10
	}
	return 9
}

// Item is an income source or a recurring expense.
type Item struct {
	ID              string
	Kind            Kind
	Label           string
	Amount          decimal.Decimal
	Frequency       recurrence.Frequency
	AnchorDate      time.Time
	Category        string
	LastConfirmedAt *time.Time
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemInput carries user-editable fields for create and update.
type ItemInput struct {
	Kind       Kind
	Label      string
	Amount     decimal.Decimal
	Frequency  string
	AnchorDate time.Time
	Category   string
}

func (it Item) Series() recurrence.Series {
	return recurrence.Series{Anchor: it.AnchorDate, Frequency: it.Frequency}
}

// NewItem validates input and assigns a fresh id.
func NewItem(input ItemInput, now time.Time) (Item, error) {
	it, err := itemFromInput(input)
	if err != nil {
		return Item{}, err
	}
	it.ID = uuid.NewString()
	it.Revision = 1
	it.CreatedAt = now.UTC()
	it.UpdatedAt = it.CreatedAt
	return it, nil
}

// ApplyInput returns it with the editable fields replaced. Identity, history
// and revision are kept.
func (it Item) ApplyInput(input ItemInput, now time.Time) (Item, error) {
	updated, err := itemFromInput(input)
	if err != nil {
		return Item{}, err
	}
	updated.ID = it.ID
	updated.LastConfirmedAt = it.LastConfirmedAt
	updated.Revision = it.Revision
	updated.CreatedAt = it.CreatedAt
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

func itemFromInput(input ItemInput) (Item, error) {
	if input.Kind != KindIncome && input.Kind != KindExpense {
		return Item{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, input.Kind)
	}
	label := strings.Join(strings.Fields(input.Label), " ")
	if label == "" {
		return Item{}, fmt.Errorf("%w: label is required", ErrInvalidItem)
	}
	if !input.Amount.IsPositive() {
		return Item{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidItem)
	}
	freq, err := recurrence.ParseFrequency(input.Frequency)
	if err != nil {
		return Item{}, err
	}
	if input.AnchorDate.IsZero() {
		return Item{}, fmt.Errorf("%w: anchor date is required", ErrInvalidItem)
	}
	it := Item{
		Kind:       input.Kind,
		Label:      label,
		Amount:     input.Amount,
		Frequency:  freq,
		AnchorDate: recurrence.DateOf(input.AnchorDate),
	}
	if it.Kind == KindExpense {
		it.Category = NormalizeCategory(input.Category)
	}
	return it, nil
}

func NormalizeCategory(category string) string {
	cat := strings.ToLower(strings.TrimSpace(category))
	if cat == "" {
		return "other"
	}
	return cat
}

// PaymentEntry is one row of the append-only payment and receipt history.
type PaymentEntry struct {
	ID             string
	ItemID         string
	Kind           Kind
	Amount         decimal.Decimal
	Category       string
	OccurrenceDate time.Time
	PaidAt         time.Time
}

// ReminderRecord maps an item to the handle of its live canonical reminder.
type ReminderRecord struct {
	ItemID       string
	Kind         Kind
	Handle       string
	ScheduledFor time.Time
}

// Confirmation is the all-or-nothing write produced by confirming an
// occurrence. It applies only while the stored item still has
// ExpectedRevision and ExpectedAnchor.
type Confirmation struct {
	ItemID           string
	ExpectedRevision int64
	ExpectedAnchor   time.Time
	NextAnchor       time.Time
	ConfirmedAt      time.Time
	// Month receives Amount into its confirmed income total: the month the
	// confirmation happened in, not the occurrence's. Unused for expenses.
	Month   recurrence.Month
	Amount  decimal.Decimal
	Payment *PaymentEntry
}

// NewConfirmation builds the write that rolls it past occurrence.
func NewConfirmation(it Item, occurrence time.Time, now time.Time) (Confirmation, error) {
	next, err := recurrence.Advance(it.AnchorDate, it.Frequency)
	if err != nil {
		return Confirmation{}, err
	}
	occurrence = recurrence.DateOf(occurrence)
	c := Confirmation{
		ItemID:           it.ID,
		ExpectedRevision: it.Revision,
		ExpectedAnchor:   it.AnchorDate,
		NextAnchor:       next,
		ConfirmedAt:      now.UTC(),
		Month:            recurrence.MonthOf(now),
		Amount:           it.Amount,
	}
	if it.Kind == KindExpense {
		c.Payment = &PaymentEntry{
			ID:             uuid.NewString(),
			ItemID:         it.ID,
			Kind:           it.Kind,
			Amount:         it.Amount,
			Category:       it.Category,
			OccurrenceDate: occurrence,
			PaidAt:         now.UTC(),
		}
	}
	return c, nil
}

// Apply returns it as it looks once c has been committed.
func (c Confirmation) Apply(it Item) Item {
	confirmed := c.ConfirmedAt
	it.AnchorDate = c.NextAnchor
	it.LastConfirmedAt = &confirmed
	it.Revision = c.ExpectedRevision + 1
	it.UpdatedAt = c.ConfirmedAt
	return it
}
