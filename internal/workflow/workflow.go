package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/reminder"
)

var (
	ErrAlreadyResolved = errors.New("prompt already resolved")
	// ErrStaleOccurrence means the occurrence was confirmed elsewhere and the
	// item has already moved past it.
	ErrStaleOccurrence = errors.New("occurrence already confirmed")
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDeferred  State = "deferred"
	StateSkipped   State = "skipped"
)

// Prompt is the question raised by one fired reminder.
type Prompt struct {
	ItemID         string
	Kind           ledger.Kind
	OccurrenceDate time.Time
	Handle         string

	mu    sync.Mutex
	state State
}

// NewPrompt opens a pending prompt for a fired reminder.
func NewPrompt(fired reminder.Scheduled) *Prompt {
	return &Prompt{
		ItemID:         fired.ItemID,
		Kind:           fired.Kind,
		OccurrenceDate: recurrence.DateOf(fired.OccurrenceDate),
		Handle:         fired.Handle,
		state:          StatePending,
	}
}

func (p *Prompt) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Store is the persistence side of a confirmation.
type Store interface {
	GetItem(ctx context.Context, id string) (ledger.Item, error)
	// CommitConfirmation applies c in one write or not at all. A stored item
	// whose revision or anchor no longer match yields ledger.ErrConflict.
	CommitConfirmation(ctx context.Context, c ledger.Confirmation) (ledger.Item, error)
}

// Reminders is the part of the reminder scheduler the workflow drives.
type Reminders interface {
	Replace(ctx context.Context, it ledger.Item) error
	CancelDeferred(ctx context.Context, itemID string) error
	Defer(ctx context.Context, it ledger.Item, occurrence time.Time) (reminder.Scheduled, error)
}

// Publisher mirrors committed confirmations to a secondary store.
type Publisher interface {
	PublishConfirmation(ctx context.Context, it ledger.Item, c ledger.Confirmation) error
}

type Config struct {
	Now func() time.Time
	// Remind reports whether reminders are enabled for a kind. Nil means
	// always.
	Remind    func(ledger.Kind) bool
	Publisher Publisher
}

type Workflow struct {
	store     Store
	reminders Reminders
	cfg       Config
}

func New(store Store, reminders Reminders, cfg Config) (*Workflow, error) {
	if store == nil {
		return nil, errors.New("workflow store is required")
	}
	if reminders == nil {
		return nil, errors.New("workflow reminders are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Workflow{store: store, reminders: reminders, cfg: cfg}, nil
}

// Result reports a committed confirmation. The confirmation stands even when
// the follow-up reminder or mirror steps failed.
type Result struct {
	Item         ledger.Item
	Confirmation ledger.Confirmation
	ReminderErr  error
	PublishErr   error
}

// Confirm records the occurrence as paid or received and advances the item.
// Nothing is reported as confirmed unless the store accepted the write.
func (w *Workflow) Confirm(ctx context.Context, p *Prompt) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return Result{}, fmt.Errorf("confirm %s: %w", p.state, ErrAlreadyResolved)
	}

	it, err := w.loadCurrent(ctx, p)
	if err != nil {
		return Result{}, err
	}
	// The anchor is the oldest unconfirmed occurrence; a prompt dated later
	// still confirms the anchor first.
	c, err := ledger.NewConfirmation(it, it.AnchorDate, w.cfg.Now())
	if err != nil {
		return Result{}, fmt.Errorf("confirm item %q: %w", it.ID, err)
	}
	updated, err := w.store.CommitConfirmation(ctx, c)
	if err != nil {
		if errors.Is(err, ledger.ErrPersistenceWrite) {
			return Result{}, fmt.Errorf("confirm item %q: %w", it.ID, err)
		}
		return Result{}, fmt.Errorf("confirm item %q: %w: %w", it.ID, ledger.ErrPersistenceWrite, err)
	}
	p.state = StateConfirmed

	res := Result{Item: updated, Confirmation: c}
	var remindErrs []error
	if w.remind(updated.Kind) {
		if err := w.reminders.Replace(ctx, updated); err != nil {
			remindErrs = append(remindErrs, err)
		}
	}
	if err := w.reminders.CancelDeferred(ctx, updated.ID); err != nil {
		remindErrs = append(remindErrs, err)
	}
	res.ReminderErr = errors.Join(remindErrs...)

	if w.cfg.Publisher != nil {
		res.PublishErr = w.cfg.Publisher.PublishConfirmation(ctx, updated, c)
	}
	return res, nil
}

// Defer asks to be reminded again tomorrow without touching the item.
func (w *Workflow) Defer(ctx context.Context, p *Prompt) (reminder.Scheduled, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return reminder.Scheduled{}, fmt.Errorf("defer %s: %w", p.state, ErrAlreadyResolved)
	}
	it, err := w.store.GetItem(ctx, p.ItemID)
	if err != nil {
		return reminder.Scheduled{}, fmt.Errorf("defer item %q: %w", p.ItemID, err)
	}
	sc, err := w.reminders.Defer(ctx, it, p.OccurrenceDate)
	if err != nil {
		return reminder.Scheduled{}, err
	}
	p.state = StateDeferred
	return sc, nil
}

// Skip dismisses the prompt. The occurrence stays unconfirmed, so it is still
// counted as overdue and the item keeps its anchor.
func (w *Workflow) Skip(p *Prompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return fmt.Errorf("skip %s: %w", p.state, ErrAlreadyResolved)
	}
	p.state = StateSkipped
	return nil
}

func (w *Workflow) loadCurrent(ctx context.Context, p *Prompt) (ledger.Item, error) {
	it, err := w.store.GetItem(ctx, p.ItemID)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("confirm item %q: %w", p.ItemID, err)
	}
	if p.OccurrenceDate.Before(it.AnchorDate) {
		return ledger.Item{}, fmt.Errorf("confirm item %q on %s, anchor is %s: %w",
			it.ID, recurrence.FormatDate(p.OccurrenceDate), recurrence.FormatDate(it.AnchorDate), ErrStaleOccurrence)
	}
	return it, nil
}

func (w *Workflow) remind(kind ledger.Kind) bool {
	if w.cfg.Remind == nil {
		return true
	}
	return w.cfg.Remind(kind)
}
