package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
)

var (
	// ErrSchedulingFailure marks a reminder subsystem call that was rejected
	// or timed out.
	ErrSchedulingFailure = errors.New("reminder scheduling failed")
	ErrPermissionDenied  = errors.New("reminder permission denied")
	// ErrReminderNotFound is returned by Notifier.Cancel for a handle the
	// subsystem no longer knows about.
	ErrReminderNotFound = errors.New("reminder not found")
)

// Slot separates the one canonical reminder per item from user requested
// one-off deferrals.
type Slot string

const (
	SlotCanonical Slot = "canonical"
	SlotDeferred  Slot = "deferred"
)

const (
	ChannelPayday  = "payday-reminders"
	ChannelExpense = "expense-reminders"
)

func ChannelFor(kind ledger.Kind) string {
	if kind == ledger.KindExpense {
		return ChannelExpense
	}
	return ChannelPayday
}

// Request describes a reminder to create.
type Request struct {
	ItemID         string      `json:"itemId"`
	Kind           ledger.Kind `json:"kind"`
	Slot           Slot        `json:"slot"`
	Title          string      `json:"title"`
	Body           string      `json:"body"`
	Channel        string      `json:"channel"`
	TriggerAt      time.Time   `json:"triggerAt"`
	OccurrenceDate time.Time   `json:"occurrenceDate"`
}

// Scheduled is a live reminder as reported by the subsystem. A fired reminder
// is delivered in the same shape.
type Scheduled struct {
	Handle string `json:"handle"`
	Request
}

// Notifier is the platform reminder subsystem.
type Notifier interface {
	Schedule(ctx context.Context, req Request) (string, error)
	Cancel(ctx context.Context, handle string) error
	List(ctx context.Context) ([]Scheduled, error)
}

// RecordStore persists the item to canonical reminder mapping. It is a lookup
// aid; the Notifier is the source of truth for what is live.
type RecordStore interface {
	Get(ctx context.Context, itemID string) (ledger.ReminderRecord, bool, error)
	Put(ctx context.Context, rec ledger.ReminderRecord) error
	Delete(ctx context.Context, itemID string) error
	List(ctx context.Context) ([]ledger.ReminderRecord, error)
}

type EventType string

const (
	EventScheduled  EventType = "reminder_scheduled"
	EventOverdue    EventType = "reminder_overdue"
	EventFailed     EventType = "reminder_failed"
	EventCancelled  EventType = "reminder_cancelled"
	EventDeferred   EventType = "reminder_deferred"
	EventReconciled EventType = "reminders_reconciled"
)

type Event struct {
	Type         EventType
	ItemID       string
	Kind         ledger.Kind
	Handle       string
	ScheduledFor time.Time
	At           time.Time
	Err          error
}

// Summary aggregates a batch. Per-item errors never abort the batch.
type Summary struct {
	Scheduled        int
	Overdue          int
	Cancelled        int
	Pruned           int
	Failed           int
	PermissionDenied bool
	Errors           []error
}

// Err joins the per-item errors, or returns nil when everything succeeded.
func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

func (s *Summary) fail(err error) {
	s.Failed++
	s.Errors = append(s.Errors, err)
	if errors.Is(err, ErrPermissionDenied) {
		s.PermissionDenied = true
	}
}

func (s *Summary) Merge(other Summary) {
	s.Scheduled += other.Scheduled
	s.Overdue += other.Overdue
	s.Cancelled += other.Cancelled
	s.Pruned += other.Pruned
	s.Failed += other.Failed
	s.PermissionDenied = s.PermissionDenied || other.PermissionDenied
	s.Errors = append(s.Errors, other.Errors...)
}
