package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/storage"
	"github.com/lachiem1/budgetbell/internal/workflow"
	"github.com/shopspring/decimal"
)

const promptBuffer = 32

var ErrPromptQueueFull = errors.New("prompt queue is full")

// Publisher mirrors local changes to the remote document store.
type Publisher interface {
	workflow.Publisher
	PublishItem(ctx context.Context, it ledger.Item, expectedRevision int64) error
}

type Deps struct {
	DB        *sql.DB
	Notifier  reminder.Notifier
	Publisher Publisher
	Location  *time.Location
	Now       func() time.Time
	// OnReminderEvent receives scheduler events.
	OnReminderEvent func(reminder.Event)
}

// Service is the application surface used by the CLI and the TUI.
type Service struct {
	items     *storage.ItemsRepo
	history   *storage.HistoryRepo
	settings  *storage.AppConfigRepo
	syncState *storage.SyncStateRepo
	scheduler *reminder.Scheduler
	flow      *workflow.Workflow
	publisher Publisher
	now       func() time.Time

	prompts chan *workflow.Prompt
}

func NewService(deps Deps) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}

	s := &Service{
		items:     storage.NewItemsRepo(deps.DB),
		history:   storage.NewHistoryRepo(deps.DB),
		settings:  storage.NewAppConfigRepo(deps.DB),
		syncState: storage.NewSyncStateRepo(deps.DB),
		publisher: deps.Publisher,
		now:       deps.Now,
		prompts:   make(chan *workflow.Prompt, promptBuffer),
	}

	scheduler, err := reminder.NewScheduler(
		reminder.Config{Location: deps.Location, Now: deps.Now, OnEvent: deps.OnReminderEvent},
		deps.Notifier,
		storage.NewRemindersRepo(deps.DB),
	)
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler

	cfg := workflow.Config{Now: deps.Now, Remind: s.remindEnabled}
	if deps.Publisher != nil {
		cfg.Publisher = deps.Publisher
	}
	flow, err := workflow.New(s.items, scheduler, cfg)
	if err != nil {
		return nil, err
	}
	s.flow = flow
	return s, nil
}

func (s *Service) Items(ctx context.Context) ([]ledger.Item, error) {
	return s.items.List(ctx)
}

// Reschedule brings reminders in line with every stored item. Items of a kind
// whose reminders are switched off are left out, so their reminders are
// pruned.
func (s *Service) Reschedule(ctx context.Context) (reminder.Summary, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return reminder.Summary{}, err
	}
	settings, err := s.settings.NotificationSettings(ctx)
	if err != nil {
		return reminder.Summary{}, err
	}
	enabled := make([]ledger.Item, 0, len(items))
	for _, it := range items {
		if settings.Enabled(it.Kind) {
			enabled = append(enabled, it)
		}
	}
	return s.scheduler.Reschedule(ctx, enabled), nil
}

// Reconcile repairs drift between reminder records and live reminders.
func (s *Service) Reconcile(ctx context.Context) (reminder.Summary, error) {
	return s.scheduler.Reconcile(ctx)
}

// AddItem stores a new item and schedules its reminder. A reminder failure is
// returned alongside the stored item.
func (s *Service) AddItem(ctx context.Context, input ledger.ItemInput) (ledger.Item, error) {
	it, err := ledger.NewItem(input, s.now())
	if err != nil {
		return ledger.Item{}, err
	}
	if err := s.items.Insert(ctx, it); err != nil {
		return ledger.Item{}, err
	}
	return it, errors.Join(s.afterWrite(ctx, it, 0)...)
}

func (s *Service) UpdateItem(ctx context.Context, id string, input ledger.ItemInput) (ledger.Item, error) {
	current, err := s.items.GetItem(ctx, id)
	if err != nil {
		return ledger.Item{}, err
	}
	edited, err := current.ApplyInput(input, s.now())
	if err != nil {
		return ledger.Item{}, err
	}
	updated, err := s.items.Update(ctx, edited)
	if err != nil {
		return ledger.Item{}, err
	}
	return updated, errors.Join(s.afterWrite(ctx, updated, current.Revision)...)
}

func (s *Service) afterWrite(ctx context.Context, it ledger.Item, previousRevision int64) []error {
	var errs []error
	enabled, err := s.kindEnabled(ctx, it.Kind)
	if err != nil {
		errs = append(errs, err)
	} else if enabled {
		if err := s.scheduler.Replace(ctx, it); err != nil {
			errs = append(errs, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishItem(ctx, it, previousRevision); err != nil {
			errs = append(errs, fmt.Errorf("mirror item %q: %w", it.ID, err))
		}
	}
	return errs
}

// RemoveItem cancels every reminder of the item and deletes it.
func (s *Service) RemoveItem(ctx context.Context, id string) error {
	if _, err := s.items.GetItem(ctx, id); err != nil {
		return err
	}
	if err := s.scheduler.CancelItem(ctx, id); err != nil {
		return err
	}
	return s.items.Delete(ctx, id)
}

// CancelReminders cancels reminders of kind, or of every kind when kind is
// empty.
func (s *Service) CancelReminders(ctx context.Context, kind ledger.Kind) reminder.Summary {
	if kind == "" {
		return s.scheduler.CancelAll(ctx)
	}
	return s.scheduler.CancelByKind(ctx, kind)
}

// MonthView is everything the dashboard shows for one month.
type MonthView struct {
	ledger.Summary
	ConfirmedIncome decimal.Decimal
	Payments        []ledger.PaymentEntry
}

func (s *Service) Month(ctx context.Context, month recurrence.Month) (MonthView, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return MonthView{}, err
	}
	plan, err := s.settings.BudgetPlan(ctx)
	if err != nil {
		return MonthView{}, err
	}
	confirmed, err := s.history.ConfirmedIncome(ctx, month)
	if err != nil {
		return MonthView{}, err
	}
	payments, err := s.history.Payments(ctx, month)
	if err != nil {
		return MonthView{}, err
	}

	// Items with a bad frequency are reported but the rest still sum.
	summary, sumErr := ledger.Summarize(items, month, s.now(), plan)
	return MonthView{Summary: summary, ConfirmedIncome: confirmed, Payments: payments}, sumErr
}

func (s *Service) NotificationSettings(ctx context.Context) (ledger.NotificationSettings, error) {
	return s.settings.NotificationSettings(ctx)
}

// SetNotificationSettings saves the toggles, cancels reminders of disabled
// kinds and schedules the enabled ones.
func (s *Service) SetNotificationSettings(ctx context.Context, next ledger.NotificationSettings) (reminder.Summary, error) {
	if err := s.settings.SaveNotificationSettings(ctx, next); err != nil {
		return reminder.Summary{}, err
	}
	var summary reminder.Summary
	for _, kind := range []ledger.Kind{ledger.KindIncome, ledger.KindExpense} {
		if !next.Enabled(kind) {
			summary.Merge(s.scheduler.CancelByKind(ctx, kind))
		}
	}
	scheduled, err := s.Reschedule(ctx)
	if err != nil {
		return summary, err
	}
	summary.Merge(scheduled)
	return summary, nil
}

func (s *Service) BudgetPlan(ctx context.Context) (ledger.BudgetPlan, error) {
	return s.settings.BudgetPlan(ctx)
}

func (s *Service) SetBudgetPlan(ctx context.Context, plan ledger.BudgetPlan) error {
	return s.settings.SaveBudgetPlan(ctx, plan)
}

// MirrorState reports how the last pushes to the document store went.
func (s *Service) MirrorState(ctx context.Context, collection string) (storage.SyncState, bool, error) {
	return s.syncState.Get(ctx, collection)
}

func (s *Service) remindEnabled(kind ledger.Kind) bool {
	enabled, err := s.kindEnabled(context.Background(), kind)
	if err != nil {
		return true
	}
	return enabled
}

func (s *Service) kindEnabled(ctx context.Context, kind ledger.Kind) (bool, error) {
	settings, err := s.settings.NotificationSettings(ctx)
	if err != nil {
		return false, err
	}
	return settings.Enabled(kind), nil
}
