package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
)

const (
	defaultWorkers     = 4
	defaultCallTimeout = 10 * time.Second
)

type Config struct {
	Location    *time.Location
	Now         func() time.Time
	Workers     int
	CallTimeout time.Duration
	OnEvent     func(Event)
}

// Scheduler keeps at most one canonical reminder per item, dated at the
// item's anchor. It holds no item state of its own.
type Scheduler struct {
	cfg      Config
	notifier Notifier
	records  RecordStore

	mu             sync.Mutex
	needsReconcile bool
}

func NewScheduler(cfg Config, notifier Notifier, records RecordStore) (*Scheduler, error) {
	if notifier == nil {
		return nil, errors.New("reminder notifier is required")
	}
	if records == nil {
		return nil, errors.New("reminder record store is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	// Records may have drifted while the process was not running (reinstall,
	// reminders cleared outside the app), so the first pass reconciles.
	return &Scheduler{cfg: cfg, notifier: notifier, records: records, needsReconcile: true}, nil
}

// TriggerAt is when the canonical reminder for it fires.
func (s *Scheduler) TriggerAt(it ledger.Item) time.Time {
	return recurrence.At(it.AnchorDate, it.Kind.ReminderHour(), s.cfg.Location)
}

// Reschedule brings the canonical reminders in line with items, which must be
// the full snapshot of tracked items: records for items not in the snapshot
// are cancelled. Items whose reminder time has passed keep whatever reminder
// they have and are counted as overdue.
func (s *Scheduler) Reschedule(ctx context.Context, items []ledger.Item) Summary {
	var summary Summary
	if s.takeReconcile() {
		rec, err := s.Reconcile(ctx)
		summary.Merge(rec)
		if err != nil {
			s.markDrift()
			summary.fail(err)
		}
	}

	summary.Merge(s.prune(ctx, items))

	results := forEach(ctx, items, s.cfg.Workers, s.replace)
	for _, r := range results {
		summary.Merge(r)
	}
	return summary
}

// Replace reschedules a single item, e.g. after its anchor advanced.
func (s *Scheduler) Replace(ctx context.Context, it ledger.Item) error {
	return s.replace(ctx, it).Err()
}

func (s *Scheduler) replace(ctx context.Context, it ledger.Item) Summary {
	var summary Summary
	now := s.cfg.Now()
	trigger := s.TriggerAt(it)
	if !trigger.After(now) {
		summary.Overdue++
		s.emit(Event{Type: EventOverdue, ItemID: it.ID, Kind: it.Kind, ScheduledFor: trigger, At: now})
		summary.Merge(s.dropStale(ctx, it, trigger))
		return summary
	}

	fail := func(err error) Summary {
		summary.fail(fmt.Errorf("item %q: %w", it.ID, err))
		s.emit(Event{Type: EventFailed, ItemID: it.ID, Kind: it.Kind, ScheduledFor: trigger, At: s.cfg.Now(), Err: err})
		return summary
	}

	existing, ok, err := s.records.Get(ctx, it.ID)
	if err != nil {
		return fail(fmt.Errorf("load reminder record: %w", err))
	}
	if ok {
		// Cancel must complete before the new reminder is created so there
		// is never a window with two live canonical reminders.
		if err := s.cancel(ctx, existing.Handle); err != nil {
			if !errors.Is(err, ErrReminderNotFound) {
				return fail(err)
			}
			s.markDrift()
		}
		if err := s.records.Delete(ctx, it.ID); err != nil {
			return fail(fmt.Errorf("delete reminder record: %w", err))
		}
	}

	handle, err := s.schedule(ctx, canonicalRequest(it, trigger))
	if err != nil {
		return fail(err)
	}
	rec := ledger.ReminderRecord{ItemID: it.ID, Kind: it.Kind, Handle: handle, ScheduledFor: trigger}
	if err := s.records.Put(ctx, rec); err != nil {
		// Without a record the next pass would create a duplicate.
		_ = s.cancel(context.WithoutCancel(ctx), handle)
		return fail(fmt.Errorf("save reminder record: %w", err))
	}

	summary.Scheduled++
	s.emit(Event{Type: EventScheduled, ItemID: it.ID, Kind: it.Kind, Handle: handle, ScheduledFor: trigger, At: s.cfg.Now()})
	return summary
}

// dropStale cancels the canonical reminder of an overdue item when it was
// scheduled for a different date than the item's anchor now implies. The
// reminder for the current anchor, fired or not, is kept.
func (s *Scheduler) dropStale(ctx context.Context, it ledger.Item, trigger time.Time) Summary {
	var summary Summary
	existing, ok, err := s.records.Get(ctx, it.ID)
	if err != nil {
		summary.fail(fmt.Errorf("item %q: load reminder record: %w", it.ID, err))
		return summary
	}
	if !ok || existing.ScheduledFor.Equal(trigger) {
		return summary
	}
	if err := s.dropRecord(ctx, existing); err != nil {
		summary.fail(err)
		return summary
	}
	summary.Cancelled++
	return summary
}

// prune cancels canonical reminders recorded for items that are no longer
// tracked.
func (s *Scheduler) prune(ctx context.Context, items []ledger.Item) Summary {
	var summary Summary
	records, err := s.records.List(ctx)
	if err != nil {
		summary.fail(fmt.Errorf("list reminder records: %w", err))
		return summary
	}
	tracked := make(map[string]struct{}, len(items))
	for _, it := range items {
		tracked[it.ID] = struct{}{}
	}
	for _, rec := range records {
		if _, ok := tracked[rec.ItemID]; ok {
			continue
		}
		if err := s.dropRecord(ctx, rec); err != nil {
			summary.fail(err)
			continue
		}
		summary.Pruned++
	}
	return summary
}

func (s *Scheduler) dropRecord(ctx context.Context, rec ledger.ReminderRecord) error {
	if err := s.cancel(ctx, rec.Handle); err != nil && !errors.Is(err, ErrReminderNotFound) {
		return fmt.Errorf("item %q: %w", rec.ItemID, err)
	}
	if err := s.records.Delete(ctx, rec.ItemID); err != nil {
		return fmt.Errorf("item %q: delete reminder record: %w", rec.ItemID, err)
	}
	s.emit(Event{Type: EventCancelled, ItemID: rec.ItemID, Kind: rec.Kind, Handle: rec.Handle, At: s.cfg.Now()})
	return nil
}

// Defer schedules a one-off reminder for tomorrow at the kind's hour. It is
// tagged as a deferral so the canonical slot is left untouched.
func (s *Scheduler) Defer(ctx context.Context, it ledger.Item, occurrence time.Time) (Scheduled, error) {
	now := s.cfg.Now().In(s.cfg.Location)
	tomorrow := recurrence.DateOf(now).AddDate(0, 0, 1)
	trigger := recurrence.At(tomorrow, it.Kind.ReminderHour(), s.cfg.Location)

	req := canonicalRequest(it, trigger)
	req.Slot = SlotDeferred
	req.OccurrenceDate = recurrence.DateOf(occurrence)
	req.Title = "Reminder: " + req.Title

	handle, err := s.schedule(ctx, req)
	if err != nil {
		s.emit(Event{Type: EventFailed, ItemID: it.ID, Kind: it.Kind, ScheduledFor: trigger, At: s.cfg.Now(), Err: err})
		return Scheduled{}, fmt.Errorf("defer item %q: %w", it.ID, err)
	}
	s.emit(Event{Type: EventDeferred, ItemID: it.ID, Kind: it.Kind, Handle: handle, ScheduledFor: trigger, At: s.cfg.Now()})
	return Scheduled{Handle: handle, Request: req}, nil
}

func (s *Scheduler) schedule(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	handle, err := s.notifier.Schedule(callCtx, req)
	if err != nil {
		return "", schedulingError("schedule reminder", err)
	}
	return handle, nil
}

func (s *Scheduler) cancel(ctx context.Context, handle string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.notifier.Cancel(callCtx, handle); err != nil {
		if errors.Is(err, ErrReminderNotFound) {
			return err
		}
		return schedulingError("cancel reminder "+handle, err)
	}
	return nil
}

func (s *Scheduler) list(ctx context.Context) ([]Scheduled, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	live, err := s.notifier.List(callCtx)
	if err != nil {
		return nil, schedulingError("list reminders", err)
	}
	return live, nil
}

func schedulingError(op string, err error) error {
	if errors.Is(err, ErrSchedulingFailure) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSchedulingFailure, err)
}

func (s *Scheduler) takeReconcile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := s.needsReconcile
	s.needsReconcile = false
	return need
}

func (s *Scheduler) markDrift() {
	s.mu.Lock()
	s.needsReconcile = true
	s.mu.Unlock()
}

func (s *Scheduler) emit(evt Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	s.cfg.OnEvent(evt)
}

func canonicalRequest(it ledger.Item, trigger time.Time) Request {
	req := Request{
		ItemID:         it.ID,
		Kind:           it.Kind,
		Slot:           SlotCanonical,
		Channel:        ChannelFor(it.Kind),
		TriggerAt:      trigger,
		OccurrenceDate: it.AnchorDate,
	}
	amount := it.Amount.StringFixed(2)
	if it.Kind == ledger.KindExpense {
		req.Title = "Bill due"
		req.Body = fmt.Sprintf("Did you pay %s (%s)?", it.Label, amount)
	} else {
		req.Title = "Payday"
		req.Body = fmt.Sprintf("Did you receive %s from %s?", amount, it.Label)
	}
	return req
}
