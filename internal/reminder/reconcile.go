package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lachiem1/budgetbell/internal/ledger"
)

// Reconcile compares the records against the subsystem's live reminders and
// repairs drift: duplicate canonical reminders for an item are cancelled,
// live canonical reminders without a record are adopted, and records whose
// reminder is gone are dropped. Deferred reminders are never touched.
func (s *Scheduler) Reconcile(ctx context.Context) (Summary, error) {
	var summary Summary
	live, err := s.list(ctx)
	if err != nil {
		return summary, err
	}
	records, err := s.records.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("list reminder records: %w", err)
	}

	byItem := make(map[string][]Scheduled)
	for _, sc := range live {
		if sc.Slot == SlotDeferred || sc.ItemID == "" {
			continue
		}
		byItem[sc.ItemID] = append(byItem[sc.ItemID], sc)
	}
	recorded := make(map[string]ledger.ReminderRecord, len(records))
	for _, rec := range records {
		recorded[rec.ItemID] = rec
	}

	for _, rec := range records {
		if _, ok := byItem[rec.ItemID]; ok {
			continue
		}
		if err := s.records.Delete(ctx, rec.ItemID); err != nil {
			summary.fail(fmt.Errorf("item %q: delete reminder record: %w", rec.ItemID, err))
			continue
		}
		summary.Pruned++
	}

	itemIDs := make([]string, 0, len(byItem))
	for id := range byItem {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	for _, itemID := range itemIDs {
		keep, extra := pickCanonical(byItem[itemID], recorded[itemID].Handle)
		for _, sc := range extra {
			if err := s.cancel(ctx, sc.Handle); err != nil && !errors.Is(err, ErrReminderNotFound) {
				summary.fail(fmt.Errorf("item %q: %w", itemID, err))
				continue
			}
			summary.Cancelled++
			s.emit(Event{Type: EventCancelled, ItemID: itemID, Kind: sc.Kind, Handle: sc.Handle, ScheduledFor: sc.TriggerAt, At: s.cfg.Now()})
		}
		if rec, ok := recorded[itemID]; ok && rec.Handle == keep.Handle {
			continue
		}
		adopted := ledger.ReminderRecord{ItemID: itemID, Kind: keep.Kind, Handle: keep.Handle, ScheduledFor: keep.TriggerAt}
		if err := s.records.Put(ctx, adopted); err != nil {
			summary.fail(fmt.Errorf("item %q: save reminder record: %w", itemID, err))
		}
	}

	s.emit(Event{Type: EventReconciled, At: s.cfg.Now()})
	return summary, nil
}

// pickCanonical keeps the recorded reminder when it is live, otherwise the one
// firing latest.
func pickCanonical(live []Scheduled, recordedHandle string) (Scheduled, []Scheduled) {
	keepIdx := -1
	for i, sc := range live {
		if recordedHandle != "" && sc.Handle == recordedHandle {
			keepIdx = i
			break
		}
	}
	if keepIdx < 0 {
		keepIdx = 0
		for i, sc := range live {
			if sc.TriggerAt.After(live[keepIdx].TriggerAt) {
				keepIdx = i
			}
		}
	}
	extra := make([]Scheduled, 0, len(live)-1)
	for i, sc := range live {
		if i != keepIdx {
			extra = append(extra, sc)
		}
	}
	return live[keepIdx], extra
}

// CancelAll cancels every live reminder and clears the records.
func (s *Scheduler) CancelAll(ctx context.Context) Summary {
	return s.cancelMatching(ctx, func(Scheduled) bool { return true }, func(ledger.ReminderRecord) bool { return true })
}

// CancelByKind cancels the live reminders of one kind, e.g. when its
// notifications are switched off.
func (s *Scheduler) CancelByKind(ctx context.Context, kind ledger.Kind) Summary {
	return s.cancelMatching(ctx,
		func(sc Scheduled) bool { return sc.Kind == kind },
		func(rec ledger.ReminderRecord) bool { return rec.Kind == kind },
	)
}

// CancelItem cancels every reminder for a removed item.
func (s *Scheduler) CancelItem(ctx context.Context, itemID string) error {
	return s.cancelMatching(ctx,
		func(sc Scheduled) bool { return sc.ItemID == itemID },
		func(rec ledger.ReminderRecord) bool { return rec.ItemID == itemID },
	).Err()
}

// CancelDeferred cancels the item's outstanding deferred reminders.
func (s *Scheduler) CancelDeferred(ctx context.Context, itemID string) error {
	return s.cancelMatching(ctx,
		func(sc Scheduled) bool { return sc.ItemID == itemID && sc.Slot == SlotDeferred },
		func(ledger.ReminderRecord) bool { return false },
	).Err()
}

// cancelMatching treats the subsystem's list as the source of truth. Records
// are consulted too so a reminder the list missed is still cancelled.
func (s *Scheduler) cancelMatching(ctx context.Context, liveMatch func(Scheduled) bool, recordMatch func(ledger.ReminderRecord) bool) Summary {
	var summary Summary
	cancelled := make(map[string]struct{})

	live, err := s.list(ctx)
	if err != nil {
		summary.fail(err)
	}
	for _, sc := range live {
		if !liveMatch(sc) {
			continue
		}
		if err := s.cancel(ctx, sc.Handle); err != nil && !errors.Is(err, ErrReminderNotFound) {
			summary.fail(fmt.Errorf("item %q: %w", sc.ItemID, err))
			continue
		}
		cancelled[sc.Handle] = struct{}{}
		summary.Cancelled++
		s.emit(Event{Type: EventCancelled, ItemID: sc.ItemID, Kind: sc.Kind, Handle: sc.Handle, ScheduledFor: sc.TriggerAt, At: s.cfg.Now()})
	}

	records, err := s.records.List(ctx)
	if err != nil {
		summary.fail(fmt.Errorf("list reminder records: %w", err))
		return summary
	}
	for _, rec := range records {
		if !recordMatch(rec) {
			continue
		}
		if _, done := cancelled[rec.Handle]; !done {
			if err := s.cancel(ctx, rec.Handle); err != nil && !errors.Is(err, ErrReminderNotFound) {
				summary.fail(fmt.Errorf("item %q: %w", rec.ItemID, err))
				continue
			}
		}
		if err := s.records.Delete(ctx, rec.ItemID); err != nil {
			summary.fail(fmt.Errorf("item %q: delete reminder record: %w", rec.ItemID, err))
		}
	}
	return summary
}
