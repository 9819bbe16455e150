package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lachiem1/budgetbell/internal/reminder"
)

type fakeSource struct {
	name string

	mu      sync.Mutex
	pending  []reminder.Scheduled
	requeued []string
	calls    int
	err      error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) ClaimDue(_ context.Context, now time.Time, limit int) ([]reminder.Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out, rest []reminder.Scheduled
	for _, sc := range s.pending {
		if len(out) < limit && !sc.TriggerAt.After(now) {
			out = append(out, sc)
			continue
		}
		rest = append(rest, sc)
	}
	s.pending = rest
	return out, nil
}

func (s *fakeSource) Requeue(_ context.Context, sc reminder.Scheduled) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, sc)
	s.requeued = append(s.requeued, sc.Handle)
	return nil
}

func (s *fakeSource) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func due(handle string, offset time.Duration) reminder.Scheduled {
	return reminder.Scheduled{
		Handle:  handle,
		Request: reminder.Request{ItemID: "item-" + handle, TriggerAt: testNow.Add(offset)},
	}
}

func TestNewRejectsBadRegistry(t *testing.T) {
	t.Parallel()

	handler := func(context.Context, reminder.Scheduled) error { return nil }
	tests := []struct {
		name    string
		sources []Source
		handler Handler
	}{
		{name: "no sources", sources: nil, handler: handler},
		{name: "empty name", sources: []Source{&fakeSource{}}, handler: handler},
		{name: "duplicate", sources: []Source{&fakeSource{name: "a"}, &fakeSource{name: "a"}}, handler: handler},
		{name: "nil handler", sources: []Source{&fakeSource{name: "a"}}, handler: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(Config{}, tc.sources, tc.handler, nil); err == nil {
				t.Fatal("New() error = nil, want non-nil")
			}
		})
	}
}

func TestPollOnceDeliversOnlyDueReminders(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "sqlite", pending: []reminder.Scheduled{
		due("a", -time.Hour),
		due("b", 0),
		due("c", time.Hour),
	}}
	var got []string
	var events []EventType
	engine, err := New(
		Config{Now: func() time.Time { return testNow }},
		[]Source{src},
		func(_ context.Context, fired reminder.Scheduled) error {
			got = append(got, fired.Handle)
			return nil
		},
		func(evt Event) { events = append(events, evt.Type) },
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	n, err := engine.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("PollOnce() delivered = %d, want 2", n)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("delivered handles = %v, want [a b]", got)
	}
	if src.remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", src.remaining())
	}
	if events[0] != EventPollStarted || events[len(events)-1] != EventPollOK {
		t.Fatalf("events = %v, want poll_started ... poll_ok", events)
	}
}

func TestPollOnceDrainsInBatches(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "sqlite"}
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		src.pending = append(src.pending, due(h, -time.Minute))
	}
	engine, err := New(
		Config{BatchSize: 2, Now: func() time.Time { return testNow }},
		[]Source{src},
		func(context.Context, reminder.Scheduled) error { return nil },
		nil,
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	n, err := engine.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("PollOnce() delivered = %d, want 5", n)
	}
	if src.calls != 3 {
		t.Fatalf("ClaimDue calls = %d, want 3", src.calls)
	}
}

func TestPollOnceIsolatesFailures(t *testing.T) {
	t.Parallel()

	broken := &fakeSource{name: "redis", err: errors.New("connection refused")}
	healthy := &fakeSource{name: "sqlite", pending: []reminder.Scheduled{due("a", 0), due("b", 0)}}
	handlerErr := errors.New("prompt rejected")

	var failed []string
	engine, err := New(
		Config{Now: func() time.Time { return testNow }},
		[]Source{healthy, broken},
		func(_ context.Context, fired reminder.Scheduled) error {
			if fired.Handle == "a" {
				return handlerErr
			}
			return nil
		},
		func(evt Event) {
			if evt.Type == EventHandlerFailed {
				failed = append(failed, evt.Fired.Handle)
			}
		},
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	n, err := engine.PollOnce(context.Background())
	if err == nil {
		t.Fatal("PollOnce() error = nil, want non-nil")
	}
	if !errors.Is(err, handlerErr) {
		t.Fatalf("PollOnce() error = %v, want wrapped handler error", err)
	}
	if n != 0 {
		t.Fatalf("PollOnce() delivered = %d, want 0", n)
	}
	if len(failed) != 1 || failed[0] != "a" {
		t.Fatalf("failed handles = %v, want [a]", failed)
	}
	// The failed reminder and the rest of its batch go back to the source.
	if healthy.remaining() != 2 {
		t.Fatalf("healthy remaining = %d, want 2", healthy.remaining())
	}
	if broken.calls != 1 {
		t.Fatalf("broken ClaimDue calls = %d, want 1", broken.calls)
	}
}

func TestPollOnceRedeliversAfterHandlerFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "sqlite", pending: []reminder.Scheduled{due("a", -time.Hour), due("b", 0)}}
	queueFull := errors.New("prompt queue is full")
	rejecting := true

	var got []string
	engine, err := New(
		Config{Now: func() time.Time { return testNow }},
		[]Source{src},
		func(_ context.Context, fired reminder.Scheduled) error {
			if rejecting {
				return queueFull
			}
			got = append(got, fired.Handle)
			return nil
		},
		nil,
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	n, err := engine.PollOnce(context.Background())
	if !errors.Is(err, queueFull) {
		t.Fatalf("PollOnce() error = %v, want %v", err, queueFull)
	}
	if n != 0 {
		t.Fatalf("PollOnce() delivered = %d, want 0", n)
	}
	if len(src.requeued) != 2 || src.requeued[0] != "a" || src.requeued[1] != "b" {
		t.Fatalf("requeued = %v, want [a b]", src.requeued)
	}

	rejecting = false
	n, err = engine.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second PollOnce() unexpected error: %v", err)
	}
	if n != 2 || len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("second PollOnce() = %d %v, want 2 [a b]", n, got)
	}
	if src.remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", src.remaining())
	}
}

func TestStartTriggerStop(t *testing.T) {
	t.Parallel()

	src := &fakeSource{name: "sqlite"}
	fired := make(chan string, 4)
	engine, err := New(
		Config{PollInterval: time.Hour, Now: func() time.Time { return testNow }},
		[]Source{src},
		func(_ context.Context, sc reminder.Scheduled) error {
			fired <- sc.Handle
			return nil
		},
		nil,
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	if err := engine.Trigger(); err == nil {
		t.Fatal("Trigger() before Start error = nil, want non-nil")
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("second Start() error = nil, want non-nil")
	}
	if !engine.Running() {
		t.Fatal("Running() = false, want true")
	}

	src.mu.Lock()
	src.pending = append(src.pending, due("late", 0))
	src.mu.Unlock()
	if err := engine.Trigger(); err != nil {
		t.Fatalf("Trigger() unexpected error: %v", err)
	}

	select {
	case h := <-fired:
		if h != "late" {
			t.Fatalf("fired = %q, want %q", h, "late")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for triggered poll")
	}

	engine.Stop()
	if engine.Running() {
		t.Fatal("Running() after Stop = true, want false")
	}
}

func TestScheduleRetryClampsToLastBackoff(t *testing.T) {
	t.Parallel()

	backoff := []time.Duration{time.Second, 2 * time.Second}
	timer, _, next, delay := scheduleRetry(nil, backoff, 5)
	defer timer.Stop()
	if delay != 2*time.Second {
		t.Fatalf("delay = %s, want 2s", delay)
	}
	if next != 1 {
		t.Fatalf("next index = %d, want 1", next)
	}
}
