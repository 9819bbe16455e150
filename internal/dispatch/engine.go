package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lachiem1/budgetbell/internal/reminder"
)

// Source hands out reminders that have come due. A claimed reminder is removed
// from the source and never handed out again unless it is requeued.
type Source interface {
	Name() string
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]reminder.Scheduled, error)
	// Requeue puts a claimed reminder back under its original handle.
	Requeue(ctx context.Context, sc reminder.Scheduled) error
}

// Handler receives each fired reminder. When it fails, the reminder and the
// rest of its batch go back to the source and are retried on a later poll.
type Handler func(ctx context.Context, fired reminder.Scheduled) error

type EventType string

const (
	EventPollStarted   EventType = "poll_started"
	EventPollOK        EventType = "poll_ok"
	EventPollFailed    EventType = "poll_failed"
	EventFired         EventType = "reminder_fired"
	EventHandlerFailed EventType = "handler_failed"
)

type Event struct {
	Type    EventType
	Source  string
	At      time.Time
	Fired   *reminder.Scheduled
	Count   int
	Err     error
	RetryIn time.Duration
}

type Config struct {
	PollInterval time.Duration
	Backoff      []time.Duration
	BatchSize    int
	Now          func() time.Time
}

type Engine struct {
	cfg     Config
	sources []Source
	handler Handler
	onEvent func(Event)

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	manual chan struct{}
	done   chan struct{}
}

func New(cfg Config, sources []Source, handler Handler, onEvent func(Event)) (*Engine, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if handler == nil {
		return nil, errors.New("dispatch handler is required")
	}

	seen := make(map[string]struct{}, len(sources))
	registry := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			continue
		}
		name := s.Name()
		if name == "" {
			return nil, errors.New("reminder source has empty name")
		}
		if _, exists := seen[name]; exists {
			return nil, fmt.Errorf("duplicate reminder source %q", name)
		}
		seen[name] = struct{}{}
		registry = append(registry, s)
	}
	if len(registry) == 0 {
		return nil, errors.New("at least one reminder source is required")
	}
	sort.Slice(registry, func(i, j int) bool { return registry[i].Name() < registry[j].Name() })

	return &Engine{cfg: cfg, sources: registry, handler: handler, onEvent: onEvent}, nil
}

// Start begins polling in the background until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return errors.New("dispatch engine already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	state := &activeRun{
		cancel: cancel,
		manual: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	e.active = state
	go e.runLoop(runCtx, state)
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	state := e.active
	e.active = nil
	e.mu.Unlock()

	if state != nil {
		state.cancel()
		<-state.done
	}
}

// Trigger asks the running loop to poll now.
func (e *Engine) Trigger() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return errors.New("dispatch engine not running")
	}
	select {
	case e.active.manual <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

func (e *Engine) runLoop(ctx context.Context, state *activeRun) {
	defer close(state.done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var retryTimer *time.Timer
	var retryC <-chan time.Time
	backoffIdx := 0

	poll := func() {
		if _, err := e.PollOnce(ctx); err != nil && ctx.Err() == nil {
			var delay time.Duration
			retryTimer, retryC, backoffIdx, delay = scheduleRetry(retryTimer, e.cfg.Backoff, backoffIdx)
			e.emit(Event{Type: EventPollFailed, At: e.cfg.Now().UTC(), Err: err, RetryIn: delay})
			return
		}
		backoffIdx = 0
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			if retryTimer != nil {
				retryTimer.Stop()
			}
			return
		case <-state.manual:
			if retryTimer != nil {
				retryTimer.Stop()
				retryTimer = nil
				retryC = nil
			}
			poll()
		case <-ticker.C:
			if retryC != nil {
				continue
			}
			poll()
		case <-retryC:
			retryTimer = nil
			retryC = nil
			poll()
		}
	}
}

func scheduleRetry(current *time.Timer, backoff []time.Duration, index int) (*time.Timer, <-chan time.Time, int, time.Duration) {
	if current != nil {
		current.Stop()
	}
	if index >= len(backoff) {
		index = len(backoff) - 1
	}
	delay := backoff[index]
	t := time.NewTimer(delay)
	nextIdx := index + 1
	if nextIdx >= len(backoff) {
		nextIdx = len(backoff) - 1
	}
	return t, t.C, nextIdx, delay
}

// PollOnce claims every due reminder from each source and delivers it. It
// returns how many reminders were delivered successfully.
func (e *Engine) PollOnce(ctx context.Context) (int, error) {
	var (
		delivered int
		errs      []error
	)
	for _, s := range e.sources {
		n, err := e.drain(ctx, s)
		delivered += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return delivered, errors.Join(errs...)
}

func (e *Engine) drain(ctx context.Context, s Source) (int, error) {
	e.emit(Event{Type: EventPollStarted, Source: s.Name(), At: e.cfg.Now().UTC()})

	delivered := 0
	for {
		batch, err := s.ClaimDue(ctx, e.cfg.Now(), e.cfg.BatchSize)
		if err != nil {
			return delivered, fmt.Errorf("source %q: %w", s.Name(), err)
		}
		for i := range batch {
			fired := batch[i]
			if err := e.handler(ctx, fired); err != nil {
				e.emit(Event{Type: EventHandlerFailed, Source: s.Name(), At: e.cfg.Now().UTC(), Fired: &fired, Count: len(batch) - i, Err: err})
				failure := fmt.Errorf("reminder %q: %w", fired.Handle, err)
				if requeueErr := e.requeue(ctx, s, batch[i:]); requeueErr != nil {
					failure = errors.Join(failure, requeueErr)
				}
				return delivered, fmt.Errorf("source %q: %w", s.Name(), failure)
			}
			delivered++
			e.emit(Event{Type: EventFired, Source: s.Name(), At: e.cfg.Now().UTC(), Fired: &fired})
		}
		if len(batch) < e.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	e.emit(Event{Type: EventPollOK, Source: s.Name(), At: e.cfg.Now().UTC(), Count: delivered})
	return delivered, nil
}

// requeue returns undelivered reminders to s. It runs even when ctx is done
// so a stopping engine does not drop what it already claimed.
func (e *Engine) requeue(ctx context.Context, s Source, pending []reminder.Scheduled) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, sc := range pending {
		if err := s.Requeue(ctx, sc); err != nil {
			errs = append(errs, fmt.Errorf("requeue reminder %q: %w", sc.Handle, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) emit(evt Event) {
	if e.onEvent == nil {
		return
	}
	e.onEvent(evt)
}
