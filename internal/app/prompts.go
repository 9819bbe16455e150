package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lachiem1/budgetbell/internal/dispatch"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/workflow"
)

// Deliver turns a fired reminder into a pending prompt. It is the dispatch
// handler.
func (s *Service) Deliver(ctx context.Context, fired reminder.Scheduled) error {
	p := workflow.NewPrompt(fired)
	select {
	case s.prompts <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("reminder %q: %w", fired.Handle, ErrPromptQueueFull)
	}
}

// Prompts yields prompts in the order their reminders fired.
func (s *Service) Prompts() <-chan *workflow.Prompt {
	return s.prompts
}

func (s *Service) Confirm(ctx context.Context, p *workflow.Prompt) (workflow.Result, error) {
	return s.flow.Confirm(ctx, p)
}

func (s *Service) Defer(ctx context.Context, p *workflow.Prompt) (reminder.Scheduled, error) {
	return s.flow.Defer(ctx, p)
}

func (s *Service) Skip(p *workflow.Prompt) error {
	return s.flow.Skip(p)
}

// NewDispatcher builds the poll engine that feeds Deliver from sources.
func (s *Service) NewDispatcher(sources []dispatch.Source, onEvent func(dispatch.Event)) (*dispatch.Engine, error) {
	return dispatch.New(
		dispatch.Config{
			PollInterval: 30 * time.Second,
			Backoff:      []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second},
			BatchSize:    promptBuffer,
			Now:          s.now,
		},
		sources,
		s.Deliver,
		onEvent,
	)
}
