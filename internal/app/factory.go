package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lachiem1/budgetbell/internal/dispatch"
	"github.com/lachiem1/budgetbell/internal/docstore"
	"github.com/lachiem1/budgetbell/internal/keychain"
	"github.com/lachiem1/budgetbell/internal/redisqueue"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/storage"
)

var (
	loadDocstoreToken = keychain.LoadDocstoreToken
	dialRedis         = func(ctx context.Context, addr, prefix string) (reminderBackend, error) {
		return redisqueue.Dial(ctx, addr, prefix)
	}
)

type reminderBackend interface {
	reminder.Notifier
	dispatch.Source
	Close() error
}

// Runtime is a wired service plus the reminder sources it schedules into.
type Runtime struct {
	Service *Service
	Sources []dispatch.Source
	closers []func() error
}

func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires the service from cfg. Reminders go to Redis when a URL is
// configured and to the local queue table otherwise. Confirmations are
// mirrored only when a document store URL is set.
func Build(ctx context.Context, db *sql.DB, cfg Config, onReminderEvent func(reminder.Event)) (*Runtime, error) {
	rt := &Runtime{}

	var notifier reminder.Notifier
	if cfg.RedisURL != "" {
		backend, err := dialRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, backend.Close)
		notifier = backend
		rt.Sources = append(rt.Sources, backend)
	} else {
		queue := storage.NewReminderQueue(db)
		notifier = queue
		rt.Sources = append(rt.Sources, queue)
	}

	var publisher Publisher
	if cfg.DocstoreURL != "" {
		token, err := loadDocstoreToken()
		if err != nil {
			_ = rt.Close()
			if errors.Is(err, keychain.ErrNotFound) {
				return nil, fmt.Errorf("document store token missing; run 'budgetbell token set': %w", err)
			}
			return nil, err
		}
		client, err := docstore.New(cfg.DocstoreURL, cfg.User, token)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		publisher = docstore.NewMirror(client, storage.NewSyncStateRepo(db), storage.NewHistoryRepo(db))
	}

	svc, err := NewService(Deps{
		DB:              db,
		Notifier:        notifier,
		Publisher:       publisher,
		Location:        cfg.Location,
		OnReminderEvent: onReminderEvent,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}
