package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lachiem1/budgetbell/internal/app"
	"github.com/lachiem1/budgetbell/internal/dispatch"
	"github.com/lachiem1/budgetbell/internal/keychain"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/storage"
	"github.com/lachiem1/budgetbell/internal/tui"
)

const usage = `usage:
  budgetbell                      open the dashboard
  budgetbell reschedule           rebuild reminders for every item
  budgetbell reconcile            repair reminder records against live reminders
  budgetbell list                 list items
  budgetbell month [YYYY-MM]      print the month summary
  budgetbell add <income|expense> <label> <amount> <frequency> <YYYY-MM-DD> [category]
  budgetbell remove <id>          delete an item and its reminders
  budgetbell cancel [income|expense]
  budgetbell run                  fire due reminders and log them
  budgetbell token set            store the document store token
  budgetbell wipe                 delete the local database and stored secrets`

func main() {
	args := os.Args[1:]
	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "budgetbell: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return runDashboard()
	}

	switch args[0] {
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	case "token":
		if len(args) != 2 || args[1] != "set" {
			return errors.New("usage: budgetbell token set")
		}
		if err := runTokenSet(); err != nil {
			return fmt.Errorf("token set: %w", err)
		}
		fmt.Println("Token saved to your system credential store.")
		return nil
	case "wipe":
		return runWipe()
	}

	logger := newLogger(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, closeAll, err := open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeAll()
	svc := rt.Service

	switch args[0] {
	case "reschedule":
		return runReschedule(ctx, svc, logger)
	case "reconcile":
		summary, err := svc.Reconcile(ctx)
		if err != nil {
			return err
		}
		logSummary(logger, "reconcile", summary)
		return nil
	case "list":
		return runList(ctx, svc, os.Stdout)
	case "month":
		return runMonth(ctx, svc, args[1:], os.Stdout)
	case "add":
		return runAdd(ctx, svc, args[1:], os.Stdout)
	case "remove":
		if len(args) != 2 {
			return errors.New("usage: budgetbell remove <id>")
		}
		if err := svc.RemoveItem(ctx, args[1]); err != nil {
			return err
		}
		logger.Info("item removed", "item", args[1])
		return nil
	case "cancel":
		return runCancel(ctx, svc, args[1:], logger)
	case "run":
		return runDispatch(ctx, rt, logger)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(os.Getenv("BUDGETBELL_LOG_LEVEL"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func open(ctx context.Context, logger *slog.Logger) (*app.Runtime, func(), error) {
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	db, dbCfg, err := storage.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("database opened", "path", dbCfg.Path, "mode", dbCfg.Mode)

	rt, err := app.Build(ctx, db, cfg, reminderEventLogger(logger))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	closeAll := func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close reminder backend", "err", err)
		}
		if err := db.Close(); err != nil {
			logger.Warn("close database", "err", err)
		}
	}
	return rt, closeAll, nil
}

func reminderEventLogger(logger *slog.Logger) func(reminder.Event) {
	return func(evt reminder.Event) {
		attrs := []any{"item", evt.ItemID, "kind", evt.Kind}
		if evt.Handle != "" {
			attrs = append(attrs, "handle", evt.Handle)
		}
		if !evt.ScheduledFor.IsZero() {
			attrs = append(attrs, "at", evt.ScheduledFor)
		}
		if evt.Err != nil {
			logger.Warn(string(evt.Type), append(attrs, "err", evt.Err)...)
			return
		}
		logger.Debug(string(evt.Type), attrs...)
	}
}

func dispatchEventLogger(logger *slog.Logger) func(dispatch.Event) {
	return func(evt dispatch.Event) {
		switch evt.Type {
		case dispatch.EventFired:
			logger.Info("reminder fired", "source", evt.Source, "item", evt.Fired.ItemID, "title", evt.Fired.Title, "occurrence", evt.Fired.OccurrenceDate.Format("2006-01-02"))
		case dispatch.EventHandlerFailed:
			logger.Warn("reminder not delivered", "source", evt.Source, "handle", evt.Fired.Handle, "err", evt.Err)
		case dispatch.EventPollFailed:
			logger.Warn("poll failed", "err", evt.Err, "retry_in", evt.RetryIn)
		default:
			logger.Debug(string(evt.Type), "source", evt.Source, "count", evt.Count)
		}
	}
}

func logSummary(logger *slog.Logger, op string, s reminder.Summary) {
	logger.Info(op,
		"scheduled", s.Scheduled,
		"overdue", s.Overdue,
		"cancelled", s.Cancelled,
		"pruned", s.Pruned,
		"failed", s.Failed,
	)
	if s.PermissionDenied {
		logger.Warn("reminder permission denied; items will be retried on the next pass")
	}
	for _, err := range s.Errors {
		logger.Warn(op+" item failed", "err", err)
	}
}

func runDashboard() error {
	logOut := io.Discard
	if path := strings.TrimSpace(os.Getenv("BUDGETBELL_LOG_FILE")); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	rt, closeAll, err := open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	summary, err := rt.Service.Reschedule(ctx)
	if err != nil {
		return err
	}
	logSummary(logger, "reschedule", summary)

	engine, err := rt.Service.NewDispatcher(rt.Sources, dispatchEventLogger(logger))
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	_, err = tea.NewProgram(tui.New(rt.Service), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func runWipe() error {
	cfg, err := storage.Wipe()
	if err != nil {
		return err
	}
	if err := keychain.Forget(); err != nil {
		return err
	}
	fmt.Printf("Removed local database at %s and stored secrets.\n", cfg.Path)
	return nil
}
