package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/lachiem1/budgetbell/internal/app"
	"github.com/lachiem1/budgetbell/internal/keychain"
	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/workflow"
)

func runReschedule(ctx context.Context, svc *app.Service, logger *slog.Logger) error {
	summary, err := svc.Reschedule(ctx)
	if err != nil {
		return err
	}
	logSummary(logger, "reschedule", summary)
	return summary.Err()
}

func runCancel(ctx context.Context, svc *app.Service, args []string, logger *slog.Logger) error {
	var kind ledger.Kind
	switch len(args) {
	case 0:
	case 1:
		k, err := ledger.ParseKind(args[0])
		if err != nil {
			return err
		}
		kind = k
	default:
		return errors.New("usage: budgetbell cancel [income|expense]")
	}
	summary := svc.CancelReminders(ctx, kind)
	logSummary(logger, "cancel", summary)
	return summary.Err()
}

func runList(ctx context.Context, svc *app.Service, out io.Writer) error {
	items, err := svc.Items(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tLABEL\tAMOUNT\tFREQUENCY\tNEXT\tCATEGORY")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Kind, it.Label, it.Amount.StringFixed(2), it.Frequency,
			recurrence.FormatDate(it.AnchorDate), it.Category)
	}
	return w.Flush()
}

func runMonth(ctx context.Context, svc *app.Service, args []string, out io.Writer) error {
	month := recurrence.MonthOf(time.Now())
	if len(args) > 0 {
		m, err := recurrence.ParseMonth(args[0])
		if err != nil {
			return err
		}
		month = m
	}

	view, err := svc.Month(ctx, month)
	if err != nil {
		if view.Month == (recurrence.Month{}) {
			return err
		}
		// Totals for the valid items are still worth printing.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Month\t%s\n", month)
	fmt.Fprintf(w, "Income received\t%s\n", view.Income.Received.StringFixed(2))
	fmt.Fprintf(w, "Income projected\t%s\n", view.Income.Projected.StringFixed(2))
	fmt.Fprintf(w, "Income confirmed\t%s\n", view.ConfirmedIncome.StringFixed(2))
	fmt.Fprintf(w, "Bills paid\t%s\n", view.Expense.Received.StringFixed(2))
	fmt.Fprintf(w, "Bills projected\t%s\n", view.Expense.Projected.StringFixed(2))
	fmt.Fprintf(w, "Unconfirmed past due\t%d\n", view.Income.Overdue+view.Expense.Overdue)
	fmt.Fprintf(w, "Monthly income\t%s\n", view.MonthlyIncome.StringFixed(2))
	fmt.Fprintf(w, "Savings / needs / wants\t%s / %s / %s\n",
		view.Budget.Savings.StringFixed(2), view.Budget.Needs.StringFixed(2), view.Budget.Wants.StringFixed(2))
	for _, p := range view.Payments {
		fmt.Fprintf(w, "Paid %s\t%s %s\n", recurrence.FormatDate(p.OccurrenceDate), p.Amount.StringFixed(2), p.Category)
	}
	return w.Flush()
}

func runAdd(ctx context.Context, svc *app.Service, args []string, out io.Writer) error {
	if len(args) < 5 || len(args) > 6 {
		return errors.New("usage: budgetbell add <income|expense> <label> <amount> <frequency> <YYYY-MM-DD> [category]")
	}
	kind, err := ledger.ParseKind(args[0])
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(strings.TrimPrefix(args[2], "$"))
	if err != nil {
		return fmt.Errorf("amount %q is not a number", args[2])
	}
	anchor, err := recurrence.ParseDate(args[4])
	if err != nil {
		return err
	}
	input := ledger.ItemInput{
		Kind:       kind,
		Label:      args[1],
		Amount:     amount,
		Frequency:  args[3],
		AnchorDate: anchor,
	}
	if len(args) == 6 {
		input.Category = args[5]
	}

	it, err := svc.AddItem(ctx, input)
	if it.ID == "" {
		return err
	}
	fmt.Fprintln(out, it.ID)
	if err != nil {
		// The item is stored; only the follow-up steps failed.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return nil
}

// runDispatch fires due reminders until interrupted. There is no one to
// answer prompts here, so each is logged and skipped; the occurrence stays
// unconfirmed.
func runDispatch(ctx context.Context, rt *app.Runtime, logger *slog.Logger) error {
	svc := rt.Service
	summary, err := svc.Reschedule(ctx)
	if err != nil {
		return err
	}
	logSummary(logger, "reschedule", summary)

	engine, err := svc.NewDispatcher(rt.Sources, dispatchEventLogger(logger))
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()
	logger.Info("dispatch running", "sources", len(rt.Sources))

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatch stopped")
			return nil
		case p := <-svc.Prompts():
			logger.Info("prompt raised", "item", p.ItemID, "kind", p.Kind, "occurrence", recurrence.FormatDate(p.OccurrenceDate))
			if err := svc.Skip(p); err != nil && !errors.Is(err, workflow.ErrAlreadyResolved) {
				logger.Warn("skip prompt", "err", err)
			}
		}
	}
}

func runTokenSet() error {
	fmt.Print("Enter document store token: ")
	token, err := readSecret()
	if err != nil {
		return err
	}
	fmt.Println()

	if strings.TrimSpace(token) == "" {
		return errors.New("empty token")
	}
	return keychain.SaveDocstoreToken(strings.TrimSpace(token))
}

func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		value, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(value), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		if len(line) == 0 {
			return "", err
		}
	}
	return strings.TrimSpace(line), nil
}
