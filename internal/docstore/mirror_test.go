package docstore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

type recordedState struct {
	attempts  int
	successes int
	errs      []error
}

func (s *recordedState) RecordAttempt(context.Context, string, time.Time) error {
	s.attempts++
	return nil
}

func (s *recordedState) RecordSuccess(context.Context, string, time.Time) error {
	s.successes++
	return nil
}

func (s *recordedState) RecordError(_ context.Context, _ string, _ time.Time, err error) error {
	s.errs = append(s.errs, err)
	return nil
}

type fixedTotals decimal.Decimal

func (f fixedTotals) ConfirmedIncome(context.Context, recurrence.Month) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}

func TestMirrorPublishesIncomeConfirmation(t *testing.T) {
	t.Parallel()

	var calls []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls = append(calls, req.Method+" "+req.URL.Path)
		return respond(http.StatusOK, `{}`), nil
	})
	state := &recordedState{}
	mirror := NewMirror(client, state, fixedTotals(decimal.RequireFromString("2500")))

	it := sampleItem()
	c := ledger.Confirmation{
		ItemID:           it.ID,
		ExpectedRevision: 3,
		Month:            recurrence.Month{Year: 2024, Month: time.March},
		Amount:           it.Amount,
	}
	if err := mirror.PublishConfirmation(context.Background(), it, c); err != nil {
		t.Fatalf("PublishConfirmation() unexpected error: %v", err)
	}

	want := []string{
		"PATCH /v1/users/user one/items/item-1",
		"PUT /v1/users/user one/totals/2024-03",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
	if state.attempts != 1 || state.successes != 1 || len(state.errs) != 0 {
		t.Fatalf("sync state = %+v, want one attempt and one success", state)
	}
}

func TestMirrorPublishesExpensePayment(t *testing.T) {
	t.Parallel()

	var calls []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls = append(calls, req.Method+" "+req.URL.Path)
		return respond(http.StatusCreated, `{}`), nil
	})
	mirror := NewMirror(client, &recordedState{}, fixedTotals(decimal.Zero))

	it := sampleItem()
	it.Kind = ledger.KindExpense
	c := ledger.Confirmation{
		ItemID:           it.ID,
		ExpectedRevision: 3,
		Payment: &ledger.PaymentEntry{
			ID:             "pay-1",
			ItemID:         it.ID,
			Kind:           ledger.KindExpense,
			Amount:         it.Amount,
			OccurrenceDate: recurrence.Date(2024, time.March, 1),
			PaidAt:         time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	if err := mirror.PublishConfirmation(context.Background(), it, c); err != nil {
		t.Fatalf("PublishConfirmation() unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[1] != "POST /v1/users/user one/history" {
		t.Fatalf("calls = %v, want patch then history post", calls)
	}
}

func TestMirrorRecordsConflict(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusPreconditionFailed, ``), nil
	})
	state := &recordedState{}
	mirror := NewMirror(client, state, fixedTotals(decimal.Zero))

	err := mirror.PublishItem(context.Background(), sampleItem(), 3)
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("PublishItem() error = %v, want %v", err, ledger.ErrConflict)
	}
	if len(state.errs) != 1 || state.successes != 0 {
		t.Fatalf("sync state = %+v, want one recorded error", state)
	}
}
