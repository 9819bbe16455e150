package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

func TestNewItemNormalizesInput(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	it, err := NewItem(ItemInput{
		Kind:       KindExpense,
		Label:      "  Phone   bill ",
		Amount:     decimal.RequireFromString("65.50"),
		Frequency:  "Monthly",
		AnchorDate: time.Date(2024, time.March, 20, 17, 45, 0, 0, time.UTC),
		Category:   "  Utilities ",
	}, now)
	if err != nil {
		t.Fatalf("NewItem() unexpected error: %v", err)
	}
	if it.ID == "" {
		t.Fatal("NewItem() id is empty")
	}
	if it.Label != "Phone bill" {
		t.Fatalf("Label = %q, want %q", it.Label, "Phone bill")
	}
	if it.Category != "utilities" {
		t.Fatalf("Category = %q, want %q", it.Category, "utilities")
	}
	if it.Frequency != recurrence.Monthly {
		t.Fatalf("Frequency = %q, want %q", it.Frequency, recurrence.Monthly)
	}
	if want := recurrence.Date(2024, time.March, 20); !it.AnchorDate.Equal(want) {
		t.Fatalf("AnchorDate = %s, want %s", it.AnchorDate, want)
	}
	if it.Revision != 1 {
		t.Fatalf("Revision = %d, want 1", it.Revision)
	}
}

func TestNewItemRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	base := ItemInput{
		Kind:       KindIncome,
		Label:      "Salary",
		Amount:     decimal.RequireFromString("1000"),
		Frequency:  "biweekly",
		AnchorDate: recurrence.Date(2024, time.March, 1),
	}
	tests := []struct {
		name    string
		mutate  func(*ItemInput)
		wantErr error
	}{
		{name: "zero amount", mutate: func(in *ItemInput) { in.Amount = decimal.Zero }, wantErr: ErrInvalidItem},
		{name: "negative amount", mutate: func(in *ItemInput) { in.Amount = decimal.NewFromInt(-5) }, wantErr: ErrInvalidItem},
		{name: "blank label", mutate: func(in *ItemInput) { in.Label = "   " }, wantErr: ErrInvalidItem},
		{name: "unknown kind", mutate: func(in *ItemInput) { in.Kind = "transfer" }, wantErr: ErrInvalidItem},
		{name: "missing anchor", mutate: func(in *ItemInput) { in.AnchorDate = time.Time{} }, wantErr: ErrInvalidItem},
		{name: "bad frequency", mutate: func(in *ItemInput) { in.Frequency = "daily" }, wantErr: recurrence.ErrInvalidFrequency},
	}
	for _, tc := range tests {
		in := base
		tc.mutate(&in)
		if _, err := NewItem(in, time.Now()); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: NewItem() error = %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestApplyInputKeepsIdentity(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	confirmed := time.Date(2024, time.February, 2, 0, 0, 0, 0, time.UTC)
	it := Item{ID: "item-1", Revision: 7, CreatedAt: created, LastConfirmedAt: &confirmed}

	updated, err := it.ApplyInput(ItemInput{
		Kind:       KindIncome,
		Label:      "Side gig",
		Amount:     decimal.RequireFromString("200"),
		Frequency:  "weekly",
		AnchorDate: recurrence.Date(2024, time.March, 4),
	}, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ApplyInput() unexpected error: %v", err)
	}
	if updated.ID != "item-1" || updated.Revision != 7 || !updated.CreatedAt.Equal(created) {
		t.Fatalf("ApplyInput() identity = (%q, %d, %s), want (item-1, 7, %s)", updated.ID, updated.Revision, updated.CreatedAt, created)
	}
	if updated.LastConfirmedAt == nil || !updated.LastConfirmedAt.Equal(confirmed) {
		t.Fatalf("ApplyInput() LastConfirmedAt = %v, want %s", updated.LastConfirmedAt, confirmed)
	}
	if updated.Category != "" {
		t.Fatalf("income Category = %q, want empty", updated.Category)
	}
}

func TestNewConfirmationCreditsConfirmationMonth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
	}{
		{name: "income", kind: KindIncome},
		{name: "expense", kind: KindExpense},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			it := Item{
				ID:         "item",
				Kind:       tc.kind,
				Amount:     decimal.RequireFromString("1200"),
				Frequency:  recurrence.Biweekly,
				AnchorDate: recurrence.Date(2024, time.February, 23),
				Revision:   3,
			}
			// Confirmed a week late, in the following month.
			now := time.Date(2024, time.March, 2, 9, 30, 0, 0, time.UTC)
			c, err := NewConfirmation(it, it.AnchorDate, now)
			if err != nil {
				t.Fatalf("NewConfirmation() unexpected error: %v", err)
			}
			if want := (recurrence.Month{Year: 2024, Month: time.March}); c.Month != want {
				t.Fatalf("Month = %s, want %s", c.Month, want)
			}
			if want := recurrence.Date(2024, time.March, 8); !c.NextAnchor.Equal(want) {
				t.Fatalf("NextAnchor = %s, want %s", recurrence.FormatDate(c.NextAnchor), recurrence.FormatDate(want))
			}
			if tc.kind == KindExpense {
				if c.Payment == nil || !c.Payment.OccurrenceDate.Equal(it.AnchorDate) {
					t.Fatalf("Payment = %+v, want entry dated at the occurrence", c.Payment)
				}
			} else if c.Payment != nil {
				t.Fatalf("Payment = %+v, want nil for income", c.Payment)
			}
		})
	}
}

func TestComputeMonthlyTotals(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ID: "pay", Kind: KindIncome, Amount: decimal.RequireFromString("1500"), Frequency: recurrence.Biweekly, AnchorDate: recurrence.Date(2024, time.March, 15)},
		{ID: "gig", Kind: KindIncome, Amount: decimal.RequireFromString("100"), Frequency: recurrence.Weekly, AnchorDate: recurrence.Date(2024, time.March, 14)},
		{ID: "rent", Kind: KindExpense, Amount: decimal.RequireFromString("1200"), Frequency: recurrence.Monthly, AnchorDate: recurrence.Date(2024, time.April, 1)},
	}
	asOf := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	march := recurrence.Month{Year: 2024, Month: time.March}

	income, err := ComputeMonthlyTotals(items, KindIncome, march, asOf)
	if err != nil {
		t.Fatalf("ComputeMonthlyTotals(income) unexpected error: %v", err)
	}
	// pay: Mar 1 received, Mar 15 upcoming. gig: Mar 7 received, Mar 14 upcoming.
	if want := decimal.RequireFromString("1600"); !income.Received.Equal(want) {
		t.Fatalf("income Received = %s, want %s", income.Received, want)
	}
	if want := decimal.RequireFromString("3200"); !income.Projected.Equal(want) {
		t.Fatalf("income Projected = %s, want %s", income.Projected, want)
	}

	expense, err := ComputeMonthlyTotals(items, KindExpense, march, asOf)
	if err != nil {
		t.Fatalf("ComputeMonthlyTotals(expense) unexpected error: %v", err)
	}
	if want := decimal.RequireFromString("1200"); !expense.Received.Equal(want) || !expense.Projected.Equal(want) {
		t.Fatalf("expense totals = (%s, %s), want (%s, %s)", expense.Received, expense.Projected, want, want)
	}
}

func TestComputeMonthlyTotalsSkipsInvalidFrequency(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ID: "ok", Kind: KindIncome, Amount: decimal.RequireFromString("10"), Frequency: recurrence.Monthly, AnchorDate: recurrence.Date(2024, time.March, 20)},
		{ID: "bad", Kind: KindIncome, Amount: decimal.RequireFromString("99"), Frequency: "yearly", AnchorDate: recurrence.Date(2024, time.March, 20)},
	}
	totals, err := ComputeMonthlyTotals(items, KindIncome, recurrence.Month{Year: 2024, Month: time.March}, recurrence.Date(2024, time.March, 1))
	if !errors.Is(err, recurrence.ErrInvalidFrequency) {
		t.Fatalf("ComputeMonthlyTotals() error = %v, want ErrInvalidFrequency", err)
	}
	if want := decimal.RequireFromString("10"); !totals.Projected.Equal(want) {
		t.Fatalf("Projected = %s, want %s", totals.Projected, want)
	}
}

func TestBudgetPlanSplitAddsBackToIncome(t *testing.T) {
	t.Parallel()

	income := decimal.RequireFromString("3333.33")
	split, err := DefaultBudgetPlan().Split(income)
	if err != nil {
		t.Fatalf("Split() unexpected error: %v", err)
	}
	if want := decimal.RequireFromString("666.67"); !split.Savings.Equal(want) {
		t.Fatalf("Savings = %s, want %s", split.Savings, want)
	}
	if want := decimal.RequireFromString("1666.67"); !split.Needs.Equal(want) {
		t.Fatalf("Needs = %s, want %s", split.Needs, want)
	}
	if sum := split.Savings.Add(split.Needs).Add(split.Wants); !sum.Equal(income) {
		t.Fatalf("split sum = %s, want %s", sum, income)
	}
}

func TestBudgetPlanValidate(t *testing.T) {
	t.Parallel()

	if err := (BudgetPlan{SavingsPercent: 10, NeedsPercent: 60, WantsPercent: 20}).Validate(); !errors.Is(err, ErrInvalidBudgetPlan) {
		t.Fatalf("Validate() error = %v, want ErrInvalidBudgetPlan", err)
	}
	if err := (BudgetPlan{SavingsPercent: -10, NeedsPercent: 80, WantsPercent: 30}).Validate(); !errors.Is(err, ErrInvalidBudgetPlan) {
		t.Fatalf("Validate() error = %v, want ErrInvalidBudgetPlan", err)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]Kind{"income": KindIncome, "Payday": KindIncome, "expense": KindExpense, "bill": KindExpense} {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = (%q, %v), want (%q, nil)", raw, got, err, want)
		}
	}
	if _, err := ParseKind("savings"); err == nil {
		t.Fatal("ParseKind(savings) error = nil, want non-nil")
	}
}
