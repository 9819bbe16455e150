package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

var ErrInvalidBudgetPlan = errors.New("budget plan percentages must sum to 100")

// MonthlyTotals is derived from the calendar on demand and never stored as the
// source of truth.
type MonthlyTotals struct {
	Month     recurrence.Month
	Received  decimal.Decimal
	Projected decimal.Decimal
	Overdue   int
}

// Summary aggregates one month for both kinds.
type Summary struct {
	Month   recurrence.Month
	Income  MonthlyTotals
	Expense MonthlyTotals
	// MonthlyIncome is the monthly-equivalent income used for the budget split.
	MonthlyIncome  decimal.Decimal
	MonthlyExpense decimal.Decimal
	Budget         BudgetSplit
}

// ComputeMonthlyTotals sums the occurrences of items of the given kind that
// fall in month. Items with an invalid frequency are reported in the joined
// error and left out of the totals.
func ComputeMonthlyTotals(items []Item, kind Kind, month recurrence.Month, asOf time.Time) (MonthlyTotals, error) {
	totals := MonthlyTotals{Month: month, Received: decimal.Zero, Projected: decimal.Zero}
	var errs []error
	for _, it := range items {
		if it.Kind != kind {
			continue
		}
		occ, err := recurrence.OccurrencesInMonth(it.Series(), month, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %q: %w", it.ID, err))
			continue
		}
		totals.Received = totals.Received.Add(it.Amount.Mul(decimal.NewFromInt(int64(len(occ.Past)))))
		totals.Projected = totals.Projected.Add(it.Amount.Mul(decimal.NewFromInt(int64(occ.Count()))))
		totals.Overdue += len(occ.Overdue)
	}
	return totals, errors.Join(errs...)
}

// MonthlyEquivalentTotal sums the monthly equivalents of items of kind.
func MonthlyEquivalentTotal(items []Item, kind Kind) (decimal.Decimal, error) {
	total := decimal.Zero
	var errs []error
	for _, it := range items {
		if it.Kind != kind {
			continue
		}
		eq, err := recurrence.MonthlyEquivalent(it.Amount, it.Frequency)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %q: %w", it.ID, err))
			continue
		}
		total = total.Add(eq)
	}
	return total, errors.Join(errs...)
}

// Summarize builds the month view shown on the dashboard.
func Summarize(items []Item, month recurrence.Month, asOf time.Time, plan BudgetPlan) (Summary, error) {
	income, incomeErr := ComputeMonthlyTotals(items, KindIncome, month, asOf)
	expense, expenseErr := ComputeMonthlyTotals(items, KindExpense, month, asOf)
	monthlyIncome, eqIncomeErr := MonthlyEquivalentTotal(items, KindIncome)
	monthlyExpense, eqExpenseErr := MonthlyEquivalentTotal(items, KindExpense)
	split, planErr := plan.Split(monthlyIncome)
	return Summary{
		Month:          month,
		Income:         income,
		Expense:        expense,
		MonthlyIncome:  monthlyIncome,
		MonthlyExpense: monthlyExpense,
		Budget:         split,
	}, errors.Join(incomeErr, expenseErr, eqIncomeErr, eqExpenseErr, planErr)
}

// BudgetPlan holds whole-number percentages of monthly income.
type BudgetPlan struct {
	SavingsPercent int
	NeedsPercent   int
	WantsPercent   int
}

func DefaultBudgetPlan() BudgetPlan {
	return BudgetPlan{SavingsPercent: 20, NeedsPercent: 50, WantsPercent: 30}
}

func (p BudgetPlan) Validate() error {
	for _, v := range []int{p.SavingsPercent, p.NeedsPercent, p.WantsPercent} {
		if v < 0 {
			return fmt.Errorf("%w: negative percentage %d", ErrInvalidBudgetPlan, v)
		}
	}
	if sum := p.SavingsPercent + p.NeedsPercent + p.WantsPercent; sum != 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidBudgetPlan, sum)
	}
	return nil
}

type BudgetSplit struct {
	Savings decimal.Decimal
	Needs   decimal.Decimal
	Wants   decimal.Decimal
}

// Split divides income by the plan. Wants absorbs any rounding remainder so
// the three parts always add back to income.
func (p BudgetPlan) Split(income decimal.Decimal) (BudgetSplit, error) {
	if err := p.Validate(); err != nil {
		return BudgetSplit{Savings: decimal.Zero, Needs: decimal.Zero, Wants: decimal.Zero}, err
	}
	hundred := decimal.NewFromInt(100)
	savings := income.Mul(decimal.NewFromInt(int64(p.SavingsPercent))).Div(hundred).Round(2)
	needs := income.Mul(decimal.NewFromInt(int64(p.NeedsPercent))).Div(hundred).Round(2)
	return BudgetSplit{
		Savings: savings,
		Needs:   needs,
		Wants:   income.Sub(savings).Sub(needs),
	}, nil
}
