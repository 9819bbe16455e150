package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidFrequency = errors.New("invalid frequency")

type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

var (
	weeklyFactor   = decimal.RequireFromString("4.33")
	biweeklyFactor = decimal.RequireFromString("2.17")
)

// FrequencyOptions lists the accepted frequencies in display order.
func FrequencyOptions() []Frequency {
	return []Frequency{Weekly, Biweekly, Monthly}
}

// ParseFrequency normalizes user input. "fortnightly" is accepted as an alias
// for biweekly.
func ParseFrequency(raw string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "weekly":
		return Weekly, nil
	case "biweekly", "fortnightly":
		return Biweekly, nil
	case "monthly":
		return Monthly, nil
	case "":
		return "", fmt.Errorf("%w: frequency is required", ErrInvalidFrequency)
	default:
		return "", fmt.Errorf("%w: unsupported frequency %q", ErrInvalidFrequency, raw)
	}
}

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

func (f Frequency) String() string {
	return string(f)
}

// periodDays is the fixed step for day-based frequencies. Monthly returns 0.
func (f Frequency) periodDays() int {
	switch f {
	case Weekly:
		return 7
	case Biweekly:
		return 14
	}
	return 0
}

// MonthlyEquivalent normalizes a per-occurrence amount to an average monthly
// figure. The factors are a display convention and are never used for
// scheduling.
func MonthlyEquivalent(amount decimal.Decimal, f Frequency) (decimal.Decimal, error) {
	switch f {
	case Weekly:
		return amount.Mul(weeklyFactor), nil
	case Biweekly:
		return amount.Mul(biweeklyFactor), nil
	case Monthly:
		return amount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
}
