package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(column, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return t, nil
}

func parseOptionalTime(column string, raw sql.NullString) (*time.Time, error) {
	if strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	t, err := parseTime(column, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseDateColumn(column, raw string) (time.Time, error) {
	d, err := recurrence.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return d, nil
}

func parseAmount(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return d, nil
}
