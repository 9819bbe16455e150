package recurrence

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date returns the civil date y-m-d as a midnight UTC value. All occurrence
// math in this package runs on such values so that DST transitions in the
// user's location never shift a date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the civil date of t as observed in t's own location.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return DateOf(t), nil
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// At places a civil date at hour:00 in loc.
func At(date time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, loc)
}

// Advance returns the occurrence following date. Monthly steps clamp to the
// last day of the next month when the day does not exist there.
func Advance(date time.Time, f Frequency) (time.Time, error) {
	date = DateOf(date)
	switch f {
	case Weekly, Biweekly:
		return date.AddDate(0, 0, f.periodDays()), nil
	case Monthly:
		return addMonthsClamped(date, 1), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
}

// addMonthsClamped moves d by n calendar months keeping d's day-of-month,
// clamped to the length of the destination month.
func addMonthsClamped(d time.Time, n int) time.Time {
	total := int(d.Month()) - 1 + n
	year := d.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	day := d.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return Date(year, month, day)
}

func daysIn(year int, month time.Month) int {
	return Date(year, month+1, 0).Day()
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses YYYY-MM.
func ParseMonth(raw string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return Month{}, fmt.Errorf("month must be YYYY-MM: %w", err)
	}
	return MonthOf(t), nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Start is the first civil date of the month.
func (m Month) Start() time.Time {
	return Date(m.Year, m.Month, 1)
}

// End is the first civil date of the following month (exclusive bound).
func (m Month) End() time.Time {
	return Date(m.Year, m.Month+1, 1)
}

func (m Month) Contains(date time.Time) bool {
	return date.Year() == m.Year && date.Month() == m.Month
}

func (m Month) Next() Month {
	return MonthOf(m.End())
}

func (m Month) Prev() Month {
	return MonthOf(m.Start().AddDate(0, 0, -1))
}

func (m Month) index() int {
	return m.Year*12 + int(m.Month) - 1
}
