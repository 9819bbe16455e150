package recurrence

import (
	"fmt"
	"time"
)

// Series is an anchored recurrence: Anchor is the next unconfirmed occurrence
// and every other occurrence sits a whole number of periods away from it.
type Series struct {
	Anchor    time.Time
	Frequency Frequency
}

// MonthOccurrences splits one month of a series.
//
// Past holds occurrences before the anchor dated on or before asOf. Future
// holds the rest, including the anchor even when its date has already gone
// by: it is unconfirmed and is then also listed in Overdue. A date appears in
// exactly one of Past or Future.
type MonthOccurrences struct {
	Past    []time.Time
	Future  []time.Time
	Overdue []time.Time
}

func (o MonthOccurrences) Count() int {
	return len(o.Past) + len(o.Future)
}

// OccurrencesInMonth lists the occurrences of s that fall in month, relative
// to the civil date of asOf. Only the anchor and the occurrences before it are
// considered: later occurrences depend on confirmations that have not happened.
// Monthly series look back one month at most.
func OccurrencesInMonth(s Series, month Month, asOf time.Time) (MonthOccurrences, error) {
	if !s.Frequency.Valid() {
		return MonthOccurrences{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(s.Frequency))
	}
	anchor := DateOf(s.Anchor)
	today := DateOf(asOf)

	var out MonthOccurrences
	classify := func(date time.Time, offset int) {
		if offset < 0 {
			if date.After(today) {
				out.Future = append(out.Future, date)
			} else {
				out.Past = append(out.Past, date)
			}
			return
		}
		out.Future = append(out.Future, date)
		if !date.After(today) {
			out.Overdue = append(out.Overdue, date)
		}
	}

	if s.Frequency == Monthly {
		offset := month.index() - MonthOf(anchor).index()
		if offset == 0 || offset == -1 {
			classify(addMonthsClamped(anchor, offset), offset)
		}
		return out, nil
	}

	period := s.Frequency.periodDays()
	offset := ceilDiv(daysBetween(anchor, month.Start()), period)
	end := month.End()
	for date := anchor.AddDate(0, 0, offset*period); date.Before(end) && offset <= 0; date = date.AddDate(0, 0, period) {
		classify(date, offset)
		offset++
	}
	return out, nil
}
