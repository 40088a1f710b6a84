// Package period resolves reporting period selectors into concrete date
// ranges, including fiscal-year aware quarters and years.
package period

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration indicates a fiscal year start month outside 1..12.
	ErrInvalidConfiguration = errors.New("period: invalid configuration")
	// ErrInvalidSelector indicates an unrecognized period selector.
	ErrInvalidSelector = errors.New("period: invalid selector")
)

// Selector identifies a reporting period relative to a reference date.
type Selector string

const (
	SelectorToday   Selector = "today"
	SelectorWeek    Selector = "week"
	SelectorMonth   Selector = "month"
	SelectorQuarter Selector = "quarter"
	SelectorYear    Selector = "year"
)

// ParseSelector validates a raw selector string.
func ParseSelector(raw string) (Selector, error) {
	s := Selector(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSelector, raw)
	}
	return s, nil
}

// Valid reports whether the selector is one of the supported values.
func (s Selector) Valid() bool {
	switch s {
	case SelectorToday, SelectorWeek, SelectorMonth, SelectorQuarter, SelectorYear:
		return true
	}
	return false
}

func (s Selector) String() string { return string(s) }

// DateRange is a half-open interval of calendar days: Start inclusive, End
// exclusive. Both bounds are midnight UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Date builds a timezone-naive calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates t to its calendar date at midnight UTC.
func Midnight(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD value into a midnight UTC date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("period: parse date %q: %w", raw, err)
	}
	return t, nil
}

// Days returns the number of calendar days covered by the range.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	d = Midnight(d)
	return !d.Before(r.Start) && d.Before(r.End)
}

// Closed reports whether every day in the range has fully elapsed as of
// today. A closed range can no longer change.
func (r DateRange) Closed(today time.Time) bool {
	return !r.End.After(Midnight(today))
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

func (r DateRange) String() string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}

// Ranges pairs the current period with the immediately preceding one.
type Ranges struct {
	Current  DateRange
	Previous DateRange
}

// Resolve maps a selector and reference date onto the current period and the
// immediately preceding period of the same granularity. Year and quarter are
// anchored at day 1 of fiscalStartMonth; month, week and today are calendar
// standard and ignore the fiscal offset. The reference date always falls
// inside the current range, and a reference date on a period boundary belongs
// to the period starting at that boundary.
func Resolve(sel Selector, ref time.Time, fiscalStartMonth int) (Ranges, error) {
	if fiscalStartMonth < 1 || fiscalStartMonth > 12 {
		return Ranges{}, fmt.Errorf("%w: fiscal year start month %d", ErrInvalidConfiguration, fiscalStartMonth)
	}
	day := Midnight(ref)

	switch sel {
	case SelectorToday:
		cur := DateRange{Start: day, End: day.AddDate(0, 0, 1)}
		return Ranges{Current: cur, Previous: shiftDays(cur, -1)}, nil

	case SelectorWeek:
		// ISO week, Monday start.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		cur := DateRange{Start: start, End: start.AddDate(0, 0, 7)}
		return Ranges{Current: cur, Previous: shiftDays(cur, -7)}, nil

	case SelectorMonth:
		start := Date(day.Year(), day.Month(), 1)
		cur := DateRange{Start: start, End: start.AddDate(0, 1, 0)}
		return Ranges{Current: cur, Previous: shiftMonths(cur, -1)}, nil

	case SelectorQuarter:
		fy := fiscalYearStart(day, fiscalStartMonth)
		elapsed := (day.Year()-fy.Year())*12 + int(day.Month()) - int(fy.Month())
		start := fy.AddDate(0, (elapsed/3)*3, 0)
		cur := DateRange{Start: start, End: start.AddDate(0, 3, 0)}
		return Ranges{Current: cur, Previous: shiftMonths(cur, -3)}, nil

	case SelectorYear:
		start := fiscalYearStart(day, fiscalStartMonth)
		cur := DateRange{Start: start, End: start.AddDate(1, 0, 0)}
		prev := DateRange{Start: start.AddDate(-1, 0, 0), End: start}
		return Ranges{Current: cur, Previous: prev}, nil
	}
	return Ranges{}, fmt.Errorf("%w: %q", ErrInvalidSelector, sel)
}

// fiscalYearStart finds the most recent day 1 of startMonth on or before day.
func fiscalYearStart(day time.Time, startMonth int) time.Time {
	start := Date(day.Year(), time.Month(startMonth), 1)
	if day.Before(start) {
		start = start.AddDate(-1, 0, 0)
	}
	return start
}

func shiftDays(r DateRange, days int) DateRange {
	return DateRange{Start: r.Start.AddDate(0, 0, days), End: r.End.AddDate(0, 0, days)}
}

// shiftMonths moves both bounds by whole calendar months. Bounds are always
// day 1 anchors, so AddDate never normalizes across month ends.
func shiftMonths(r DateRange, months int) DateRange {
	return DateRange{Start: r.Start.AddDate(0, months, 0), End: r.End.AddDate(0, months, 0)}
}
