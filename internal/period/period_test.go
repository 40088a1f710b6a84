package period

import (
	"errors"
	"testing"
	"time"
)

func TestResolveYearWithFiscalStart(t *testing.T) {
	got, err := Resolve(SelectorYear, Date(2024, time.May, 15), 4)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantCur := DateRange{Start: Date(2024, time.April, 1), End: Date(2025, time.April, 1)}
	wantPrev := DateRange{Start: Date(2023, time.April, 1), End: Date(2024, time.April, 1)}
	if got.Current != wantCur {
		t.Fatalf("current = %s, want %s", got.Current, wantCur)
	}
	if got.Previous != wantPrev {
		t.Fatalf("previous = %s, want %s", got.Previous, wantPrev)
	}
}

func TestResolveYearOnFiscalBoundary(t *testing.T) {
	got, err := Resolve(SelectorYear, Date(2024, time.April, 1), 4)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := Date(2024, time.April, 1); !got.Current.Start.Equal(want) {
		t.Fatalf("boundary date must open the new fiscal year, got start %s", got.Current.Start)
	}

	before, err := Resolve(SelectorYear, Date(2024, time.March, 31), 4)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := Date(2023, time.April, 1); !before.Current.Start.Equal(want) {
		t.Fatalf("day before boundary belongs to prior fiscal year, got start %s", before.Current.Start)
	}
}

func TestResolveMonth(t *testing.T) {
	got, err := Resolve(SelectorMonth, Date(2024, time.February, 20), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantCur := DateRange{Start: Date(2024, time.February, 1), End: Date(2024, time.March, 1)}
	wantPrev := DateRange{Start: Date(2024, time.January, 1), End: Date(2024, time.February, 1)}
	if got.Current != wantCur || got.Previous != wantPrev {
		t.Fatalf("got %s / %s, want %s / %s", got.Current, got.Previous, wantCur, wantPrev)
	}
}

func TestResolveMonthIgnoresFiscalOffset(t *testing.T) {
	plain, err := Resolve(SelectorMonth, Date(2024, time.February, 20), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	fiscal, err := Resolve(SelectorMonth, Date(2024, time.February, 20), 7)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if plain != fiscal {
		t.Fatalf("month must not depend on fiscal start: %v vs %v", plain, fiscal)
	}
}

func TestResolveMonthUnevenLengths(t *testing.T) {
	got, err := Resolve(SelectorMonth, Date(2024, time.March, 10), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Current.Days() != 31 {
		t.Fatalf("march has 31 days, got %d", got.Current.Days())
	}
	if got.Previous.Days() != 29 {
		t.Fatalf("february 2024 has 29 days, got %d", got.Previous.Days())
	}
	if !got.Previous.End.Equal(got.Current.Start) {
		t.Fatalf("previous must abut current: %s vs %s", got.Previous, got.Current)
	}
}

func TestResolveQuarterFiscalBlocks(t *testing.T) {
	cases := []struct {
		name   string
		ref    time.Time
		fiscal int
		cur    DateRange
		prev   DateRange
	}{
		{
			name: "calendar quarter", ref: Date(2024, time.February, 20), fiscal: 1,
			cur:  DateRange{Start: Date(2024, time.January, 1), End: Date(2024, time.April, 1)},
			prev: DateRange{Start: Date(2023, time.October, 1), End: Date(2024, time.January, 1)},
		},
		{
			name: "fiscal april q1", ref: Date(2024, time.May, 15), fiscal: 4,
			cur:  DateRange{Start: Date(2024, time.April, 1), End: Date(2024, time.July, 1)},
			prev: DateRange{Start: Date(2024, time.January, 1), End: Date(2024, time.April, 1)},
		},
		{
			name: "fiscal april q4", ref: Date(2024, time.February, 20), fiscal: 4,
			cur:  DateRange{Start: Date(2024, time.January, 1), End: Date(2024, time.April, 1)},
			prev: DateRange{Start: Date(2023, time.October, 1), End: Date(2024, time.January, 1)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(SelectorQuarter, tc.ref, tc.fiscal)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got.Current != tc.cur || got.Previous != tc.prev {
				t.Fatalf("got %s / %s, want %s / %s", got.Current, got.Previous, tc.cur, tc.prev)
			}
		})
	}
}

func TestResolveWeekStartsMonday(t *testing.T) {
	got, err := Resolve(SelectorWeek, Date(2024, time.February, 20), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantCur := DateRange{Start: Date(2024, time.February, 19), End: Date(2024, time.February, 26)}
	wantPrev := DateRange{Start: Date(2024, time.February, 12), End: Date(2024, time.February, 19)}
	if got.Current != wantCur || got.Previous != wantPrev {
		t.Fatalf("got %s / %s, want %s / %s", got.Current, got.Previous, wantCur, wantPrev)
	}

	monday, err := Resolve(SelectorWeek, Date(2024, time.February, 19), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if monday.Current != wantCur {
		t.Fatalf("monday belongs to the week it opens, got %s", monday.Current)
	}
}

func TestResolveToday(t *testing.T) {
	got, err := Resolve(SelectorToday, Date(2024, time.March, 1), 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantCur := DateRange{Start: Date(2024, time.March, 1), End: Date(2024, time.March, 2)}
	wantPrev := DateRange{Start: Date(2024, time.February, 29), End: Date(2024, time.March, 1)}
	if got.Current != wantCur || got.Previous != wantPrev {
		t.Fatalf("got %s / %s, want %s / %s", got.Current, got.Previous, wantCur, wantPrev)
	}
}

func TestResolveReferenceAlwaysInsideCurrent(t *testing.T) {
	refs := []time.Time{
		Date(2023, time.December, 31),
		Date(2024, time.January, 1),
		Date(2024, time.February, 29),
		Date(2024, time.June, 30),
		Date(2024, time.December, 31),
	}
	selectors := []Selector{SelectorToday, SelectorWeek, SelectorMonth, SelectorQuarter, SelectorYear}
	for _, ref := range refs {
		for _, sel := range selectors {
			for fiscal := 1; fiscal <= 12; fiscal++ {
				got, err := Resolve(sel, ref, fiscal)
				if err != nil {
					t.Fatalf("resolve %s %s fiscal=%d: %v", sel, ref.Format("2006-01-02"), fiscal, err)
				}
				if !got.Current.Contains(ref) {
					t.Fatalf("%s fiscal=%d: ref %s outside current %s", sel, fiscal, ref.Format("2006-01-02"), got.Current)
				}
				if !got.Previous.End.Equal(got.Current.Start) {
					t.Fatalf("%s fiscal=%d: previous %s does not abut current %s", sel, fiscal, got.Previous, got.Current)
				}
				if !got.Previous.Start.Before(got.Previous.End) {
					t.Fatalf("%s fiscal=%d: empty previous range %s", sel, fiscal, got.Previous)
				}
			}
		}
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	if _, err := Resolve(SelectorYear, Date(2024, time.May, 1), 0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("fiscal month 0: got %v", err)
	}
	if _, err := Resolve(SelectorYear, Date(2024, time.May, 1), 13); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("fiscal month 13: got %v", err)
	}
	if _, err := Resolve(Selector("decade"), Date(2024, time.May, 1), 1); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("unknown selector: got %v", err)
	}
}

func TestParseSelector(t *testing.T) {
	for _, raw := range []string{"today", "week", "month", "quarter", "year"} {
		sel, err := ParseSelector(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if sel.String() != raw {
			t.Fatalf("roundtrip %q: got %q", raw, sel)
		}
	}
	if _, err := ParseSelector("fortnight"); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("expected ErrInvalidSelector, got %v", err)
	}
}

func TestDateRangeHelpers(t *testing.T) {
	r := DateRange{Start: Date(2024, time.February, 1), End: Date(2024, time.March, 1)}
	if r.Days() != 29 {
		t.Fatalf("days = %d", r.Days())
	}
	if !r.Contains(Date(2024, time.February, 1)) || !r.Contains(Date(2024, time.February, 29)) {
		t.Fatalf("bounds membership broken for %s", r)
	}
	if r.Contains(Date(2024, time.March, 1)) {
		t.Fatalf("end bound must be exclusive")
	}
	if !r.Closed(Date(2024, time.March, 1)) {
		t.Fatalf("range ending today is closed")
	}
	if r.Closed(Date(2024, time.February, 29)) {
		t.Fatalf("range still covering today is not closed")
	}
	if got := r.String(); got != "2024-02-01..2024-03-01" {
		t.Fatalf("string = %q", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-05-15")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.Equal(Date(2024, time.May, 15)) {
		t.Fatalf("got %s", d)
	}
	if _, err := ParseDate("15/05/2024"); err == nil {
		t.Fatalf("expected error for non ISO input")
	}
}
