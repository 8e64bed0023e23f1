package domain

import (
	"fmt"
	"iter"
	"time"
)

// MaxMonthSpan bounds the number of months a single spending query may cover.
const MaxMonthSpan = 1200

// Month is a calendar month independent of any time zone.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month t falls in when viewed in loc.
func MonthOf(t time.Time, loc *time.Location) Month {
	y, m, _ := t.In(loc).Date()
	return Month{Year: y, Month: m}
}

// ParseMonth parses the YYYY-MM form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: month %q must be YYYY-MM", ErrInvalidRange, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Index counts months from year zero so months can be compared and
// subtracted.
func (m Month) Index() int {
	return m.Year*12 + int(m.Month) - 1
}

// Next returns the following month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Start is midnight on the first day of the month in loc.
func (m Month) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// MonthRange is an inclusive range of calendar months.
type MonthRange struct {
	From Month
	To   Month
}

// Validate rejects reversed, malformed and oversized ranges.
func (r MonthRange) Validate() error {
	if r.From.Month < time.January || r.From.Month > time.December ||
		r.To.Month < time.January || r.To.Month > time.December {
		return fmt.Errorf("%w: month out of range", ErrInvalidRange)
	}

	if r.From.Index() > r.To.Index() {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, r.From, r.To)
	}

	if r.Len() > MaxMonthSpan {
		return fmt.Errorf("%w: spans %d months, maximum is %d", ErrInvalidRange, r.Len(), MaxMonthSpan)
	}

	return nil
}

// Len is the number of months in the range.
func (r MonthRange) Len() int {
	return r.To.Index() - r.From.Index() + 1
}

// Contains reports whether m lies inside the range.
func (r MonthRange) Contains(m Month) bool {
	i := m.Index()
	return i >= r.From.Index() && i <= r.To.Index()
}

// Months yields every month in the range in order.
func (r MonthRange) Months() iter.Seq[Month] {
	return func(yield func(Month) bool) {
		for m := r.From; m.Index() <= r.To.Index(); m = m.Next() {
			if !yield(m) {
				return
			}
		}
	}
}

// MonthlyTotal is the amount a user paid for expenses in one month.
type MonthlyTotal struct {
	Month Month
	Start time.Time
	Total int64
}

// MonthlyTotals sums the expenses paid by userID per calendar month of
// OccurredAt in loc. Every month of the range is yielded, including empty
// ones, in chronological order. Reversing entries carry the original
// OccurredAt and subtract from that month. The sequence can be ranged over
// more than once.
func MonthlyTotals(entries []*LedgerEntry, userID string, r MonthRange, loc *time.Location) iter.Seq[MonthlyTotal] {
	if loc == nil {
		loc = time.UTC
	}

	return func(yield func(MonthlyTotal) bool) {
		buckets := make(map[Month]int64)
		for _, e := range entries {
			if e.Kind != EntryKindExpense || e.Expense == nil || e.Expense.PayerID != userID {
				continue
			}
			m := MonthOf(e.OccurredAt, loc)
			if !r.Contains(m) {
				continue
			}
			buckets[m] += e.Sign() * e.Expense.Amount
		}

		for m := range r.Months() {
			if !yield(MonthlyTotal{Month: m, Start: m.Start(loc), Total: buckets[m]}) {
				return
			}
		}
	}
}

// TotalSpent is the sum of MonthlyTotals over the range.
func TotalSpent(entries []*LedgerEntry, userID string, r MonthRange, loc *time.Location) int64 {
	var total int64
	for mt := range MonthlyTotals(entries, userID, r, loc) {
		total += mt.Total
	}
	return total
}
