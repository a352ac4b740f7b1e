package domain

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// DateOf drops the clock part of t, keeping its calendar date in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &ErrValidation{Field: "date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	return t, nil
}

// FormatDate formats a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsBusinessDay reports whether d is Monday through Friday. No holiday
// calendar is considered.
func IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDaysBetween counts business days in (from, to].
func BusinessDaysBetween(from, to time.Time) int {
	from, to = DateOf(from), DateOf(to)
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			n++
		}
	}
	return n
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDate builds year/month/day with day clamped to the month's last
// day. month may overflow, it is normalized first.
func ClampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if n := DaysIn(first.Year(), first.Month()); day > n {
		day = n
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// Period is an inclusive billing cycle [Start, End].
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) String() string {
	return FormatDate(p.Start) + ".." + FormatDate(p.End)
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(p.Start) && !d.After(p.End)
}

// BillingPeriod returns the cycle a purchase made on date belongs to.
// A purchase on or before this month's closing day closes on it; later
// purchases roll into next month's cycle.
func BillingPeriod(date time.Time, closingDay int) Period {
	return BillingPeriodOffset(date, closingDay, 0)
}

// BillingPeriodOffset returns the cycle offset cycles after the one date
// belongs to. Installment i of a split purchase lands in offset i.
func BillingPeriodOffset(date time.Time, closingDay, offset int) Period {
	d := DateOf(date)
	end := ClampedDate(d.Year(), d.Month(), closingDay)
	if d.After(end) {
		end = ClampedDate(d.Year(), d.Month()+1, closingDay)
	}
	if offset != 0 {
		end = ClampedDate(end.Year(), end.Month()+time.Month(offset), closingDay)
	}
	prevEnd := ClampedDate(end.Year(), end.Month()-1, closingDay)
	return Period{Start: prevEnd.AddDate(0, 0, 1), End: end}
}

// DueDate is the payment date of the bill closing at p.End. A due day after
// the closing day falls in the closing month, otherwise in the next one.
func DueDate(p Period, closingDay, dueDay int) time.Time {
	if dueDay > closingDay {
		return ClampedDate(p.End.Year(), p.End.Month(), dueDay)
	}
	return ClampedDate(p.End.Year(), p.End.Month()+1, dueDay)
}
