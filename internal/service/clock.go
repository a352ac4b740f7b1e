package service

import (
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
)

// Clock tells the services what "now" and "today" are. Calendar dates are
// taken in loc so that accruals and billing cycles follow the user's day.
type Clock struct {
	now func() time.Time
	loc *time.Location
}

// NewClock builds a Clock. A nil now uses time.Now, a nil loc uses UTC.
func NewClock(now func() time.Time, loc *time.Location) Clock {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return Clock{now: now, loc: loc}
}

// Now returns the current instant.
func (c Clock) Now() time.Time {
	return c.now()
}

// StartOf returns the instant the calendar date day begins in the clock's
// location.
func (c Clock) StartOf(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Today returns the current calendar date in the clock's location.
func (c Clock) Today() time.Time {
	return domain.DateOf(c.now().In(c.loc))
}
