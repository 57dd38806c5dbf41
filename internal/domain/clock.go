package domain

import "time"

// Clock abstracts time so batch-period boundaries are deterministic in
// tests. Production code uses RealClock; tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// PreviousPeriod returns the calendar month immediately before the given
// instant, the period the monthly generation run targets.
func PreviousPeriod(now time.Time) (month, year int) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := first.AddDate(0, 0, -1)
	return int(prev.Month()), prev.Year()
}
