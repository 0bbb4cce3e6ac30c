package compliance

import (
	"fmt"
	"time"
)

// Validate rejects a non-positive year or a quarter outside 1-4.
func (p Period) Validate() error {
	if p.Year <= 0 {
		return &ValidationError{Field: "year", Value: p.Year, Reason: "must be positive"}
	}
	if p.Quarter < 0 || p.Quarter > 4 {
		return &ValidationError{Field: "quarter", Value: p.Quarter, Reason: "must be between 1 and 4"}
	}
	return nil
}

// Contains reports whether t falls in the period, comparing in UTC.
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	if t.Year() != p.Year {
		return false
	}
	return p.Quarter == 0 || QuarterOf(t) == p.Quarter
}

// Key is a stable string form used for cache keys and logs, e.g. 2025 or 2025-Q2.
func (p Period) Key() string {
	if p.Quarter == 0 {
		return fmt.Sprintf("%d", p.Year)
	}
	return fmt.Sprintf("%d-Q%d", p.Year, p.Quarter)
}

func (p Period) String() string {
	return p.Key()
}

// QuarterOf returns the calendar quarter (1-4) of t.
func QuarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// CurrentPeriod returns the quarter containing now.
func CurrentPeriod(now time.Time) Period {
	now = now.UTC()
	return Period{Year: now.Year(), Quarter: QuarterOf(now)}
}
