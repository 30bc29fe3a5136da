package ruleflow

import "time"

// Clock measures frame budgets and stalling. Tests substitute a manually
// advanced clock so time-sliced behaviour is deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
