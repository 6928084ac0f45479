// Package clock abstracts time so deadline and retry behaviour can be
// driven deterministically from tests.
package clock

import "time"

// Clock is the time source used by every component that sleeps or
// computes deadlines.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real delegates to the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Ensure returns clk when non-nil, otherwise a Real clock.
func Ensure(clk Clock) Clock {
	if clk != nil {
		return clk
	}
	return Real{}
}
