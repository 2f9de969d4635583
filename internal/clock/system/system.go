// Package system provides a real clock implementation.
package system

import "time"

// Clock implements harvest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts the clock to the func() time.Time form some components take.
func (c Clock) Func() func() time.Time {
	return c.Now
}
