// Package system provides a real clock implementation.
package system

import "time"

// Clock implements job.Clock using time.Now. Readings keep their monotonic
// component so deadline arithmetic is immune to wall-clock jumps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time with its monotonic reading.
func (Clock) Now() time.Time {
	return time.Now()
}
