// Package system provides crawler.Clock implementations. Run metadata is
// always stamped in UTC.
package system

import "time"

// Clock reads the wall clock.
type Clock struct{}

// New returns a wall Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns time.Now in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock pinned to one instant, for replays and tests.
type Fixed struct {
	At time.Time
}

// Now returns f.At in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
