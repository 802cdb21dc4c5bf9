// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock reads the system time.
type Clock struct{}

// NewClock returns a Clock.
func NewClock() *Clock { return &Clock{} }

// Now returns the current UTC time.
func (c *Clock) Now() time.Time { return time.Now().UTC() }
