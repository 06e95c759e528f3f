// Package clock abstracts wall-clock reads so time-gated workflows can be
// tested at fixed instants.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func NewRealClock() Clock { return &RealClock{} }

func (RealClock) Now() time.Time { return time.Now() }

// MockClock is a settable clock for tests.
type MockClock struct {
	current time.Time
}

func NewMockClock(t time.Time) *MockClock { return &MockClock{current: t} }

func (c *MockClock) Now() time.Time { return c.current }

func (c *MockClock) Set(t time.Time) { c.current = t }

func (c *MockClock) Add(d time.Duration) { c.current = c.current.Add(d) }
