package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time DeterministicClock reports for sequence 0.
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe monotonic logical clock for tests.
// Each tick advances one second of reported wall time, so Last-Modified
// headers and causality tokens are reproducible across runs.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now returns the wall time of the current sequence number.
func (c *DeterministicClock) Now() time.Time {
	return Epoch.Add(time.Duration(c.Current()) * time.Second)
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
