// Package frameclock approximates the render-frame boundary that
// high-frequency element updates are coalesced onto.
package frameclock

import (
	"sync"
	"time"
)

// DefaultInterval approximates a 60 Hz frame.
const DefaultInterval = 16 * time.Millisecond

// Clock schedules a callback on the next frame boundary. The returned
// cancel func stops the callback; calling it after the callback fired is
// safe. Callers must tolerate a callback that was canceled concurrently
// with its firing.
type Clock interface {
	AfterFrame(fn func()) (cancel func())
}

// Tick is the production Clock, driven by a fixed-interval timer.
type Tick struct {
	interval time.Duration
}

// NewTick returns a Tick firing after the given interval. Non-positive
// intervals fall back to DefaultInterval.
func NewTick(interval time.Duration) *Tick {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tick{interval: interval}
}

func (t *Tick) AfterFrame(fn func()) func() {
	timer := time.AfterFunc(t.interval, fn)
	return func() { timer.Stop() }
}

// Manual is a Clock for tests: callbacks fire only when Step is called.
type Manual struct {
	mu      sync.Mutex
	pending []*manualEntry
}

type manualEntry struct {
	fn       func()
	canceled bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFrame(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &manualEntry{fn: fn}
	m.pending = append(m.pending, e)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		e.canceled = true
	}
}

// Step simulates one frame boundary, firing every callback scheduled
// before the call. Callbacks run without the clock's lock held.
func (m *Manual) Step() {
	m.mu.Lock()
	entries := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, e := range entries {
		m.mu.Lock()
		canceled := e.canceled
		m.mu.Unlock()
		if !canceled {
			e.fn()
		}
	}
}

// Pending reports how many callbacks await the next Step.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
