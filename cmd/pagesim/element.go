package main

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mediasessions/mediahub/lib/agent"
)

// simElement is a scripted stand-in for a playable element. State lives
// behind a mutex; events are emitted only after the lock is released, the
// agent may read State from inside its own handlers.
type simElement struct {
	emit func(kind agent.EventKind)

	mu    sync.Mutex
	state agent.ElementState
}

func newSimElement(title, artist, sourceURL string, length float64) *simElement {
	st := agent.ElementState{
		Title:        title,
		Artist:       artist,
		SourceURL:    sourceURL,
		Paused:       true,
		Volume:       1,
		PlaybackRate: 1,
	}
	if length > 0 {
		st.Duration = lo.ToPtr(length)
	}
	return &simElement{state: st, emit: func(agent.EventKind) {}}
}

// bind wires event delivery. Must happen before playback starts.
func (e *simElement) bind(emit func(kind agent.EventKind)) {
	e.emit = emit
}

func (e *simElement) State() agent.ElementState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *simElement) Play(_ context.Context) error {
	e.mu.Lock()
	if e.state.Ended {
		e.state.CurrentTime = 0
		e.state.Ended = false
	}
	e.state.Paused = false
	e.mu.Unlock()
	e.emit(agent.EventPlay)
	return nil
}

func (e *simElement) Pause() {
	e.mu.Lock()
	e.state.Paused = true
	e.mu.Unlock()
	e.emit(agent.EventPause)
}

func (e *simElement) SeekTo(seconds float64) {
	e.mu.Lock()
	e.state.CurrentTime = seconds
	e.mu.Unlock()
	e.emit(agent.EventSeeked)
}

// advance moves the playhead by dt of wall time and fires the matching
// events: a time update while playing, ended when the playhead hits a
// known duration.
func (e *simElement) advance(dt time.Duration) {
	e.mu.Lock()
	if e.state.Paused || e.state.Ended {
		e.mu.Unlock()
		return
	}
	e.state.CurrentTime += dt.Seconds() * e.state.PlaybackRate
	ended := false
	if d := e.state.Duration; d != nil && e.state.CurrentTime >= *d {
		e.state.CurrentTime = *d
		e.state.Ended = true
		e.state.Paused = true
		ended = true
	}
	e.mu.Unlock()

	if ended {
		e.emit(agent.EventEnded)
		return
	}
	e.emit(agent.EventTimeUpdate)
}
