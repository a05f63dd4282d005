// Package agent tracks the playable elements of one page context, elects
// at most one of them as active, and turns raw element events into a
// rate-limited update stream for the coordinator.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/nrednav/cuid2"

	"github.com/mediasessions/mediahub/lib/frameclock"
	"github.com/mediasessions/mediahub/lib/wire"
)

// Publisher delivers fire-and-forget reports to the coordinator.
// Implementations log their own delivery failures; nothing propagates back
// into event handling.
type Publisher interface {
	PublishUpdate(update wire.ElementUpdate)
	PublishRemove(elementID string)
}

// Agent owns all tracked elements of one page. All entry points are safe
// for concurrent use; internally a single mutex serializes them, so one
// event handler always completes before the next begins.
type Agent struct {
	pageID string
	pub    Publisher
	frames frameclock.Clock
	log    *slog.Logger

	mu       sync.Mutex
	elements map[string]*trackedElement
	ids      map[Element]string
	activeID string
	closed   bool
}

type trackedElement struct {
	id           string
	el           Element
	flushPending bool
	cancelFlush  func()
}

// New creates an Agent for the given page. The frame clock defaults to a
// real tick clock and the logger to slog.Default when nil.
func New(pageID string, pub Publisher, frames frameclock.Clock, log *slog.Logger) (*Agent, error) {
	if pageID == "" {
		return nil, errors.New("page id is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if frames == nil {
		frames = frameclock.NewTick(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		pageID:   pageID,
		pub:      pub,
		frames:   frames,
		log:      log,
		elements: make(map[string]*trackedElement),
		ids:      make(map[Element]string),
	}, nil
}

// Track registers a playable element and returns its stable id. Tracking
// the same element again returns the existing id. When no element is
// active the new element becomes active immediately; becoming active by
// registration alone does not publish anything, the first event does.
func (a *Agent) Track(el Element) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || el == nil {
		return ""
	}
	id, ok := a.ids[el]
	if !ok {
		id = cuid2.Generate()
		a.ids[el] = id
	}
	if _, tracked := a.elements[id]; tracked {
		return id
	}
	a.elements[id] = &trackedElement{id: id, el: el}
	if a.activeID == "" {
		a.activeID = id
		a.log.Debug("[agent] element active", "pageId", a.pageID, "elementId", id)
	}
	return id
}

// HandleEvent feeds one native event into arbitration and scheduling.
// Events for untracked element ids are ignored.
func (a *Agent) HandleEvent(elementID string, kind EventKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	te, ok := a.elements[elementID]
	if !ok {
		return
	}

	// Any element starting to play takes the active slot. Last play wins,
	// even over an element that is itself still playing. A play event on
	// the already-active element is just an immediate flush.
	if kind == EventPlay && a.activeID != elementID {
		a.preemptLocked(te)
		return
	}

	if kind.Deferred() {
		a.scheduleFlushLocked(te)
		return
	}

	a.cancelFlushLocked(te)
	a.flushLocked(te)
}

// preemptLocked makes te the active element. Order matters: the outgoing
// element's pending flush is canceled and its removal published before the
// incoming element reports, so the coordinator never sees both alive.
func (a *Agent) preemptLocked(te *trackedElement) {
	if prev, ok := a.elements[a.activeID]; ok {
		a.cancelFlushLocked(prev)
	}
	if a.activeID != "" {
		a.pub.PublishRemove(a.activeID)
		a.log.Debug("[agent] active element preempted",
			"pageId", a.pageID, "outgoing", a.activeID, "incoming", te.id)
	}
	a.activeID = te.id
	a.cancelFlushLocked(te)
	a.flushLocked(te)
}

// scheduleFlushLocked arms at most one deferred flush per element. Further
// deferred events while one is pending are no-ops; the flush reads current
// state when it fires.
func (a *Agent) scheduleFlushLocked(te *trackedElement) {
	if te.flushPending {
		return
	}
	te.flushPending = true
	id := te.id
	te.cancelFlush = a.frames.AfterFrame(func() { a.flushFrame(id) })
}

// flushFrame runs on the frame clock. The flushPending flag is
// authoritative: a callback that lost a cancel race finds it false and
// does nothing.
func (a *Agent) flushFrame(elementID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	te, ok := a.elements[elementID]
	if !ok || !te.flushPending {
		return
	}
	te.flushPending = false
	te.cancelFlush = nil
	a.flushLocked(te)
}

func (a *Agent) cancelFlushLocked(te *trackedElement) {
	if !te.flushPending {
		return
	}
	te.flushPending = false
	if te.cancelFlush != nil {
		te.cancelFlush()
		te.cancelFlush = nil
	}
}

// flushLocked serializes and publishes te's current state. The reporting
// gate lives here: elements other than the active one publish nothing.
func (a *Agent) flushLocked(te *trackedElement) {
	if te.id != a.activeID {
		return
	}
	a.pub.PublishUpdate(buildUpdate(te.id, te.el.State()))
}

// ExecuteCommand runs an addressed command against a tracked element and
// returns the ack. Unknown element ids and unknown command names fail with
// the same unknown-element error and cause no side effect. The settle
// flush after a known command is gated like any other report; the ack is
// returned to the caller regardless.
func (a *Agent) ExecuteCommand(ctx context.Context, cmd wire.Command) wire.CommandResult {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return wire.CommandResult{ID: cmd.ID, OK: false, Error: wire.ResultUnknownElement}
	}
	te, ok := a.elements[cmd.ElementID]
	if !ok {
		a.mu.Unlock()
		return wire.CommandResult{ID: cmd.ID, OK: false, Error: wire.ResultUnknownElement}
	}
	switch cmd.Name {
	case wire.CommandTogglePlay, wire.CommandSeekRelative, wire.CommandSeekAbsolute:
	default:
		a.mu.Unlock()
		return wire.CommandResult{ID: cmd.ID, OK: false, Error: wire.ResultUnknownElement}
	}
	el := te.el
	a.mu.Unlock()

	// Element calls happen outside the lock; toggle-play's playback
	// request is the one real suspension point and may take a while.
	var cmdErr error
	switch cmd.Name {
	case wire.CommandTogglePlay:
		st := el.State()
		if st.Paused || st.Ended {
			cmdErr = el.Play(ctx)
		} else {
			el.Pause()
		}
	case wire.CommandSeekRelative:
		st := el.State()
		el.SeekTo(clampSeek(st.CurrentTime+paramDelta(cmd), st.Duration))
	case wire.CommandSeekAbsolute:
		st := el.State()
		el.SeekTo(clampSeek(paramTime(cmd), st.Duration))
	}

	// Settle flush with immediate semantics.
	a.mu.Lock()
	if te, ok := a.elements[cmd.ElementID]; ok {
		a.cancelFlushLocked(te)
		a.flushLocked(te)
	}
	a.mu.Unlock()

	if cmdErr != nil {
		a.log.Debug("[agent] playback request rejected",
			"pageId", a.pageID, "elementId", cmd.ElementID, "err", cmdErr)
		return wire.CommandResult{ID: cmd.ID, OK: false, Error: cmdErr.Error()}
	}
	return wire.CommandResult{ID: cmd.ID, OK: true}
}

// Untrack tears one element down: its pending flush is canceled, its
// stable id released, and, when it was the active element, the active slot
// cleared and a Remove published.
func (a *Agent) Untrack(elementID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.untrackLocked(elementID)
}

func (a *Agent) untrackLocked(elementID string) {
	te, ok := a.elements[elementID]
	if !ok {
		return
	}
	a.cancelFlushLocked(te)
	delete(a.elements, elementID)
	delete(a.ids, te.el)
	if a.activeID == elementID {
		a.activeID = ""
		a.pub.PublishRemove(elementID)
	}
}

// Close tears down every still-tracked element in a single pass. A second
// Close is a no-op; after Close the Agent ignores events and fails
// commands.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id := range a.elements {
		a.untrackLocked(id)
	}
	a.log.Debug("[agent] closed", "pageId", a.pageID)
}

// ActiveID returns the active element id, or "" when the slot is empty.
func (a *Agent) ActiveID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeID
}

// PageID returns the page this Agent reports for.
func (a *Agent) PageID() string {
	return a.pageID
}

func buildUpdate(elementID string, st ElementState) wire.ElementUpdate {
	return wire.ElementUpdate{
		ElementID:        elementID,
		Title:            st.Title,
		Artist:           st.Artist,
		ArtworkURL:       st.ArtworkURL,
		SourceURL:        st.SourceURL,
		Origin:           st.Origin,
		SiteName:         st.SiteName,
		IsPlaying:        !st.Paused && !st.Ended,
		IsEnded:          st.Ended,
		Muted:            st.Muted,
		Volume:           st.Volume,
		PlaybackRate:     st.PlaybackRate,
		Duration:         st.Duration,
		CurrentTime:      st.CurrentTime,
		PictureInPicture: st.PictureInPicture,
	}
}

// clampSeek bounds a seek target to the seekable range. Only a known,
// finite, positive duration has an upper bound; unknown or open-ended
// media floors at zero.
func clampSeek(target float64, duration *float64) float64 {
	if target < 0 || math.IsNaN(target) {
		return 0
	}
	if duration != nil {
		if d := *duration; d > 0 && !math.IsInf(d, 1) && !math.IsNaN(d) {
			return math.Min(target, d)
		}
	}
	return target
}

func paramDelta(cmd wire.Command) float64 {
	if cmd.Params == nil || cmd.Params.Delta == nil {
		return 0
	}
	return *cmd.Params.Delta
}

func paramTime(cmd wire.Command) float64 {
	if cmd.Params == nil || cmd.Params.Time == nil {
		return 0
	}
	return *cmd.Params.Time
}
