package agent

import "context"

// ElementState is a full point-in-time read of a playable element.
type ElementState struct {
	Title      string
	Artist     string
	ArtworkURL string
	SourceURL  string
	Origin     string
	SiteName   string

	Paused           bool
	Ended            bool
	Muted            bool
	Volume           float64
	PlaybackRate     float64
	Duration         *float64 // nil when unknown or open-ended
	CurrentTime      float64
	PictureInPicture bool
}

// Element is a playable resource the Agent tracks. Implementations wrap
// whatever the host context exposes; the Agent only needs state reads and
// the three controls. The control methods run outside the Agent's lock
// and may deliver events back into the Agent. State may run inside it, so
// it must be cheap and must not call back into the Agent.
type Element interface {
	// State returns the element's current state.
	State() ElementState
	// Play requests playback. The host may reject the request (autoplay
	// policy and similar); the error is reported in the command ack and
	// never retried.
	Play(ctx context.Context) error
	// Pause halts playback synchronously.
	Pause()
	// SeekTo moves the playhead to the given position in seconds.
	SeekTo(seconds float64)
}

// EventKind classifies the native events an Agent reacts to.
type EventKind string

const (
	EventPlay           EventKind = "play"
	EventPause          EventKind = "pause"
	EventEnded          EventKind = "ended"
	EventDurationChange EventKind = "durationchange"
	EventVolumeChange   EventKind = "volumechange"
	EventRateChange     EventKind = "ratechange"
	EventLoadedData     EventKind = "loadeddata"
	EventLoadedMetadata EventKind = "loadedmetadata"
	EventSeeked         EventKind = "seeked"
	EventEnterPiP       EventKind = "enterpictureinpicture"
	EventLeavePiP       EventKind = "leavepictureinpicture"
	EventTimeUpdate     EventKind = "timeupdate"
)

// Deferred reports whether the event's flush is coalesced onto the next
// frame boundary instead of sent synchronously.
func (k EventKind) Deferred() bool {
	return k == EventTimeUpdate
}
