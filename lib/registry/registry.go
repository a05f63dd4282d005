// Package registry maintains the coordinator's canonical session map. All
// mutation goes through ApplyUpdate, ApplyRemoval and EvictPage; each call
// is one atomic mutation followed by at most one broadcast.
package registry

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

// Transport is the outbound half of the coordinator: snapshot fan-out to
// observers and addressed command delivery to pages. The channel manager
// implements it; tests plug in spies. Both calls are fire-and-forget, the
// implementation logs its own failures.
type Transport interface {
	BroadcastSessions(sessions []session.Session)
	DispatchCommand(ctx context.Context, pageID string, cmd wire.Command)
}

// Registry is the single source of truth for live sessions. One mutex
// serializes all operations, so every inbound message performs exactly one
// atomic mutation and broadcasts the state it produced.
type Registry struct {
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	transport Transport
	sessions  map[string]session.Session
}

// New creates an empty registry. Bind must be called before traffic flows;
// an unbound registry mutates normally but cannot broadcast or dispatch.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		now:      time.Now,
		sessions: make(map[string]session.Session),
	}
}

// Bind attaches the outbound transport.
func (r *Registry) Bind(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = t
}

// ApplyUpdate normalizes an inbound element report and upserts the session
// at pageId:elementId, fully replacing any previous record. Reports
// without a resolvable page and element identity are dropped.
func (r *Registry) ApplyUpdate(update wire.ElementUpdate, page session.PageContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page.PageID == "" || update.ElementID == "" {
		r.log.Debug("[registry] dropping update with unresolvable identity",
			"pageId", page.PageID, "elementId", update.ElementID)
		return
	}
	sess := normalize(update, page, r.now())
	r.sessions[sess.ID] = sess
	r.broadcastLocked()
}

// ApplyRemoval deletes the session for the given element if present, and
// broadcasts only when a deletion occurred.
func (r *Registry) ApplyRemoval(elementID string, page session.PageContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page.PageID == "" || elementID == "" {
		r.log.Debug("[registry] dropping removal with unresolvable identity",
			"pageId", page.PageID, "elementId", elementID)
		return
	}
	key := session.Key(page.PageID, elementID)
	if _, ok := r.sessions[key]; !ok {
		return
	}
	delete(r.sessions, key)
	r.broadcastLocked()
}

// EvictPage deletes every session belonging to the page. At most one
// broadcast fires regardless of how many sessions die, and none when the
// page had no sessions, so double eviction is harmless.
func (r *Registry) EvictPage(pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pageID == "" {
		return
	}
	evicted := 0
	for key, sess := range r.sessions {
		if sess.PageID == pageID {
			delete(r.sessions, key)
			evicted++
		}
	}
	if evicted == 0 {
		return
	}
	r.log.Debug("[registry] page evicted", "pageId", pageID, "sessions", evicted)
	r.broadcastLocked()
}

// Snapshot returns every session ordered playing-first, then most recently
// updated, with the session id as a deterministic tie break.
func (r *Registry) Snapshot() []session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// RouteCommand resolves a session-addressed command to its page and hands
// the element-addressed form to the transport. Unknown session ids are
// dropped silently; delivery is at-most-once and never reported back to
// the sender.
func (r *Registry) RouteCommand(ctx context.Context, sessionID string, name wire.CommandName, params *wire.CommandParams) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	transport := r.transport
	r.mu.Unlock()
	if !ok {
		r.log.Debug("[registry] dropping command for unknown session",
			"sessionId", sessionID, "command", string(name))
		return
	}
	if transport == nil {
		r.log.Debug("[registry] no transport bound, dropping command", "sessionId", sessionID)
		return
	}
	transport.DispatchCommand(ctx, sess.PageID, wire.Command{
		ElementID: sess.ElementID,
		Name:      name,
		Params:    params,
	})
}

func (r *Registry) snapshotLocked() []session.Session {
	out := lo.Values(r.sessions)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPlaying != b.IsPlaying {
			return a.IsPlaying
		}
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		return a.ID < b.ID
	})
	return out
}

// broadcastLocked pushes the post-mutation snapshot while still holding
// the mutex, so broadcasts leave in mutation order.
func (r *Registry) broadcastLocked() {
	if r.transport == nil {
		return
	}
	r.transport.BroadcastSessions(r.snapshotLocked())
}

// normalize produces a fully-populated session from a raw report; partial
// input never reaches stored state.
func normalize(update wire.ElementUpdate, page session.PageContext, now time.Time) session.Session {
	sourceURL := lo.CoalesceOrEmpty(update.SourceURL, page.FrameURL, page.URL)
	origin := update.Origin
	if origin == "" {
		origin = originOf(sourceURL)
	}
	siteName := lo.CoalesceOrEmpty(update.SiteName, page.Title, origin, "Unknown site")

	return session.Session{
		ID:        session.Key(page.PageID, update.ElementID),
		PageID:    page.PageID,
		ElementID: update.ElementID,

		Title:      update.Title,
		Artist:     update.Artist,
		ArtworkURL: update.ArtworkURL,
		Origin:     origin,
		SiteName:   siteName,
		FaviconURL: page.FaviconURL,
		SourceURL:  sourceURL,

		IsPlaying:        update.IsPlaying,
		IsEnded:          update.IsEnded,
		Muted:            update.Muted,
		Volume:           update.Volume,
		PlaybackRate:     update.PlaybackRate,
		Duration:         update.Duration,
		CurrentTime:      update.CurrentTime,
		PictureInPicture: update.PictureInPicture,

		LastUpdated: now,
	}
}

// originOf derives scheme://host from a URL, empty on parse failure.
func originOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
