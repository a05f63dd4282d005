package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/mediasessions/mediahub/lib/channels"
	"github.com/mediasessions/mediahub/lib/registry"
	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

type dispatched struct {
	pageID string
	cmd    wire.Command
}

type spyTransport struct {
	mu         sync.Mutex
	dispatches []dispatched
}

func (s *spyTransport) BroadcastSessions([]session.Session) {}

func (s *spyTransport) DispatchCommand(_ context.Context, pageID string, cmd wire.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, dispatched{pageID: pageID, cmd: cmd})
}

func (s *spyTransport) all() []dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatched(nil), s.dispatches...)
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *spyTransport) {
	t.Helper()
	reg := registry.New(nil)
	spy := &spyTransport{}
	reg.Bind(spy)
	mgr, err := channels.NewManager(reg, channels.Options{}, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(reg, mgr).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg, spy
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string `json:"status"`
		Observers int    `json:"observers"`
		Pages     int    `json:"pages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Zero(t, body.Observers)
	require.Zero(t, body.Pages)
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	srv, reg, _ := newTestServer(t)

	// Empty registry still returns an array, not null.
	resp, err := http.Get(srv.URL + "/v1/sessions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.JSONEq(t, `{"sessions":[]}`, string(raw))

	reg.ApplyUpdate(wire.ElementUpdate{ElementID: "paused"}, session.PageContext{PageID: "p1"})
	reg.ApplyUpdate(wire.ElementUpdate{ElementID: "playing", IsPlaying: true}, session.PageContext{PageID: "p1"})

	resp, err = http.Get(srv.URL + "/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Sessions []session.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sessions, 2)
	require.Equal(t, "p1:playing", body.Sessions[0].ID)
	require.Equal(t, "p1:paused", body.Sessions[1].ID)
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	srv, reg, spy := newTestServer(t)
	reg.ApplyUpdate(wire.ElementUpdate{ElementID: "e1"}, session.PageContext{PageID: "p1"})

	post := func(sessionID, body string) *http.Response {
		resp, err := http.Post(srv.URL+"/v1/sessions/"+sessionID+"/command", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// Malformed body.
	require.Equal(t, http.StatusBadRequest, post("p1:e1", "{").StatusCode)

	// Unknown command name.
	require.Equal(t, http.StatusBadRequest, post("p1:e1", `{"command":"rewind-tape"}`).StatusCode)
	require.Empty(t, spy.all())

	// Live session routes through to the transport.
	require.Equal(t, http.StatusAccepted, post("p1:e1", `{"command":"seek-relative","params":{"delta":-30}}`).StatusCode)
	got := spy.all()
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].pageID)
	require.Equal(t, "e1", got[0].cmd.ElementID)
	require.Equal(t, wire.CommandSeekRelative, got[0].cmd.Name)
	require.NotNil(t, got[0].cmd.Params)
	require.Equal(t, -30.0, *got[0].cmd.Params.Delta)

	// Unknown session is accepted and dropped silently.
	require.Equal(t, http.StatusAccepted, post("p9:ghost", `{"command":"toggle-play"}`).StatusCode)
	require.Len(t, spy.all(), 1)
}
