package pagelink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mediasessions/mediahub/lib/wire"
)

type executorFunc func(ctx context.Context, cmd wire.Command) wire.CommandResult

func (f executorFunc) ExecuteCommand(ctx context.Context, cmd wire.Command) wire.CommandResult {
	return f(ctx, cmd)
}

// pageStub is a minimal coordinator endpoint: it consumes the hello and
// relays every later frame to the test.
type pageStub struct {
	srv    *httptest.Server
	hellos chan wire.Hello
	frames chan wire.Envelope
	conns  chan *websocket.Conn
}

func newPageStub(t *testing.T) *pageStub {
	t.Helper()
	ps := &pageStub{
		hellos: make(chan wire.Hello, 4),
		frames: make(chan wire.Envelope, 32),
		conns:  make(chan *websocket.Conn, 4),
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env wire.Envelope
		if json.Unmarshal(data, &env) != nil || env.Type != wire.MsgHello || env.Hello == nil {
			conn.Close(websocket.StatusProtocolError, "expected hello")
			return
		}
		ps.hellos <- *env.Hello
		ps.conns <- conn
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var frame wire.Envelope
			if json.Unmarshal(data, &frame) == nil {
				ps.frames <- frame
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageStub) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pageStub) nextFrame(t *testing.T) wire.Envelope {
	t.Helper()
	select {
	case frame := <-ps.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Envelope{}
	}
}

func newTestLink(t *testing.T, ps *pageStub) *Link {
	t.Helper()
	link, err := New(ps.wsURL(), wire.Hello{
		PageID: "p1",
		URL:    "https://video.example.com/watch",
		Title:  "Watch Page",
	}, Options{DialAttempts: 2, DialDelay: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(link.Close)
	return link
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New("ws://unused", wire.Hello{}, Options{}, nil)
	require.Error(t, err)

	link, err := New("ws://unused", wire.Hello{PageID: "p1"}, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, uint(defaultDialAttempts), link.dialAttempts)
	require.Equal(t, defaultDialDelay, link.dialDelay)
	require.Equal(t, "p1", link.PageID())
	require.False(t, link.Connected())
}

func TestReportsLeaveInPublishOrder(t *testing.T) {
	t.Parallel()

	ps := newPageStub(t)
	link := newTestLink(t, ps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))

	hello := <-ps.hellos
	require.Equal(t, wire.RolePage, hello.Role)
	require.Equal(t, "p1", hello.PageID)

	link.PublishUpdate(wire.ElementUpdate{ElementID: "e1", IsPlaying: true})
	link.PublishRemove("e1")
	link.PublishUpdate(wire.ElementUpdate{ElementID: "e2"})

	first := ps.nextFrame(t)
	require.Equal(t, wire.MsgUpdate, first.Type)
	require.Equal(t, "e1", first.Update.ElementID)

	second := ps.nextFrame(t)
	require.Equal(t, wire.MsgRemove, second.Type)
	require.Equal(t, "e1", second.Remove.ElementID)

	third := ps.nextFrame(t)
	require.Equal(t, wire.MsgUpdate, third.Type)
	require.Equal(t, "e2", third.Update.ElementID)
}

func TestReportsPublishedBeforeOpenFlushOnOpen(t *testing.T) {
	t.Parallel()

	ps := newPageStub(t)
	link := newTestLink(t, ps)

	link.PublishUpdate(wire.ElementUpdate{ElementID: "e1"})
	link.PublishUpdate(wire.ElementUpdate{ElementID: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))

	require.Equal(t, "e1", ps.nextFrame(t).Update.ElementID)
	require.Equal(t, "e2", ps.nextFrame(t).Update.ElementID)
}

func TestCommandRoundTripThroughExecutor(t *testing.T) {
	t.Parallel()

	ps := newPageStub(t)
	link := newTestLink(t, ps)

	executed := make(chan wire.Command, 1)
	link.BindAgent(executorFunc(func(_ context.Context, cmd wire.Command) wire.CommandResult {
		executed <- cmd
		return wire.CommandResult{OK: true}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))

	conn := <-ps.conns
	cmd, err := json.Marshal(wire.NewCommandMsg(wire.Command{
		ID:        7,
		ElementID: "e1",
		Name:      wire.CommandSeekRelative,
		Params:    &wire.CommandParams{},
	}))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, cmd))

	select {
	case got := <-executed:
		require.Equal(t, "e1", got.ElementID)
		require.Equal(t, wire.CommandSeekRelative, got.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the executor")
	}

	// The result frame carries the command's correlation id.
	res := ps.nextFrame(t)
	require.Equal(t, wire.MsgResult, res.Type)
	require.EqualValues(t, 7, res.Result.ID)
	require.True(t, res.Result.OK)
}

func TestCommandWithoutExecutorAcksUnknownElement(t *testing.T) {
	t.Parallel()

	ps := newPageStub(t)
	link := newTestLink(t, ps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))

	conn := <-ps.conns
	cmd, err := json.Marshal(wire.NewCommandMsg(wire.Command{ID: 9, ElementID: "e1", Name: wire.CommandTogglePlay}))
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, cmd))

	res := ps.nextFrame(t)
	require.Equal(t, wire.MsgResult, res.Type)
	require.EqualValues(t, 9, res.Result.ID)
	require.False(t, res.Result.OK)
	require.Equal(t, wire.ResultUnknownElement, res.Result.Error)
}

func TestOpenRetriesDial(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	var upgraded atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		upgraded.Add(1)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	link, err := New("ws"+strings.TrimPrefix(srv.URL, "http"), wire.Hello{PageID: "p1"},
		Options{DialAttempts: 3, DialDelay: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))
	require.True(t, link.Connected())
	require.EqualValues(t, 2, attempts.Load())
	require.EqualValues(t, 1, upgraded.Load())
}

func TestCloseSendsGoodbyeAndRefusesReopen(t *testing.T) {
	t.Parallel()

	ps := newPageStub(t)
	link := newTestLink(t, ps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, link.Open(ctx))
	<-ps.conns

	link.Close()

	bye := ps.nextFrame(t)
	require.Equal(t, wire.MsgGoodbye, bye.Type)
	require.Equal(t, "p1", bye.Goodbye.PageID)

	require.False(t, link.Connected())
	require.ErrorIs(t, link.Open(ctx), ErrLinkClosed)
}
