// Package observer implements the client side of the coordinator's
// observer channel: it mirrors pushed session snapshots into a local
// cache and sends playback commands gated by that cache.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

var (
	// ErrChannelClosed is returned when a command is attempted while the
	// observer channel is down.
	ErrChannelClosed = errors.New("observer channel is closed")
	// ErrUnknownSession is returned when a command targets a session id
	// absent from the local cache.
	ErrUnknownSession = errors.New("unknown session id")
)

const (
	// DefaultRetryDelay is the fixed pause between reconnection attempts
	// once an established channel drops.
	DefaultRetryDelay = 600 * time.Millisecond

	dialTimeout = 10 * time.Second
)

// Options tune an Observer.
type Options struct {
	// RetryDelay overrides the fixed reconnect delay.
	RetryDelay time.Duration
	// OnSnapshot, when set, is invoked with every snapshot received. It is
	// called outside the observer's lock; the slice must not be mutated.
	OnSnapshot func([]session.Session)
}

// Observer maintains one persistent channel to the coordinator. The local
// cache is a full replacement of the last pushed snapshot, never a patch,
// and survives disconnects so the last known state stays readable.
type Observer struct {
	url        string
	retryDelay time.Duration
	onSnapshot func([]session.Session)
	log        *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	sessions   []session.Session
	byID       map[string]session.Session
	retryTimer *time.Timer
	closed     bool
}

// New creates an Observer for the given observer channel URL. The channel
// is not opened until Open is called.
func New(url string, opts Options, log *slog.Logger) *Observer {
	if log == nil {
		log = slog.Default()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Observer{
		url:        url,
		retryDelay: opts.RetryDelay,
		onSnapshot: opts.OnSnapshot,
		log:        log,
		byID:       make(map[string]session.Session),
	}
}

// Open dials the coordinator once. A failed dial is returned to the caller
// without scheduling a retry; the automatic reconnect cycle only runs after
// an established channel drops.
func (o *Observer) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrChannelClosed
	}
	if o.conn != nil {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, o.url, nil)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}
	hello, err := json.Marshal(wire.NewObserverHello())
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "")
		return fmt.Errorf("send hello: %w", err)
	}

	o.mu.Lock()
	if o.closed || o.conn != nil {
		o.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		if o.closed {
			return ErrChannelClosed
		}
		return nil
	}
	o.conn = conn
	o.mu.Unlock()

	o.log.Info("[observer] channel open", "url", o.url)
	go o.readLoop(conn)
	return nil
}

// Connected reports whether the channel is currently open.
func (o *Observer) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn != nil
}

// Sessions returns the last pushed snapshot in coordinator order.
func (o *Observer) Sessions() []session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]session.Session(nil), o.sessions...)
}

// SendCommand sends a playback command for a cached session. It refuses
// when the channel is down or the session is not in the local cache; this
// guards against racing a command against a session that already
// disappeared, the coordinator re-validates independently.
func (o *Observer) SendCommand(ctx context.Context, sessionID string, name wire.CommandName, params *wire.CommandParams) error {
	o.mu.Lock()
	conn := o.conn
	_, known := o.byID[sessionID]
	o.mu.Unlock()

	if conn == nil {
		return ErrChannelClosed
	}
	if !known {
		return ErrUnknownSession
	}

	data, err := json.Marshal(wire.NewCommandMsg(wire.Command{
		SessionID: sessionID,
		Name:      name,
		Params:    params,
	}))
	if err != nil {
		return err
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Close drops the channel and stops the reconnect cycle.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	conn := o.conn
	o.conn = nil
	timer := o.retryTimer
	o.retryTimer = nil
	o.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "observer closed")
	}
}

func (o *Observer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			o.handleDisconnect(conn, err)
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			o.log.Debug("[observer] ignoring malformed frame", "err", err)
			continue
		}
		if env.Type == wire.MsgSessions && env.Sessions != nil {
			o.applySnapshot(env.Sessions.Sessions)
		}
	}
}

func (o *Observer) applySnapshot(sessions []session.Session) {
	o.mu.Lock()
	o.sessions = sessions
	o.byID = make(map[string]session.Session, len(sessions))
	for _, s := range sessions {
		o.byID[s.ID] = s
	}
	cb := o.onSnapshot
	o.mu.Unlock()

	if cb != nil {
		cb(sessions)
	}
}

// handleDisconnect clears the channel reference and arms one reconnect
// attempt after the fixed delay. The cache is deliberately kept: the last
// known snapshot stays readable while the channel is down.
func (o *Observer) handleDisconnect(conn *websocket.Conn, err error) {
	o.mu.Lock()
	if o.conn == conn {
		o.conn = nil
	}
	closed := o.closed
	if !closed {
		o.retryTimer = time.AfterFunc(o.retryDelay, o.reopen)
	}
	o.mu.Unlock()

	if !closed {
		o.log.Info("[observer] channel dropped, reconnecting", "delay", o.retryDelay.String(), "err", err)
	}
}

// reopen is the timer-driven leg of the reconnect cycle. Unlike an explicit
// Open, a failure here re-arms the timer so the cycle repeats indefinitely.
func (o *Observer) reopen() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	err := o.Open(ctx)
	if err == nil || errors.Is(err, ErrChannelClosed) {
		return
	}

	o.mu.Lock()
	if !o.closed {
		o.retryTimer = time.AfterFunc(o.retryDelay, o.reopen)
	}
	closed := o.closed
	o.mu.Unlock()

	if !closed {
		o.log.Debug("[observer] reconnect attempt failed", "err", err)
	}
}
