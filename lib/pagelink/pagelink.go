// Package pagelink is the page side of the coordinator protocol: it
// carries an agent's fire-and-forget reports over a page channel and
// feeds addressed commands back into the agent, acking each with a
// result frame.
package pagelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/coder/websocket"

	"github.com/mediasessions/mediahub/lib/wire"
)

// ErrLinkClosed is returned when operating on a link after Close.
var ErrLinkClosed = errors.New("page link is closed")

const (
	sendQueueSize = 64
	writeTimeout  = 2 * time.Second

	defaultDialAttempts = 5
	defaultDialDelay    = 250 * time.Millisecond
)

// CommandExecutor runs an addressed command against the page's tracked
// elements and returns the ack. An agent satisfies this.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, cmd wire.Command) wire.CommandResult
}

// Options tune the link.
type Options struct {
	// DialAttempts bounds the fixed-delay dial retry on Open.
	DialAttempts uint
	// DialDelay is the pause between dial attempts.
	DialDelay time.Duration
}

// Link is one page's channel to the coordinator. Reports are queued and
// written by a single goroutine, so everything the agent publishes leaves
// in publish order. The link does not reconnect: a page that loses its
// channel re-opens explicitly, the coordinator evicts its sessions in the
// meantime.
type Link struct {
	url          string
	hello        wire.Hello
	dialAttempts uint
	dialDelay    time.Duration
	log          *slog.Logger

	sendCh chan wire.Envelope
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	exec   CommandExecutor
	closed bool
}

// New creates a link for the given coordinator URL and page identity. The
// hello's role is forced to page.
func New(coordinatorURL string, page wire.Hello, opts Options, log *slog.Logger) (*Link, error) {
	if page.PageID == "" {
		return nil, errors.New("page hello missing pageId")
	}
	if log == nil {
		log = slog.Default()
	}
	page.Role = wire.RolePage
	if opts.DialAttempts == 0 {
		opts.DialAttempts = defaultDialAttempts
	}
	if opts.DialDelay <= 0 {
		opts.DialDelay = defaultDialDelay
	}
	return &Link{
		url:          coordinatorURL,
		hello:        page,
		dialAttempts: opts.DialAttempts,
		dialDelay:    opts.DialDelay,
		log:          log,
		sendCh:       make(chan wire.Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}, nil
}

// BindAgent wires the executor that inbound commands run against.
// Commands arriving before a bind are acked as unknown-element.
func (l *Link) BindAgent(exec CommandExecutor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exec = exec
}

// PageID returns the page identity the link introduces itself with.
func (l *Link) PageID() string {
	return l.hello.PageID
}

// Connected reports whether the channel is currently up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Open dials the coordinator with a bounded fixed-delay retry, sends the
// page hello, and starts the read and write loops. Reports published
// before Open queue up and flush once the channel is live.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if l.conn != nil {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	var conn *websocket.Conn
	err := retry.New(
		retry.Attempts(l.dialAttempts),
		retry.Delay(l.dialDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		c, _, err := websocket.Dial(ctx, l.url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}

	data, err := json.Marshal(wire.Envelope{Type: wire.MsgHello, Hello: &l.hello})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusProtocolError, "")
		return fmt.Errorf("send hello: %w", err)
	}

	l.mu.Lock()
	if l.closed || l.conn != nil {
		l.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		if l.closed {
			return ErrLinkClosed
		}
		return nil
	}
	l.conn = conn
	l.mu.Unlock()

	l.log.Info("[pagelink] channel open", "pageId", l.hello.PageID, "url", l.url)
	go l.writeLoop(conn)
	go l.readLoop(conn)
	return nil
}

// PublishUpdate queues a full-state report. Never blocks; when the queue
// is full the report is dropped, the next one carries current state anyway.
func (l *Link) PublishUpdate(update wire.ElementUpdate) {
	l.enqueue(wire.NewUpdateMsg(update))
}

// PublishRemove queues a retraction for one element.
func (l *Link) PublishRemove(elementID string) {
	l.enqueue(wire.NewRemoveMsg(elementID))
}

// Close sends a best-effort goodbye while the channel is still up and
// tears the link down. Idempotent.
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	close(l.done)
	if conn != nil {
		if data, err := json.Marshal(wire.NewGoodbyeMsg(l.hello.PageID)); err == nil {
			l.write(conn, data)
		}
		conn.Close(websocket.StatusNormalClosure, "page closed")
	}
	l.log.Info("[pagelink] closed", "pageId", l.hello.PageID)
}

func (l *Link) enqueue(env wire.Envelope) {
	select {
	case l.sendCh <- env:
	default:
		l.log.Warn("[pagelink] dropping report, send queue full", "type", env.Type)
	}
}

func (l *Link) write(conn *websocket.Conn, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (l *Link) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case env := <-l.sendCh:
			data, err := json.Marshal(env)
			if err != nil {
				l.log.Error("[pagelink] failed to marshal frame", "type", env.Type, "err", err)
				continue
			}
			if err := l.write(conn, data); err != nil {
				l.log.Warn("[pagelink] write failed", "type", env.Type, "err", err)
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			l.mu.Lock()
			if l.conn == conn {
				l.conn = nil
			}
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				l.log.Info("[pagelink] channel dropped", "pageId", l.hello.PageID, "err", err)
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.log.Debug("[pagelink] ignoring malformed frame", "err", err)
			continue
		}
		if env.Type != wire.MsgCommand || env.Command == nil {
			l.log.Debug("[pagelink] ignoring frame", "type", env.Type)
			continue
		}
		// Commands run serially in channel order, matching the page's
		// single event queue.
		l.runCommand(*env.Command)
	}
}

func (l *Link) runCommand(cmd wire.Command) {
	l.mu.Lock()
	exec := l.exec
	l.mu.Unlock()

	res := wire.CommandResult{ID: cmd.ID, OK: false, Error: wire.ResultUnknownElement}
	if exec != nil {
		res = exec.ExecuteCommand(context.Background(), cmd)
		res.ID = cmd.ID
	}
	l.enqueue(wire.Envelope{Type: wire.MsgResult, Result: &res})
}
