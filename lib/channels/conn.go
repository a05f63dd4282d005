package channels

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

// Conn is the minimal connection surface the manager writes to. wsConn
// adapts coder/websocket; tests substitute mocks recording writes.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type wsConn struct {
	conn *websocket.Conn
}

func (a wsConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	return a.conn.Write(ctx, typ, data)
}

func (a wsConn) Close(code websocket.StatusCode, reason string) error {
	return a.conn.Close(code, reason)
}

const writeTimeout = 2 * time.Second

// guardedConn serializes writes to one connection and bounds each with a
// timeout, so a stalled peer cannot wedge a broadcast.
type guardedConn struct {
	writeMu sync.Mutex
	conn    Conn
}

func (g *guardedConn) write(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return g.conn.Write(ctx, websocket.MessageText, data)
}

func (g *guardedConn) close(code websocket.StatusCode, reason string) {
	_ = g.conn.Close(code, reason)
}

// observerConn is one live observer channel.
type observerConn struct {
	guardedConn
	id   string
	role wire.Role
}

// pageConn is one live page channel plus the page's last known context and
// the pending-ack slots for addressed commands in flight.
type pageConn struct {
	guardedConn
	pageID string
	done   chan struct{}

	mu      sync.Mutex
	page    session.PageContext
	pending map[int64]chan wire.CommandResult
}

// refreshContext folds an update's optional context fields into the page
// context and returns the context to normalize against. The frame URL is
// per-message, not sticky.
func (pc *pageConn) refreshContext(update wire.ElementUpdate) session.PageContext {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if update.PageURL != "" {
		pc.page.URL = update.PageURL
	}
	if update.PageTitle != "" {
		pc.page.Title = update.PageTitle
	}
	if update.FaviconURL != "" {
		pc.page.FaviconURL = update.FaviconURL
	}
	pc.page.FrameURL = update.FrameURL
	return pc.page
}

func (pc *pageConn) context() session.PageContext {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.page
}

func (pc *pageConn) registerPending(id int64) chan wire.CommandResult {
	ch := make(chan wire.CommandResult, 1)
	pc.mu.Lock()
	pc.pending[id] = ch
	pc.mu.Unlock()
	return ch
}

func (pc *pageConn) releasePending(id int64) {
	pc.mu.Lock()
	delete(pc.pending, id)
	pc.mu.Unlock()
}

func (pc *pageConn) deliverResult(res wire.CommandResult) {
	pc.mu.Lock()
	ch, ok := pc.pending[res.ID]
	pc.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
