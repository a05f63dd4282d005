// Package channels supervises the coordinator's persistent connections:
// observer channels receiving snapshot pushes, and page channels
// delivering element reports and receiving addressed commands. It
// implements the registry's outbound transport.
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mediasessions/mediahub/lib/registry"
	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

const (
	defaultAckTimeout = 5 * time.Second
	helloTimeout      = 10 * time.Second
)

// Options tune the manager.
type Options struct {
	// AckTimeout bounds how long a dispatched command waits for its result
	// frame before the outcome is logged as lost.
	AckTimeout time.Duration
	// PageURLAllow holds glob patterns gating page handshakes by URL. An
	// empty list admits every page.
	PageURLAllow []string
}

// Manager owns the live connection sets and fans coordinator state out to
// observers.
type Manager struct {
	log        *slog.Logger
	reg        *registry.Registry
	ackTimeout time.Duration
	allowURLs  []glob.Glob

	cmdID atomic.Int64

	mu        sync.Mutex
	observers map[string]*observerConn
	pages     map[string]*pageConn
}

// NewManager creates a Manager serving the given registry. The caller must
// Bind the manager to the registry before traffic flows.
func NewManager(reg *registry.Registry, opts Options, log *slog.Logger) (*Manager, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	allow := make([]glob.Glob, 0, len(opts.PageURLAllow))
	for _, pattern := range opts.PageURLAllow {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile page url pattern %q: %w", pattern, err)
		}
		allow = append(allow, g)
	}
	return &Manager{
		log:        log,
		reg:        reg,
		ackTimeout: opts.AckTimeout,
		allowURLs:  allow,
		observers:  make(map[string]*observerConn),
		pages:      make(map[string]*pageConn),
	}, nil
}

// HandleObserverSocket upgrades an observer channel and serves it until
// disconnect.
func (m *Manager) HandleObserverSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		m.log.Error("[channels] websocket accept failed", "err", err)
		return
	}

	hello, err := readHello(conn)
	if err != nil {
		m.log.Debug("[channels] observer handshake failed", "err", err)
		conn.Close(websocket.StatusProtocolError, "expected hello")
		return
	}
	role := hello.Role
	if role == "" {
		role = wire.RoleObserver
	}

	oc := m.addObserver(wsConn{conn}, role)
	defer func() {
		m.removeObserver(oc)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Read with a background context: the request context dies once the
	// connection is hijacked.
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Debug("[channels] ignoring malformed observer frame", "observerId", oc.id, "err", err)
			continue
		}
		m.handleObserverEnvelope(context.Background(), oc, env)
	}
}

// HandlePageSocket upgrades a page channel and serves it until disconnect,
// evicting the page's sessions when it drops.
func (m *Manager) HandlePageSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		m.log.Error("[channels] websocket accept failed", "err", err)
		return
	}

	hello, err := readHello(conn)
	if err != nil || hello.Role != wire.RolePage {
		m.log.Debug("[channels] page handshake failed", "err", err)
		conn.Close(websocket.StatusProtocolError, "expected page hello")
		return
	}
	if !m.urlAllowed(hello.URL) {
		m.log.Warn("[channels] rejecting page by url policy", "pageId", hello.PageID, "url", hello.URL)
		conn.Close(websocket.StatusPolicyViolation, "url not allowed")
		return
	}

	pc, err := m.addPage(wsConn{conn}, hello)
	if err != nil {
		m.log.Debug("[channels] page registration failed", "err", err)
		conn.Close(websocket.StatusProtocolError, err.Error())
		return
	}
	defer func() {
		m.removePage(pc)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Debug("[channels] ignoring malformed page frame", "pageId", pc.pageID, "err", err)
			continue
		}
		m.handlePageEnvelope(pc, env)
	}
}

// BroadcastSessions pushes a snapshot to every live observer. One failing
// push is logged and does not affect the rest; stale connections are
// pruned by their own read loop, never here.
func (m *Manager) BroadcastSessions(sessions []session.Session) {
	data, err := json.Marshal(wire.NewSessionsMsg(sessions))
	if err != nil {
		m.log.Error("[channels] failed to marshal snapshot", "err", err)
		return
	}

	m.mu.Lock()
	observers := lo.Values(m.observers)
	m.mu.Unlock()

	for _, oc := range observers {
		if err := oc.write(data); err != nil {
			m.log.Debug("[channels] snapshot push failed", "observerId", oc.id, "err", err)
		}
	}
	m.log.Debug("[channels] broadcast", "observers", len(observers), "sessions", len(sessions))
}

// DispatchCommand delivers an addressed command to one page and waits for
// the correlated result on its own goroutine, purely to log the outcome.
// The command context is not honored past hand-off: dispatched commands
// run to completion or fail, they are not canceled.
func (m *Manager) DispatchCommand(_ context.Context, pageID string, cmd wire.Command) {
	m.mu.Lock()
	pc := m.pages[pageID]
	m.mu.Unlock()
	if pc == nil {
		m.log.Warn("[channels] dropping command for unreachable page",
			"pageId", pageID, "elementId", cmd.ElementID, "command", string(cmd.Name))
		return
	}
	cmd.ID = m.cmdID.Add(1)
	go m.sendCommand(pc, cmd)
}

func (m *Manager) sendCommand(pc *pageConn, cmd wire.Command) {
	resultCh := pc.registerPending(cmd.ID)
	defer pc.releasePending(cmd.ID)

	data, err := json.Marshal(wire.NewCommandMsg(cmd))
	if err != nil {
		m.log.Error("[channels] failed to marshal command", "err", err)
		return
	}
	if err := pc.write(data); err != nil {
		m.log.Warn("[channels] failed to deliver command",
			"pageId", pc.pageID, "elementId", cmd.ElementID, "err", err)
		return
	}

	select {
	case res := <-resultCh:
		if res.OK {
			m.log.Debug("[channels] command acknowledged",
				"pageId", pc.pageID, "elementId", cmd.ElementID, "command", string(cmd.Name))
		} else {
			m.log.Warn("[channels] command failed",
				"pageId", pc.pageID, "elementId", cmd.ElementID, "command", string(cmd.Name), "err", res.Error)
		}
	case <-time.After(m.ackTimeout):
		m.log.Warn("[channels] command ack timed out",
			"pageId", pc.pageID, "elementId", cmd.ElementID, "command", string(cmd.Name))
	case <-pc.done:
	}
}

// PageClosed lets the host environment report a closed page explicitly,
// ahead of (or instead of) its channel dropping.
func (m *Manager) PageClosed(pageID string) {
	m.reg.EvictPage(pageID)
}

// ObserverCount returns the number of live observer channels.
func (m *Manager) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// PageCount returns the number of live page channels.
func (m *Manager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

func (m *Manager) addObserver(c Conn, role wire.Role) *observerConn {
	oc := &observerConn{id: uuid.NewString(), role: role}
	oc.conn = c

	m.mu.Lock()
	m.observers[oc.id] = oc
	m.mu.Unlock()

	// New observers see current state immediately instead of waiting for
	// the next change.
	if data, err := json.Marshal(wire.NewSessionsMsg(m.reg.Snapshot())); err == nil {
		if err := oc.write(data); err != nil {
			m.log.Debug("[channels] initial snapshot push failed", "observerId", oc.id, "err", err)
		}
	}

	m.log.Info("[channels] observer connected", "observerId", oc.id, "role", string(role))
	return oc
}

func (m *Manager) removeObserver(oc *observerConn) {
	m.mu.Lock()
	delete(m.observers, oc.id)
	m.mu.Unlock()
	m.log.Info("[channels] observer disconnected", "observerId", oc.id)
}

func (m *Manager) addPage(c Conn, hello wire.Hello) (*pageConn, error) {
	if hello.PageID == "" {
		return nil, errors.New("page hello missing pageId")
	}
	pc := &pageConn{
		pageID: hello.PageID,
		done:   make(chan struct{}),
		page: session.PageContext{
			PageID:     hello.PageID,
			URL:        hello.URL,
			Title:      hello.Title,
			FaviconURL: hello.FaviconURL,
		},
		pending: make(map[int64]chan wire.CommandResult),
	}
	pc.conn = c

	m.mu.Lock()
	prev := m.pages[pc.pageID]
	m.pages[pc.pageID] = pc
	m.mu.Unlock()

	if prev != nil {
		// A reconnect beat the old channel's teardown; the new channel
		// owns the page id from here on.
		prev.close(websocket.StatusNormalClosure, "superseded")
	}

	m.log.Info("[channels] page connected", "pageId", pc.pageID, "url", hello.URL)
	return pc, nil
}

func (m *Manager) removePage(pc *pageConn) {
	m.mu.Lock()
	current := m.pages[pc.pageID] == pc
	if current {
		delete(m.pages, pc.pageID)
	}
	m.mu.Unlock()

	close(pc.done)
	if current {
		m.reg.EvictPage(pc.pageID)
		m.log.Info("[channels] page disconnected", "pageId", pc.pageID)
	}
}

func (m *Manager) handlePageEnvelope(pc *pageConn, env wire.Envelope) {
	switch env.Type {
	case wire.MsgUpdate:
		if env.Update == nil {
			return
		}
		page := pc.refreshContext(*env.Update)
		m.reg.ApplyUpdate(*env.Update, page)
	case wire.MsgRemove:
		if env.Remove == nil {
			return
		}
		m.reg.ApplyRemoval(env.Remove.ElementID, pc.context())
	case wire.MsgResult:
		if env.Result == nil {
			return
		}
		pc.deliverResult(*env.Result)
	case wire.MsgGoodbye:
		m.reg.EvictPage(pc.pageID)
	default:
		m.log.Debug("[channels] ignoring page frame", "type", env.Type, "pageId", pc.pageID)
	}
}

func (m *Manager) handleObserverEnvelope(ctx context.Context, oc *observerConn, env wire.Envelope) {
	switch env.Type {
	case wire.MsgCommand:
		if env.Command == nil || env.Command.SessionID == "" {
			return
		}
		m.reg.RouteCommand(ctx, env.Command.SessionID, env.Command.Name, env.Command.Params)
	default:
		m.log.Debug("[channels] ignoring observer frame", "type", env.Type, "observerId", oc.id)
	}
}

func (m *Manager) urlAllowed(rawURL string) bool {
	if len(m.allowURLs) == 0 {
		return true
	}
	for _, g := range m.allowURLs {
		if g.Match(rawURL) {
			return true
		}
	}
	return false
}

func readHello(conn *websocket.Conn) (wire.Hello, error) {
	ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Hello{}, err
	}
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return wire.Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	if env.Type != wire.MsgHello || env.Hello == nil {
		return wire.Hello{}, errors.New("first frame was not a hello")
	}
	return *env.Hello, nil
}
