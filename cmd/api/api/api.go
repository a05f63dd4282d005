package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/mediasessions/mediahub/lib/channels"
	"github.com/mediasessions/mediahub/lib/logger"
	"github.com/mediasessions/mediahub/lib/registry"
	"github.com/mediasessions/mediahub/lib/session"
	"github.com/mediasessions/mediahub/lib/wire"
)

// ApiService exposes the coordinator over REST and hosts the websocket
// endpoints pages and observers connect to.
type ApiService struct {
	reg *registry.Registry
	mgr *channels.Manager
}

func New(reg *registry.Registry, mgr *channels.Manager) *ApiService {
	return &ApiService{reg: reg, mgr: mgr}
}

// Routes registers every endpoint on the router. REST responses are
// gzip-compressed; the websocket routes hijack the connection and stay
// unwrapped.
func (s *ApiService) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return gzhttp.GzipHandler(next)
		})
		r.Get("/healthz", s.Healthz)
		r.Get("/v1/sessions", s.ListSessions)
		r.Post("/v1/sessions/{sessionID}/command", s.SendCommand)
	})
	r.Get("/ws/observer", s.mgr.HandleObserverSocket)
	r.Get("/ws/page", s.mgr.HandlePageSocket)
}

// Healthz endpoint
// (GET /healthz)
func (s *ApiService) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"observers": s.mgr.ObserverCount(),
		"pages":     s.mgr.PageCount(),
	})
}

// ListSessions endpoint
// (GET /v1/sessions)
func (s *ApiService) ListSessions(w http.ResponseWriter, r *http.Request) {
	snapshot := s.reg.Snapshot()
	if snapshot == nil {
		snapshot = []session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": snapshot})
}

type commandRequest struct {
	Command wire.CommandName    `json:"command"`
	Params  *wire.CommandParams `json:"params,omitempty"`
}

// SendCommand endpoint
// (POST /v1/sessions/{sessionID}/command)
//
// Routing is fire-and-forget: a 202 means the command was accepted for
// routing, a session that no longer exists drops it silently.
func (s *ApiService) SendCommand(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed command body"})
		return
	}
	switch req.Command {
	case wire.CommandTogglePlay, wire.CommandSeekRelative, wire.CommandSeekAbsolute:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unknown command"})
		return
	}

	log.Debug("routing command", "sessionId", sessionID, "command", string(req.Command))
	s.reg.RouteCommand(r.Context(), sessionID, req.Command, req.Params)
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
