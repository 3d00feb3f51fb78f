package gateway

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/fastcoder/internal/actors"
	"github.com/dohr-michael/fastcoder/internal/events"
	"github.com/dohr-michael/fastcoder/internal/gateway/ws"
	"github.com/dohr-michael/fastcoder/internal/sessions"
	"github.com/dohr-michael/fastcoder/internal/storage"
)

//go:embed panel/index.html
var panelHTML []byte

// Server is the fastcoder gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	sessions   *sessions.Manager
	usage      *storage.UsageTracker
	pool       *actors.ActorPool
	model      string
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, manager *sessions.Manager, host string, port int, model string) *Server {
	hub := ws.NewHub(bus, manager)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:      hub,
		bus:      bus,
		sessions: manager,
		model:    model,
		host:     host,
		port:     port,
	}

	// Routes
	r.Get("/", s.handlePanel)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/usage", s.handleUsage)
	r.Get("/api/actors", s.handleActors)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve accepts connections on ln. It blocks until the server is stopped.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("fastcoder gateway listening", "addr", ln.Addr().String(), "model", s.model)
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(panelHTML); err != nil {
		slog.Debug("write panel", "error", err)
	}
}

// writeJSON encodes v as the response body. A failed write means the
// client went away, so it is only logged.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"model":   s.model,
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessions.List())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		http.Error(w, "usage tracking not available", http.StatusServiceUnavailable)
		return
	}

	if id := r.URL.Query().Get("session_id"); id != "" {
		writeJSON(w, s.usage.Session(id))
		return
	}
	writeJSON(w, s.usage.Total())
}

// SetUsageTracker enables the /api/usage endpoint.
func (s *Server) SetUsageTracker(ut *storage.UsageTracker) {
	s.usage = ut
}

func (s *Server) handleActors(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		http.Error(w, "actor pool not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.pool.Actors())
}

// SetActorPool enables the /api/actors endpoint.
func (s *Server) SetActorPool(p *actors.ActorPool) {
	s.pool = p
}
