package fabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the fabric HTTP surface: handoff control, container
// status, environment injection and the notification websocket.
type Server struct {
	handoff *HandoffCoordinator
	monitor *ContainerMonitor
	hub     *Hub
	logger  *slog.Logger
}

// NewServer wires the fabric components into an HTTP server.
func NewServer(handoff *HandoffCoordinator, monitor *ContainerMonitor, hub *Hub) *Server {
	return &Server{
		handoff: handoff,
		monitor: monitor,
		hub:     hub,
		logger:  slog.Default(),
	}
}

// Router builds the chi router for the fabric service.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/gpu/handoff", s.handleHandoff)
	r.Post("/gpu/handback", s.handleHandback)
	r.Get("/gpu/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"state": s.handoff.State()})
	})
	r.Get("/containers/status", s.handleContainerStatus)
	r.Post("/containers/inject", s.handleInject)
	r.Get("/ws", s.hub.ServeHTTP)
	r.Get("/notifications/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": s.hub.History()})
	})
	return r
}

// handleHandoff starts the Core-to-Study GPU handoff. The sequence runs
// in the background; progress is reported over the websocket.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if s.handoff.State() != StateIdle {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "handoff already in progress",
			"state": s.handoff.State(),
		})
		return
	}
	go func() {
		if err := s.handoff.Initiate(context.Background()); err != nil {
			s.logger.Error("gpu handoff failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": StateReleaseRequested})
}

// handleHandback returns the GPU from Study to Core.
func (s *Server) handleHandback(w http.ResponseWriter, r *http.Request) {
	if err := s.handoff.Release(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.handoff.State()})
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.monitor.Status(r.Context())})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service string            `json:"service"`
		Env     map[string]string `json:"env"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Service == "" || len(req.Env) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "service and env are required"})
		return
	}
	if err := s.monitor.Inject(r.Context(), req.Service, req.Env); err != nil {
		s.hub.Broadcast("service_error", map[string]string{"service": req.Service, "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted", "service": req.Service})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
