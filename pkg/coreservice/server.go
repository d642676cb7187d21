package coreservice

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gaia-runtime/gaia/pkg/cognition"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

const processTimeout = 300 * time.Second

// Engines is the slice of the llm registry the core needs for GPU
// cooperation.
type Engines interface {
	UnloadAll(ctx context.Context) error
	ReloadAll(ctx context.Context) error
}

// TurnRunner runs one cognition turn. Satisfied by
// *cognition.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, in cognition.TurnInput) (<-chan cognition.StreamEvent, error)
}

// Server is the core service HTTP surface.
type Server struct {
	runner  TurnRunner
	engines Engines
	sleep   *SleepState
	logger  *slog.Logger
}

// NewServer wires the core service. engines may be nil when no local
// models are managed.
func NewServer(runner TurnRunner, engines Engines, sleep *SleepState) *Server {
	if sleep == nil {
		sleep = NewSleepState()
	}
	return &Server{runner: runner, engines: engines, sleep: sleep, logger: slog.Default()}
}

// Sleep exposes the state holder for schedulers and tests.
func (s *Server) Sleep() *SleepState { return s.sleep }

// Router builds the chi router for the core service.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/process_packet", s.handleProcessPacket)
	r.Post("/gpu/release", s.handleGPURelease)
	r.Post("/gpu/reclaim", s.handleGPUReclaim)
	r.Get("/sleep/distracted-check", s.handleDistractedCheck)
	r.Post("/sleep/state", s.handleSetState)
	r.Post("/wake", s.handleWake)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.sleep.State() == StateOffline {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "offline"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": s.sleep.State()})
}

// handleProcessPacket accepts a full packet, runs the turn and returns
// the finalized packet. No streaming on this endpoint.
func (s *Server) handleProcessPacket(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	in, err := packet.Deserialize(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.sleep.CanProcess() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"state":           s.sleep.State(),
			"canned_response": s.sleep.CannedResponse(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), processTimeout)
	defer cancel()

	events, err := s.runner.RunTurn(ctx, cognition.TurnInput{
		SessionID:   in.Header.SessionID,
		Input:       in.Content.OriginalPrompt,
		Origin:      in.Header.Origin,
		Destination: in.Header.OutputRouting.Primary,
		Persona:     in.Header.Persona,
		MaxTokens:   in.Context.Constraints.MaxTokens,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var final *packet.CognitionPacket
	for ev := range events {
		if ev.Type == cognition.EventCompleted {
			final = ev.Packet
		}
	}
	if final == nil {
		writeError(w, http.StatusInternalServerError, "turn produced no packet")
		return
	}
	data, err := final.Serialize()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleGPURelease unloads models and cleans device memory so the fabric
// can hand the GPU to the study worker.
func (s *Server) handleGPURelease(w http.ResponseWriter, r *http.Request) {
	if s.engines != nil {
		if err := s.engines.UnloadAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	_ = s.sleep.Set(StateDreaming)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// handleGPUReclaim reloads the default models after the study worker is
// done.
func (s *Server) handleGPUReclaim(w http.ResponseWriter, r *http.Request) {
	if s.engines != nil {
		if err := s.engines.ReloadAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	_ = s.sleep.Set(StateActive)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reclaimed"})
}

func (s *Server) handleDistractedCheck(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"state": s.sleep.State()}
	if canned := s.sleep.CannedResponse(); canned != "" {
		resp["canned_response"] = canned
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sleep.Set(req.State); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.sleep.State()})
}

func (s *Server) handleWake(w http.ResponseWriter, _ *http.Request) {
	_ = s.sleep.Wake()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.sleep.State()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": http.StatusText(status), "message": message},
	})
}
