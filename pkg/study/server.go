package study

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the study worker HTTP surface: index operations,
// training control, GPU cooperation and adapter management.
type Server struct {
	indexer *Indexer
	mode    *StudyMode
	logger  *slog.Logger
}

// NewServer wires the study components.
func NewServer(indexer *Indexer, mode *StudyMode) *Server {
	return &Server{indexer: indexer, mode: mode, logger: slog.Default()}
}

// Router builds the chi router for the study service.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/index/build", s.handleIndexBuild)
	r.Post("/index/add", s.handleIndexAdd)
	r.Post("/index/query", s.handleIndexQuery)

	r.Post("/study/start", s.handleStudyStart)
	r.Get("/study/status", s.handleStudyStatus)
	r.Post("/study/gpu-ready", s.handleGPUReady)
	r.Post("/study/gpu-release", s.handleGPURelease)

	r.Get("/adapters", s.handleAdaptersList)
	r.Post("/adapters/load", s.handleAdapterLoad)
	r.Delete("/adapters/{name}", s.handleAdapterDelete)
	return r
}

func (s *Server) handleIndexBuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseName string `json:"knowledge_base_name"`
		ForceRebuild      bool   `json:"force_rebuild"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.indexer.Build(req.KnowledgeBaseName, req.ForceRebuild); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "building", "knowledge_base": req.KnowledgeBaseName})
}

func (s *Server) handleIndexAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseName string `json:"knowledge_base_name"`
		FilePath          string `json:"file_path"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.indexer.Add(r.Context(), req.KnowledgeBaseName, req.FilePath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "indexed", "file_path": req.FilePath})
}

func (s *Server) handleIndexQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KnowledgeBaseName string `json:"knowledge_base_name"`
		Query             string `json:"query"`
		TopK              int    `json:"top_k"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	results, err := s.indexer.Query(r.Context(), req.KnowledgeBaseName, req.Query, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStudyStart(w http.ResponseWriter, r *http.Request) {
	var cfg TrainingConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := s.mode.Start(cfg); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.mode.Status())
}

func (s *Server) handleStudyStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mode.Status())
}

// handleGPUReady acknowledges a GPU grant from the fabric. If a training
// run is already queued or active it simply proceeds.
func (s *Server) handleGPUReady(w http.ResponseWriter, _ *http.Request) {
	status := s.mode.Status()
	s.logger.Info("gpu granted", "training_state", status.State)
	writeJSON(w, http.StatusOK, map[string]any{"status": "acknowledged", "training": status})
}

// handleGPURelease cancels any in-flight training before acknowledging
// so the device is clean when the fabric polls it.
func (s *Server) handleGPURelease(w http.ResponseWriter, _ *http.Request) {
	wasBusy := s.mode.Busy()
	s.mode.Cancel()
	s.logger.Info("gpu released", "cancelled_training", wasBusy)
	writeJSON(w, http.StatusOK, map[string]any{"status": "released", "cancelled_training": wasBusy})
}

func (s *Server) handleAdaptersList(w http.ResponseWriter, _ *http.Request) {
	adapters, err := s.mode.adapters.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": adapters})
}

func (s *Server) handleAdapterLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.mode.adapters.SetLoaded(req.Name, true); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "name": req.Name})
}

func (s *Server) handleAdapterDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.mode.adapters.Delete(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "bad_request", "message": "invalid request body"},
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": http.StatusText(status), "message": err.Error()},
	})
}
