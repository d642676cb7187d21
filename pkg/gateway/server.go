package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

const wakeFailureResponse = "I'm having trouble waking up. Give me a moment and try again."

// Sink delivers a finalized packet to one output destination.
type Sink interface {
	Deliver(ctx context.Context, pkt *packet.CognitionPacket) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, pkt *packet.CognitionPacket) error

func (f SinkFunc) Deliver(ctx context.Context, pkt *packet.CognitionPacket) error {
	return f(ctx, pkt)
}

// LogSink writes the response candidate to the structured log. The
// default for destinations with no registered transport.
func LogSink() Sink {
	return SinkFunc(func(_ context.Context, pkt *packet.CognitionPacket) error {
		slog.Default().Info("routed response",
			"packet_id", pkt.Header.PacketID,
			"destination", pkt.Header.OutputRouting.Primary,
			"response", pkt.Response.Candidate)
		return nil
	})
}

// Config tunes the gateway.
type Config struct {
	CoreURL        string        `yaml:"core_url" mapstructure:"core_url"`
	SessionID      string        `yaml:"session_id" mapstructure:"session_id"`
	QueueCapacity  int           `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	WakeTimeout    time.Duration `yaml:"wake_timeout" mapstructure:"wake_timeout"`
	DrainInterval  time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
	ProcessTimeout time.Duration `yaml:"process_timeout" mapstructure:"process_timeout"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		SessionID:      "web",
		QueueCapacity:  50,
		WakeTimeout:    120 * time.Second,
		DrainInterval:  2 * time.Second,
		ProcessTimeout: 300 * time.Second,
	}
}

// Presence is the chat UI presence state.
type Presence struct {
	Activity string `json:"activity"`
	Status   string `json:"status"`
}

// Server is the web service HTTP surface.
type Server struct {
	cfg    Config
	client *httpclient.Client
	queue  *MessageQueue
	logger *slog.Logger

	sinkMu sync.RWMutex
	sinks  map[packet.Destination]Sink

	presenceMu sync.Mutex
	presence   Presence
}

// NewServer wires the gateway. client may be nil.
func NewServer(cfg Config, client *httpclient.Client) *Server {
	def := DefaultConfig()
	if cfg.SessionID == "" {
		cfg.SessionID = def.SessionID
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.WakeTimeout == 0 {
		cfg.WakeTimeout = def.WakeTimeout
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = def.DrainInterval
	}
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if client == nil {
		client = httpclient.New(httpclient.WithTimeout(cfg.ProcessTimeout))
	}
	return &Server{
		cfg:    cfg,
		client: client,
		queue:  NewMessageQueue(cfg.QueueCapacity),
		logger: slog.Default(),
		sinks:  map[packet.Destination]Sink{packet.DestLog: LogSink()},
	}
}

// RegisterSink attaches a transport for one destination.
func (s *Server) RegisterSink(dest packet.Destination, sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinks[dest] = sink
}

// Router builds the chi router for the web service.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/process_user_input", s.handleProcessUserInput)
	r.Post("/output_router", s.handleOutputRouter)
	r.Post("/presence", s.handlePresence)
	r.Get("/presence", s.handleGetPresence)
	r.Get("/queue/status", s.handleQueueStatus)
	return r
}

// handleProcessUserInput builds a packet from the raw input and proxies
// it to the core. While the core is asleep the message is queued and a
// wake-drain cycle runs up to the wake timeout.
func (s *Server) handleProcessUserInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserInput string `json:"user_input"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserInput == "" {
		writeError(w, http.StatusBadRequest, "user_input is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = s.cfg.SessionID
	}

	out, err := s.processPacket(r.Context(), req.SessionID, req.UserInput)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable {
			out = s.wakeAndDrain(r.Context(), QueuedMessage{SessionID: req.SessionID, Input: req.UserInput})
		} else {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	if out == nil {
		writeJSON(w, http.StatusOK, map[string]string{"response": wakeFailureResponse})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response":  out.Response.Candidate,
		"packet_id": out.Header.PacketID,
	})
}

func (s *Server) processPacket(ctx context.Context, sessionID, input string) (*packet.CognitionPacket, error) {
	pkt := packet.New(packet.Options{
		SessionID:   sessionID,
		Prompt:      input,
		Origin:      packet.OriginUser,
		Destination: packet.DestWeb,
	})
	body, err := pkt.Serialize()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.CoreURL+"/process_packet", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return packet.Deserialize(respBody)
}

// wakeAndDrain queues the message, pokes the core awake and retries
// until the wake timeout. Returns nil on failure, in which case the
// caller emits the canned wake-failure response.
func (s *Server) wakeAndDrain(ctx context.Context, msg QueuedMessage) *packet.CognitionPacket {
	if err := s.queue.Enqueue(msg); err != nil {
		s.logger.Warn("message dropped", "error", err)
		return nil
	}
	if err := s.client.PostJSON(ctx, s.cfg.CoreURL+"/wake", map[string]any{}, nil); err != nil {
		s.logger.Warn("wake signal failed", "error", err)
	}

	deadline := time.Now().Add(s.cfg.WakeTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.DrainInterval):
		}
		queued, ok := s.queue.Dequeue()
		if !ok {
			return nil
		}
		out, err := s.processPacket(ctx, queued.SessionID, queued.Input)
		if err != nil {
			s.queue.Requeue(queued)
			continue
		}
		return out
	}
	// Wake failed; drop the queued copy so retries start clean.
	_, _ = s.queue.Dequeue()
	return nil
}

// handleOutputRouter delivers a completed packet to the destination its
// header names.
func (s *Server) handleOutputRouter(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	pkt, err := packet.Deserialize(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dest := pkt.Header.OutputRouting.Primary

	s.sinkMu.RLock()
	sink, ok := s.sinks[dest]
	if !ok {
		sink = s.sinks[packet.DestLog]
	}
	s.sinkMu.RUnlock()
	if sink == nil {
		writeError(w, http.StatusBadRequest, "no sink for destination "+string(dest))
		return
	}
	if err := sink.Deliver(r.Context(), pkt); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "routed", "destination": string(dest)})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var p Presence
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.presenceMu.Lock()
	s.presence = p
	s.presenceMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGetPresence(w http.ResponseWriter, _ *http.Request) {
	s.presenceMu.Lock()
	p := s.presence
	s.presenceMu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"size":     s.queue.Len(),
		"capacity": s.cfg.QueueCapacity,
	})
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
