// Package fabric coordinates between services: GPU handoff, notification
// broadcast, container status and service injection.
package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

// Handoff states.
const (
	StateIdle             = "IDLE"
	StateReleaseRequested = "RELEASE_REQUESTED"
	StateReleased         = "RELEASED"
	StateAcquired         = "ACQUIRED"
)

// GPUStats reports device memory usage. Implementations wrap NVML or
// nvidia-smi; a nil collaborator skips the memory checks entirely.
type GPUStats interface {
	UsedMB(ctx context.Context) (int, error)
}

// Broadcaster fans notifications out to connected clients.
type Broadcaster interface {
	Broadcast(category string, payload any)
}

// HandoffConfig tunes the GPU handoff sequence.
type HandoffConfig struct {
	CoreURL          string        `yaml:"core_url" mapstructure:"core_url"`
	StudyURL         string        `yaml:"study_url" mapstructure:"study_url"`
	PollInterval     time.Duration `yaml:"gpu_cleanup_poll_interval" mapstructure:"gpu_cleanup_poll_interval"`
	ThresholdMB      int           `yaml:"gpu_cleanup_threshold_mb" mapstructure:"gpu_cleanup_threshold_mb"`
	CleanupTimeout   time.Duration `yaml:"gpu_cleanup_timeout" mapstructure:"gpu_cleanup_timeout"`
	OracleFallback   bool          `yaml:"oracle_fallback" mapstructure:"oracle_fallback"`
}

// DefaultHandoffConfig returns the deployment defaults.
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		PollInterval:   time.Second,
		ThresholdMB:    500,
		CleanupTimeout: 30 * time.Second,
	}
}

// HandoffCoordinator owns the GPU handoff state machine. The GPU has
// exactly one owner at a time; acquisition without passing through
// RELEASED fails.
type HandoffCoordinator struct {
	cfg      HandoffConfig
	client   *httpclient.Client
	gpu      GPUStats
	notifier Broadcaster
	logger   *slog.Logger

	mu    sync.Mutex
	state string
}

// NewHandoffCoordinator builds the coordinator. gpu and notifier may be
// nil.
func NewHandoffCoordinator(cfg HandoffConfig, client *httpclient.Client, gpu GPUStats, notifier Broadcaster) *HandoffCoordinator {
	def := DefaultHandoffConfig()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ThresholdMB == 0 {
		cfg.ThresholdMB = def.ThresholdMB
	}
	if cfg.CleanupTimeout == 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}
	if client == nil {
		client = httpclient.New()
	}
	return &HandoffCoordinator{
		cfg:      cfg,
		client:   client,
		gpu:      gpu,
		notifier: notifier,
		logger:   slog.Default(),
		state:    StateIdle,
	}
}

// State returns the current handoff state.
func (h *HandoffCoordinator) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *HandoffCoordinator) transition(to string) {
	h.mu.Lock()
	h.state = to
	h.mu.Unlock()
	h.logger.Info("handoff state", "state", to)
}

// Initiate runs the full handoff sequence: ask Core to release, poll GPU
// memory until clean, signal Study. Any failure returns the machine to
// IDLE and broadcasts handoff_failed.
func (h *HandoffCoordinator) Initiate(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateIdle {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("handoff already in progress (state %s)", state)
	}
	h.state = StateReleaseRequested
	h.mu.Unlock()

	h.broadcast("handoff_started", nil)

	if err := h.client.PostJSON(ctx, h.cfg.CoreURL+"/gpu/release", map[string]any{}, nil); err != nil {
		return h.fail(fmt.Errorf("core release failed: %w", err))
	}
	h.broadcast("gpu_released", nil)

	if err := h.waitForCleanup(ctx); err != nil {
		return h.fail(err)
	}
	h.transition(StateReleased)

	if err := h.client.PostJSON(ctx, h.cfg.StudyURL+"/study/gpu-ready", map[string]any{}, nil); err != nil {
		return h.fail(fmt.Errorf("study gpu-ready failed: %w", err))
	}
	h.transition(StateAcquired)
	h.broadcast("gpu_acquired", nil)
	h.broadcast("handoff_completed", nil)
	return nil
}

// Release returns the GPU to Core after Study is done.
func (h *HandoffCoordinator) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateAcquired {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("cannot release from state %s", state)
	}
	h.mu.Unlock()

	if err := h.client.PostJSON(ctx, h.cfg.CoreURL+"/gpu/reclaim", map[string]any{}, nil); err != nil {
		return h.fail(fmt.Errorf("core reclaim failed: %w", err))
	}
	h.transition(StateIdle)
	h.broadcast("handoff_completed", map[string]any{"direction": "reclaim"})
	return nil
}

// waitForCleanup polls device memory until it drops under the threshold.
// Without a GPU collaborator, cleanup is assumed immediately.
func (h *HandoffCoordinator) waitForCleanup(ctx context.Context) error {
	if h.gpu == nil {
		return nil
	}
	deadline := time.Now().Add(h.cfg.CleanupTimeout)
	for {
		used, err := h.gpu.UsedMB(ctx)
		if err != nil {
			h.logger.Warn("gpu stats unavailable, skipping memory check", "error", err)
			return nil
		}
		if used < h.cfg.ThresholdMB {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gpu cleanup timed out at %dMB (threshold %dMB)", used, h.cfg.ThresholdMB)
		}
		select {
		case <-time.After(h.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *HandoffCoordinator) fail(err error) error {
	h.transition(StateIdle)
	h.broadcast("handoff_failed", map[string]any{"reason": err.Error()})
	if h.cfg.OracleFallback {
		h.broadcast("oracle_fallback", map[string]any{"reason": err.Error()})
	}
	return err
}

func (h *HandoffCoordinator) broadcast(category string, payload any) {
	if h.notifier != nil {
		h.notifier.Broadcast(category, payload)
	}
}
