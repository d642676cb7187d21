// Package study implements the study worker: vector index building (the
// sole writer role), adapter training, and sleep/wake GPU cooperation.
package study

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Training states.
const (
	TrainIdle       = "IDLE"
	TrainPreparing  = "PREPARING"
	TrainValidating = "VALIDATING"
	TrainTraining   = "TRAINING"
	TrainLoading    = "LOADING"
	TrainComplete   = "COMPLETE"
	TrainFailed     = "FAILED"
)

// Adapter tiers, ordered from widest to narrowest scope.
const (
	TierGlobal  = "global"
	TierUser    = "user"
	TierSession = "session"
)

// forbiddenPatterns reject source documents that must never reach a
// training run.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\bapi[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\bpassword\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\bsecret[_-]?token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}`),
}

const maxSourceDocBytes = 1 << 20

// TrainingConfig describes one adapter training request.
type TrainingConfig struct {
	AdapterName        string   `json:"adapter_name"`
	Tier               string   `json:"tier"`
	Pillar             string   `json:"pillar"`
	SourceDocs         []string `json:"source_docs"`
	ActivationTriggers []string `json:"activation_triggers"`
	MaxSteps           int      `json:"max_steps"`
	MaxTrainingSamples int      `json:"max_training_samples"`
}

// Governance caps how many adapters may exist per tier.
type Governance struct {
	MaxGlobal  int `yaml:"max_global_adapters" mapstructure:"max_global_adapters"`
	MaxUser    int `yaml:"max_user_adapters" mapstructure:"max_user_adapters"`
	MaxSession int `yaml:"max_session_adapters" mapstructure:"max_session_adapters"`
}

// DefaultGovernance allows a modest adapter population.
func DefaultGovernance() Governance {
	return Governance{MaxGlobal: 3, MaxUser: 10, MaxSession: 20}
}

func (g Governance) limitFor(tier string) (int, error) {
	switch tier {
	case TierGlobal:
		return g.MaxGlobal, nil
	case TierUser:
		return g.MaxUser, nil
	case TierSession:
		return g.MaxSession, nil
	default:
		return 0, fmt.Errorf("unknown adapter tier: %s", tier)
	}
}

// TrainingSample is one instruction-format example.
type TrainingSample struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// TrainResult is what the external trainer reports on success.
type TrainResult struct {
	AdapterPath string  `json:"adapter_path"`
	Steps       int     `json:"steps"`
	FinalLoss   float64 `json:"final_loss"`
}

// Trainer runs the actual fine-tune. Implementations shell out to the
// training backend; tests substitute fakes. progress receives values in
// [0,1].
type Trainer interface {
	Train(ctx context.Context, cfg TrainingConfig, samples []TrainingSample, progress func(float64)) (TrainResult, error)
}

// TrainingStatus is the externally visible state of the study mode.
type TrainingStatus struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Adapter  string  `json:"adapter,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// StudyMode owns the adapter training state machine. One training run at
// a time; COMPLETE and FAILED are terminal for the run and reset to IDLE
// on the next start.
type StudyMode struct {
	trainer    Trainer
	adapters   *AdapterStore
	governance Governance
	logger     *slog.Logger

	mu       sync.Mutex
	state    string
	progress float64
	adapter  string
	lastErr  string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewStudyMode wires the training collaborators.
func NewStudyMode(trainer Trainer, adapters *AdapterStore, governance Governance) *StudyMode {
	if governance == (Governance{}) {
		governance = DefaultGovernance()
	}
	return &StudyMode{
		trainer:    trainer,
		adapters:   adapters,
		governance: governance,
		logger:     slog.Default(),
		state:      TrainIdle,
	}
}

// Status reports the current state with progress in [0,1].
func (s *StudyMode) Status() TrainingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TrainingStatus{State: s.state, Progress: s.progress, Adapter: s.adapter, Error: s.lastErr}
}

// Busy reports whether a training run is in flight.
func (s *StudyMode) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case TrainPreparing, TrainValidating, TrainTraining, TrainLoading:
		return true
	}
	return false
}

// Start launches a background training run. It fails fast if one is
// already in flight or the config is unusable.
func (s *StudyMode) Start(cfg TrainingConfig) error {
	if cfg.AdapterName == "" {
		return fmt.Errorf("adapter_name is required")
	}
	if len(cfg.SourceDocs) == 0 {
		return fmt.Errorf("source_docs is required")
	}
	if cfg.Tier == "" {
		cfg.Tier = TierSession
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 100
	}
	if cfg.MaxTrainingSamples <= 0 {
		cfg.MaxTrainingSamples = 500
	}

	s.mu.Lock()
	if s.state != TrainIdle && s.state != TrainComplete && s.state != TrainFailed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("training already in progress (state %s)", state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = TrainPreparing
	s.progress = 0
	s.adapter = cfg.AdapterName
	s.lastErr = ""
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer cancel()
		if err := s.run(ctx, cfg); err != nil {
			s.mu.Lock()
			s.state = TrainFailed
			s.lastErr = err.Error()
			s.mu.Unlock()
			s.logger.Error("adapter training failed", "adapter", cfg.AdapterName, "error", err)
		}
	}()
	return nil
}

// Cancel aborts an in-flight run and waits for the worker to exit. Used
// by the GPU release path; the trainer is responsible for freeing device
// memory when its context is cancelled.
func (s *StudyMode) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (s *StudyMode) run(ctx context.Context, cfg TrainingConfig) error {
	samples, hashes, err := s.prepare(cfg)
	if err != nil {
		return err
	}

	s.setState(TrainValidating, 0.05)
	if err := s.validate(cfg); err != nil {
		return err
	}

	s.setState(TrainTraining, 0.1)
	start := time.Now()
	result, err := s.trainer.Train(ctx, cfg, samples, func(p float64) {
		// Trainer progress maps onto the 0.1..0.9 band.
		s.setState(TrainTraining, 0.1+0.8*clamp01(p))
	})
	if err != nil {
		return fmt.Errorf("trainer failed: %w", err)
	}

	s.setState(TrainLoading, 0.9)
	meta := Adapter{
		Name:               cfg.AdapterName,
		Tier:               cfg.Tier,
		Pillar:             cfg.Pillar,
		Path:               result.AdapterPath,
		ActivationTriggers: cfg.ActivationTriggers,
		SourceDocHashes:    hashes,
		TrainingDuration:   time.Since(start).Round(time.Second).String(),
		FinalLoss:          result.FinalLoss,
		Steps:              result.Steps,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.adapters.Save(meta); err != nil {
		return fmt.Errorf("failed to persist adapter metadata: %w", err)
	}

	s.setState(TrainComplete, 1.0)
	s.logger.Info("adapter training complete",
		"adapter", cfg.AdapterName, "samples", len(samples), "loss", result.FinalLoss)
	return nil
}

// prepare walks the source documents, validates each and derives
// instruction samples.
func (s *StudyMode) prepare(cfg TrainingConfig) ([]TrainingSample, []string, error) {
	var samples []TrainingSample
	var hashes []string
	for _, path := range cfg.SourceDocs {
		content, err := readSourceDoc(path)
		if err != nil {
			return nil, nil, err
		}
		sum := sha256.Sum256(content)
		hashes = append(hashes, hex.EncodeToString(sum[:]))
		samples = append(samples, deriveSamples(filepath.Base(path), string(content))...)
	}
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no training samples derived from %d documents", len(cfg.SourceDocs))
	}
	if len(samples) > cfg.MaxTrainingSamples {
		samples = samples[:cfg.MaxTrainingSamples]
	}
	return samples, hashes, nil
}

func readSourceDoc(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source document unreadable: %w", err)
	}
	if info.Size() > maxSourceDocBytes {
		return nil, fmt.Errorf("source document %s exceeds size limit (%d bytes)", path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source document unreadable: %w", err)
	}
	for _, re := range forbiddenPatterns {
		if re.Match(content) {
			return nil, fmt.Errorf("source document %s matches forbidden pattern %s", path, re.String())
		}
	}
	return content, nil
}

// deriveSamples produces the three instruction-format variants per
// content chunk: direct recall, completion, and knowledge retrieval.
func deriveSamples(docName, content string) []TrainingSample {
	var out []TrainingSample
	for _, chunk := range splitParagraphs(content) {
		out = append(out,
			TrainingSample{
				Instruction: fmt.Sprintf("Recall the contents of %s relevant to the question.", docName),
				Input:       firstSentence(chunk),
				Output:      chunk,
			},
			TrainingSample{
				Instruction: "Complete the following passage.",
				Input:       truncateRunes(chunk, len([]rune(chunk))/2),
				Output:      chunk,
			},
			TrainingSample{
				Instruction: fmt.Sprintf("Answer using knowledge from %s.", docName),
				Input:       fmt.Sprintf("What does %s say about this topic?", docName),
				Output:      chunk,
			},
		)
	}
	return out
}

func splitParagraphs(content string) []string {
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if len(p) >= 40 {
			out = append(out, p)
		}
	}
	return out
}

func firstSentence(text string) string {
	if i := strings.IndexAny(text, ".!?"); i > 0 {
		return strings.TrimSpace(text[:i+1])
	}
	return truncateRunes(text, 80)
}

func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// validate enforces per-tier adapter count limits from governance.
func (s *StudyMode) validate(cfg TrainingConfig) error {
	limit, err := s.governance.limitFor(cfg.Tier)
	if err != nil {
		return err
	}
	existing, err := s.adapters.List()
	if err != nil {
		return fmt.Errorf("failed to list adapters: %w", err)
	}
	count := 0
	for _, a := range existing {
		if a.Tier == cfg.Tier && a.Name != cfg.AdapterName {
			count++
		}
	}
	if count >= limit {
		return fmt.Errorf("adapter limit reached for tier %s (%d/%d)", cfg.Tier, count, limit)
	}
	return nil
}

func (s *StudyMode) setState(state string, progress float64) {
	s.mu.Lock()
	s.state = state
	s.progress = clamp01(progress)
	s.mu.Unlock()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
