// Package observer runs quality, alignment and loop-detection checks
// over in-progress generation streams.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

// Interrupt levels, in ascending severity.
const (
	LevelOK      = "OK"
	LevelInfo    = "INFO"
	LevelCaution = "CAUTION"
	LevelBlock   = "BLOCK"
	LevelFatal   = "FATAL"
)

// Modes.
const (
	ModeBlock   = "block"
	ModeExplain = "explain"
	ModeWarn    = "warn"
)

// Interrupt is the observer's verdict. A nil Interrupt means OK.
type Interrupt struct {
	Level      string `json:"level"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Config tunes the observer.
type Config struct {
	Mode             string        `yaml:"mode" mapstructure:"mode"`
	GraceTokens      int           `yaml:"grace_tokens" mapstructure:"grace_tokens"`
	GracePeriod      time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	KeywordThreshold float64       `yaml:"keyword_threshold" mapstructure:"keyword_threshold"`
	MinCallInterval  time.Duration `yaml:"min_call_interval" mapstructure:"min_call_interval"`
	MaxCallsPerTurn  int           `yaml:"max_calls_per_turn" mapstructure:"max_calls_per_turn"`
	LLMTimeout       time.Duration `yaml:"llm_timeout" mapstructure:"llm_timeout"`
	KnownRoots       []string      `yaml:"known_roots" mapstructure:"known_roots"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeBlock,
		GraceTokens:      12,
		GracePeriod:      3 * time.Second,
		KeywordThreshold: 0.25,
		MinCallInterval:  2 * time.Second,
		MaxCallsPerTurn:  6,
		LLMTimeout:       5 * time.Second,
	}
}

// StreamObserver checks accumulated output at orchestrator checkpoints.
// model may be nil, in which case the identity keyword check substitutes
// for the LLM observation.
type StreamObserver struct {
	cfg    Config
	model  llms.Provider
	logger *slog.Logger
}

// New builds a stream observer. model may be nil.
func New(cfg Config, model llms.Provider) *StreamObserver {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.GraceTokens == 0 {
		cfg.GraceTokens = def.GraceTokens
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.KeywordThreshold == 0 {
		cfg.KeywordThreshold = def.KeywordThreshold
	}
	if cfg.MinCallInterval == 0 {
		cfg.MinCallInterval = def.MinCallInterval
	}
	if cfg.MaxCallsPerTurn == 0 {
		cfg.MaxCallsPerTurn = def.MaxCallsPerTurn
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = def.LLMTimeout
	}
	return &StreamObserver{cfg: cfg, model: model, logger: slog.Default()}
}

// Stream holds per-stream observation state.
type Stream struct {
	obs      *StreamObserver
	pkt      *packet.CognitionPacket
	started  time.Time
	lastCall time.Time
	calls    int
}

// NewStream starts observation for one generation stream.
func (o *StreamObserver) NewStream(pkt *packet.CognitionPacket) *Stream {
	return &Stream{obs: o, pkt: pkt, started: time.Now()}
}

var errorTokens = []string{
	"Traceback (most recent call last)",
	"Segmentation fault",
	"panic: runtime error",
	"UnhandledPromiseRejection",
	"Internal Server Error",
}

// Check runs the check sequence over the accumulated output. Returns nil
// when generation should continue.
func (s *Stream) Check(ctx context.Context, output string) *Interrupt {
	cfg := s.obs.cfg

	// 1. Fast check: obvious error or exception text in the output.
	for _, token := range errorTokens {
		if strings.Contains(output, token) {
			return s.obs.applyMode(&Interrupt{
				Level:  LevelBlock,
				Reason: fmt.Sprintf("Error text in output: %q", token),
			})
		}
	}

	// 2. Read-only guard.
	if s.pkt != nil && s.pkt.Content.BoolField(packet.KeyReadOnlyIntent) &&
		strings.Contains(output, "EXECUTE:") {
		return s.obs.applyMode(&Interrupt{
			Level:  LevelBlock,
			Reason: "EXECUTE directive in a read-only turn",
		})
	}

	// 3. Code-path validation: annotation only, never an interrupt.
	s.validatePaths(output)

	// 4. Grace buffer before the identity checks.
	if len(strings.Fields(output)) < cfg.GraceTokens && time.Since(s.started) < cfg.GracePeriod {
		return nil
	}

	// Rate limit and cap the expensive checks.
	if s.calls >= cfg.MaxCallsPerTurn || time.Since(s.lastCall) < cfg.MinCallInterval {
		return nil
	}
	s.calls++
	s.lastCall = time.Now()

	if s.obs.model == nil {
		return s.checkIdentityKeywords(output)
	}
	return s.checkWithModel(ctx, output)
}

// validatePaths extracts path-like tokens and records whether each exists
// under a known root.
func (s *Stream) validatePaths(output string) {
	if s.pkt == nil || len(s.obs.cfg.KnownRoots) == 0 {
		return
	}
	for _, match := range outputPathRe.FindAllString(output, 10) {
		match = strings.TrimSpace(match)
		exists := false
		for _, root := range s.obs.cfg.KnownRoots {
			if _, err := os.Stat(filepath.Join(root, filepath.Base(match))); err == nil {
				exists = true
				break
			}
			if _, err := os.Stat(match); err == nil && strings.HasPrefix(match, root) {
				exists = true
				break
			}
		}
		s.pkt.AddReflection("path_validation",
			fmt.Sprintf("path %q exists=%v", match, exists))
	}
}

var outputPathRe = regexp.MustCompile(`(?:^|\s)(/[\w.-]+(?:/[\w.-]+)+)`)

// checkIdentityKeywords requires a minimum fraction of persona identity
// keywords to appear in the output.
func (s *Stream) checkIdentityKeywords(output string) *Interrupt {
	if s.pkt == nil {
		return nil
	}
	excerpt, ok := s.pkt.Content.StringField(packet.KeyIdentityExcerpt)
	if !ok || excerpt == "" {
		return nil
	}
	keywords := identityKeywords(excerpt)
	if len(keywords) == 0 {
		return nil
	}
	lower := strings.ToLower(output)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	if float64(matched)/float64(len(keywords)) >= s.obs.cfg.KeywordThreshold {
		return nil
	}
	return &Interrupt{
		Level:      LevelInfo,
		Reason:     "output drifting from persona identity",
		Suggestion: "expected some of: " + strings.Join(keywords, ", "),
	}
}

func identityKeywords(excerpt string) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(excerpt)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) < 5 || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == 12 {
			break
		}
	}
	return keywords
}

// applyMode adjusts a BLOCK verdict for the configured mode.
func (o *StreamObserver) applyMode(interrupt *Interrupt) *Interrupt {
	if interrupt == nil || interrupt.Level != LevelBlock {
		return interrupt
	}
	switch o.cfg.Mode {
	case ModeWarn:
		interrupt.Level = LevelCaution
	case ModeExplain:
		if interrupt.Suggestion == "" {
			interrupt.Suggestion = "Rephrase the response without the flagged content."
		}
	}
	return interrupt
}
