package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaia-runtime/gaia/pkg/cognition"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

// Triage decisions.
const (
	DecisionArchive = "ARCHIVE"
	DecisionPending = "PENDING"
	DecisionAct     = "ACT"
)

// HeartbeatSessionID marks turns initiated by the scheduler.
const HeartbeatSessionID = "heartbeat"

// CoreState exposes the orchestrator's sleep state to the scheduler.
type CoreState interface {
	State() string
	Wake() error
}

// TurnRunner runs a full cognition turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, in cognition.TurnInput) (<-chan cognition.StreamEvent, error)
}

// Config tunes the scheduler.
type Config struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	BootDelay      time.Duration `yaml:"boot_delay" mapstructure:"boot_delay"`
	SeedBatch      int           `yaml:"seed_batch" mapstructure:"seed_batch"`
	RevisitDelay   time.Duration `yaml:"revisit_delay" mapstructure:"revisit_delay"`
	WakePoll       time.Duration `yaml:"wake_poll" mapstructure:"wake_poll"`
	WakePollCount  int           `yaml:"wake_poll_count" mapstructure:"wake_poll_count"`
	BakeInterval   int           `yaml:"bake_interval_ticks" mapstructure:"bake_interval_ticks"`
	InterviewEvery int           `yaml:"interview_interval_ticks" mapstructure:"interview_interval_ticks"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       1200 * time.Second,
		BootDelay:      60 * time.Second,
		SeedBatch:      5,
		RevisitDelay:   7 * 24 * time.Hour,
		WakePoll:       2 * time.Second,
		WakePollCount:  90,
		BakeInterval:   3,
		InterviewEvery: 6,
	}
}

// Scheduler drives the heartbeat cycle on its own task.
type Scheduler struct {
	cfg      Config
	seeds    *SeedStore
	lite     llms.Provider
	runner   TurnRunner
	core     CoreState
	temporal *TemporalTasks
	notifier cognition.Notifier
	logger   *slog.Logger

	stop chan struct{}
	tick int
}

// NewScheduler builds the heartbeat. temporal, core and notifier may be
// nil; missing collaborators skip their work.
func NewScheduler(cfg Config, seeds *SeedStore, lite llms.Provider, runner TurnRunner, core CoreState, temporal *TemporalTasks, notifier cognition.Notifier) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BootDelay == 0 {
		cfg.BootDelay = def.BootDelay
	}
	if cfg.SeedBatch == 0 {
		cfg.SeedBatch = def.SeedBatch
	}
	if cfg.RevisitDelay == 0 {
		cfg.RevisitDelay = def.RevisitDelay
	}
	if cfg.WakePoll == 0 {
		cfg.WakePoll = def.WakePoll
	}
	if cfg.WakePollCount == 0 {
		cfg.WakePollCount = def.WakePollCount
	}
	if cfg.BakeInterval == 0 {
		cfg.BakeInterval = def.BakeInterval
	}
	if cfg.InterviewEvery == 0 {
		cfg.InterviewEvery = def.InterviewEvery
	}
	return &Scheduler{
		cfg:      cfg,
		seeds:    seeds,
		lite:     lite,
		runner:   runner,
		core:     core,
		temporal: temporal,
		notifier: notifier,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
	}
}

// Run blocks until Stop or context cancellation. Errors inside a tick are
// logged and never crash the loop.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-time.After(s.cfg.BootDelay):
	case <-ctx.Done():
		return
	case <-s.stop:
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Stop requests cooperative shutdown.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Tick runs one heartbeat cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tick++
	now := time.Now().UTC()

	if promoted, err := s.seeds.PromoteOverduePending(now); err != nil {
		s.logger.Error("pending promotion failed", "error", err)
	} else if promoted > 0 {
		s.logger.Info("promoted overdue seeds", "count", promoted)
	}

	seeds, err := s.seeds.Unreviewed(s.cfg.SeedBatch)
	if err != nil {
		s.logger.Error("seed load failed", "error", err)
		seeds = nil
	}
	for _, seed := range seeds {
		decision := s.Triage(ctx, seed)
		if err := s.apply(ctx, seed, decision); err != nil {
			s.logger.Error("seed decision failed", "seed_id", seed.ID, "decision", decision, "error", err)
		}
	}

	s.runTemporal(ctx)
	s.emit("heartbeat_tick", map[string]any{"tick": s.tick, "seeds_reviewed": len(seeds)})
}

// Triage decides ARCHIVE, PENDING or ACT for one seed. Knowledge-gap
// seeds fast-path to ACT without a model call.
func (s *Scheduler) Triage(ctx context.Context, seed ThoughtSeed) string {
	if seed.SeedType == SeedTypeKnowledgeGap {
		return DecisionAct
	}
	if s.lite == nil {
		return DecisionPending
	}
	messages := []llms.Message{
		{Role: "system", Content: "Decide what to do with this pending thought. Reply with exactly one word on the first line: ARCHIVE, PENDING, or ACT. Optionally add a one-line justification."},
		{Role: "user", Content: fmt.Sprintf("[%s] %s", seed.SeedType, seed.Content)},
	}
	result, err := s.lite.Generate(ctx, messages, llms.Options{Temperature: 0, MaxTokens: 40})
	if err != nil {
		s.logger.Warn("triage model unavailable", "seed_id", seed.ID, "error", err)
		return DecisionPending
	}
	return parseDecision(result.Text)
}

// parseDecision reads the first line case-insensitively; anything else
// defaults to PENDING.
func parseDecision(text string) string {
	first := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		first = text[:idx]
	}
	switch strings.ToUpper(strings.Trim(strings.TrimSpace(first), ".:!")) {
	case DecisionArchive:
		return DecisionArchive
	case DecisionAct:
		return DecisionAct
	case DecisionPending:
		return DecisionPending
	default:
		return DecisionPending
	}
}

func (s *Scheduler) apply(ctx context.Context, seed ThoughtSeed, decision string) error {
	switch decision {
	case DecisionArchive:
		seed.Status = SeedArchived
		return s.seeds.Save(seed)
	case DecisionPending:
		revisit := time.Now().UTC().Add(s.cfg.RevisitDelay)
		seed.Status = SeedPending
		seed.RevisitAfter = &revisit
		return s.seeds.Save(seed)
	case DecisionAct:
		return s.act(ctx, seed)
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}
}

// act expands the seed into a prompt and runs a full cognition turn,
// archiving the seed on completion.
func (s *Scheduler) act(ctx context.Context, seed ThoughtSeed) error {
	if s.runner == nil {
		return fmt.Errorf("no turn runner configured")
	}
	if proceed, deferSeed := s.ensureActive(ctx); !proceed {
		if deferSeed {
			revisit := time.Now().UTC().Add(s.cfg.RevisitDelay)
			seed.Status = SeedPending
			seed.RevisitAfter = &revisit
			return s.seeds.Save(seed)
		}
		return nil // offline: skip without changing the seed
	}

	promptText := s.expand(ctx, seed)
	events, err := s.runner.RunTurn(ctx, cognition.TurnInput{
		SessionID:   HeartbeatSessionID,
		Input:       promptText,
		Origin:      packet.OriginHeartbeat,
		Destination: packet.DestLog,
	})
	if err != nil {
		return fmt.Errorf("heartbeat turn failed: %w", err)
	}
	for range events {
		// Drain; heartbeat output goes to the log destination.
	}

	seed.Status = SeedArchived
	seed.TriageNote = "acted on " + time.Now().UTC().Format(time.RFC3339)
	return s.seeds.Save(seed)
}

// expand turns a seed into an actionable first-person prompt.
func (s *Scheduler) expand(ctx context.Context, seed ThoughtSeed) string {
	fallback := fmt.Sprintf("Follow up on this earlier thought: %s", seed.Content)
	if s.lite == nil {
		return fallback
	}
	messages := []llms.Message{
		{Role: "system", Content: "Rewrite this stored thought as a single actionable instruction to yourself. One sentence."},
		{Role: "user", Content: seed.Content},
	}
	result, err := s.lite.Generate(ctx, messages, llms.Options{Temperature: 0.2, MaxTokens: 80})
	if err != nil || strings.TrimSpace(result.Text) == "" {
		return fallback
	}
	return strings.TrimSpace(result.Text)
}

// ensureActive checks the core's sleep state. Returns (proceed, defer).
func (s *Scheduler) ensureActive(ctx context.Context) (bool, bool) {
	if s.core == nil {
		return true, false
	}
	switch s.core.State() {
	case "active", "drowsy":
		return true, false
	case "dreaming", "distracted":
		return false, true
	case "offline":
		return false, false
	case "asleep":
		return s.wakeAndPoll(ctx), true
	default:
		return true, false
	}
}

// wakeAndPoll sends a wake signal and polls until the core reports
// active, or the poll budget runs out.
func (s *Scheduler) wakeAndPoll(ctx context.Context) bool {
	if err := s.core.Wake(); err != nil {
		s.logger.Warn("wake signal failed", "error", err)
		return false
	}
	for i := 0; i < s.cfg.WakePollCount; i++ {
		if s.core.State() == "active" {
			return true
		}
		select {
		case <-time.After(s.cfg.WakePoll):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (s *Scheduler) runTemporal(ctx context.Context) {
	if s.temporal == nil {
		return
	}
	if err := s.temporal.Journal(ctx); err != nil {
		s.logger.Error("journal task failed", "error", err)
	}
	if s.tick%s.cfg.BakeInterval == 0 {
		if err := s.temporal.BakeState(ctx, s.tick); err != nil {
			s.logger.Error("state bake failed", "error", err)
		}
	}
	if s.tick%s.cfg.InterviewEvery == 0 {
		if err := s.temporal.InterviewPastSelf(ctx); err != nil {
			s.logger.Error("past-self interview failed", "error", err)
		}
	}
}

func (s *Scheduler) emit(category string, payload any) {
	if s.notifier != nil {
		s.notifier.Notify(category, payload)
	}
}
