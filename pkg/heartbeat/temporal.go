package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaia-runtime/gaia/pkg/llms"
)

// LiteStateManager snapshots and restores the lite engine's device state.
// Implementations talk to the inference engine; the scheduler only
// sequences the calls.
type LiteStateManager interface {
	SaveState(ctx context.Context, path string) error
	LoadState(ctx context.Context, path string) error
}

// BakedState is the metadata written alongside each state snapshot.
type BakedState struct {
	ID          string    `json:"id"`
	Tick        int       `json:"tick"`
	StatePath   string    `json:"state_path"`
	BakedAt     time.Time `json:"baked_at"`
	Interviewed bool      `json:"interviewed"`
}

// InterviewRound is one Q&A exchange with a past self.
type InterviewRound struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// InterviewTranscript is the persisted record of one interview.
type InterviewTranscript struct {
	StateID        string           `json:"state_id"`
	Rounds         []InterviewRound `json:"rounds"`
	CoherenceScore float64          `json:"coherence_score"`
	CoherenceNotes string           `json:"coherence_notes,omitempty"`
	ConductedAt    time.Time        `json:"conducted_at"`
}

// TemporalTasks owns journaling, state baking and past-self interviews.
// The lite mutex guards every save/load/interview sequence; coherence
// analysis runs outside it.
type TemporalTasks struct {
	root     string
	lite     llms.Provider
	prime    llms.Provider
	states   LiteStateManager
	logger   *slog.Logger
	liteMu   sync.Mutex
	maxRound int
}

// NewTemporalTasks builds the temporal task runner rooted at dir.
// states may be nil, in which case baking and interviews are skipped.
func NewTemporalTasks(root string, lite, prime llms.Provider, states LiteStateManager) (*TemporalTasks, error) {
	for _, sub := range []string{"journal", "baked_states", "interviews"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create temporal directory: %w", err)
		}
	}
	return &TemporalTasks{root: root, lite: lite, prime: prime, states: states, logger: slog.Default(), maxRound: 3}, nil
}

// Journal writes a brief first-person entry for this tick.
func (t *TemporalTasks) Journal(ctx context.Context) error {
	if t.lite == nil {
		return nil
	}
	messages := []llms.Message{
		{Role: "system", Content: "Write a short first-person journal entry, three sentences at most, about what has been on your mind lately."},
		{Role: "user", Content: "Journal entry for " + time.Now().UTC().Format(time.RFC3339)},
	}
	result, err := t.lite.Generate(ctx, messages, llms.Options{Temperature: 0.7, MaxTokens: 150})
	if err != nil {
		return fmt.Errorf("journal generation failed: %w", err)
	}
	path := filepath.Join(t.root, "journal", time.Now().UTC().Format("20060102-150405")+".txt")
	return os.WriteFile(path, []byte(strings.TrimSpace(result.Text)+"\n"), 0o644)
}

// BakeState snapshots the lite engine state with metadata.
func (t *TemporalTasks) BakeState(ctx context.Context, tick int) error {
	if t.states == nil {
		return nil
	}
	id := uuid.NewString()
	statePath := filepath.Join(t.root, "baked_states", id+".state")

	t.liteMu.Lock()
	err := t.states.SaveState(ctx, statePath)
	t.liteMu.Unlock()
	if err != nil {
		return fmt.Errorf("state snapshot failed: %w", err)
	}

	meta := BakedState{ID: id, Tick: tick, StatePath: statePath, BakedAt: time.Now().UTC()}
	return t.writeMeta(meta)
}

func (t *TemporalTasks) writeMeta(meta BakedState) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(t.root, "baked_states", meta.ID+".json"), data, 0o644)
}

// bakedStates returns snapshot metadata, oldest first.
func (t *TemporalTasks) bakedStates() ([]BakedState, error) {
	entries, err := os.ReadDir(filepath.Join(t.root, "baked_states"))
	if err != nil {
		return nil, err
	}
	var states []BakedState
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.root, "baked_states", entry.Name()))
		if err != nil {
			continue
		}
		var meta BakedState
		if err := json.Unmarshal(data, &meta); err != nil {
			t.logger.Warn("corrupt baked state metadata skipped", "file", entry.Name())
			continue
		}
		states = append(states, meta)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].BakedAt.Before(states[j].BakedAt) })
	return states, nil
}

// InterviewPastSelf selects the oldest un-interviewed baked state and
// conducts a short Q&A: Prime asks, the past lite self answers.
func (t *TemporalTasks) InterviewPastSelf(ctx context.Context) error {
	if t.states == nil || t.lite == nil || t.prime == nil {
		return nil
	}
	states, err := t.bakedStates()
	if err != nil {
		return fmt.Errorf("failed to list baked states: %w", err)
	}
	var target *BakedState
	for i := range states {
		if !states[i].Interviewed {
			target = &states[i]
			break
		}
	}
	if target == nil {
		return nil
	}

	rounds, err := t.conductInterview(ctx, target)
	if err != nil {
		return err
	}

	// Coherence analysis happens outside the lite mutex, on Prime.
	score, notes := t.analyzeCoherence(ctx, rounds)

	transcript := InterviewTranscript{
		StateID:        target.ID,
		Rounds:         rounds,
		CoherenceScore: score,
		CoherenceNotes: notes,
		ConductedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(t.root, "interviews", target.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	target.Interviewed = true
	return t.writeMeta(*target)
}

// conductInterview holds the lite mutex for the whole save / load-past /
// rounds / restore sequence.
func (t *TemporalTasks) conductInterview(ctx context.Context, target *BakedState) ([]InterviewRound, error) {
	t.liteMu.Lock()
	defer t.liteMu.Unlock()

	currentPath := filepath.Join(t.root, "baked_states", "current-"+uuid.NewString()+".state")
	if err := t.states.SaveState(ctx, currentPath); err != nil {
		return nil, fmt.Errorf("failed to save current state: %w", err)
	}
	defer func() {
		if err := t.states.LoadState(ctx, currentPath); err != nil {
			t.logger.Error("failed to restore current state", "error", err)
		}
		os.Remove(currentPath)
	}()

	if err := t.states.LoadState(ctx, target.StatePath); err != nil {
		return nil, fmt.Errorf("failed to load past state: %w", err)
	}

	var rounds []InterviewRound
	for i := 0; i < t.maxRound; i++ {
		question, err := t.prime.Generate(ctx, []llms.Message{
			{Role: "system", Content: "You are interviewing a past version of yourself. Ask one short question about a decision or mood from that time."},
			{Role: "user", Content: transcriptSoFar(rounds)},
		}, llms.Options{Temperature: 0.7, MaxTokens: 60})
		if err != nil {
			return rounds, fmt.Errorf("interview question failed: %w", err)
		}
		answer, err := t.lite.Generate(ctx, []llms.Message{
			{Role: "system", Content: "Answer as yourself, briefly and honestly."},
			{Role: "user", Content: strings.TrimSpace(question.Text)},
		}, llms.Options{Temperature: 0.7, MaxTokens: 120})
		if err != nil {
			return rounds, fmt.Errorf("interview answer failed: %w", err)
		}
		rounds = append(rounds, InterviewRound{
			Question: strings.TrimSpace(question.Text),
			Answer:   strings.TrimSpace(answer.Text),
		})
	}
	return rounds, nil
}

func transcriptSoFar(rounds []InterviewRound) string {
	if len(rounds) == 0 {
		return "Begin the interview."
	}
	var sb strings.Builder
	for _, r := range rounds {
		sb.WriteString("Q: " + r.Question + "\nA: " + r.Answer + "\n")
	}
	return sb.String()
}

// analyzeCoherence compares the interview against recent journal entries.
func (t *TemporalTasks) analyzeCoherence(ctx context.Context, rounds []InterviewRound) (float64, string) {
	journal := t.recentJournal(3)
	result, err := t.prime.Generate(ctx, []llms.Message{
		{Role: "system", Content: "Compare this interview with the journal entries. Reply with a coherence score 0.0-1.0 on the first line, then one line of notes."},
		{Role: "user", Content: "Interview:\n" + transcriptSoFar(rounds) + "\nJournal:\n" + journal},
	}, llms.Options{Temperature: 0, MaxTokens: 120})
	if err != nil {
		t.logger.Warn("coherence analysis unavailable", "error", err)
		return 0, ""
	}
	lines := strings.SplitN(strings.TrimSpace(result.Text), "\n", 2)
	score := parseScore(lines[0])
	notes := ""
	if len(lines) > 1 {
		notes = strings.TrimSpace(lines[1])
	}
	return score, notes
}

func parseScore(line string) float64 {
	var score float64
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%f", &score); err != nil {
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (t *TemporalTasks) recentJournal(n int) string {
	entries, err := os.ReadDir(filepath.Join(t.root, "journal"))
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[len(names)-n:]
	}
	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(t.root, "journal", name))
		if err == nil {
			sb.Write(data)
		}
	}
	return sb.String()
}
