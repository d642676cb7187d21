// Package heartbeat runs the autonomous background cognition cycle:
// thought seed triage, journaling, and temporal state tasks.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Seed statuses.
const (
	SeedUnreviewed = "unreviewed"
	SeedPending    = "pending"
	SeedArchived   = "archived"
	SeedActed      = "acted"
)

// SeedTypeKnowledgeGap fast-paths triage straight to ACT.
const SeedTypeKnowledgeGap = "knowledge_gap"

// ThoughtSeed is one deferred thought awaiting triage.
type ThoughtSeed struct {
	ID           string     `json:"id"`
	SeedType     string     `json:"seed_type"`
	Content      string     `json:"content"`
	Status       string     `json:"status"`
	TriageNote   string     `json:"triage_note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevisitAfter *time.Time `json:"revisit_after,omitempty"`
}

// SeedStore persists one JSON file per seed under thought_seeds/.
type SeedStore struct {
	dir    string
	logger *slog.Logger
}

// NewSeedStore creates the store directory if needed.
func NewSeedStore(root string) (*SeedStore, error) {
	dir := filepath.Join(root, "thought_seeds")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create seed directory: %w", err)
	}
	return &SeedStore{dir: dir, logger: slog.Default()}, nil
}

// seedPath is deterministic per seed so saves overwrite in place.
func (s *SeedStore) seedPath(seed ThoughtSeed) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%d.json", seed.ID, seed.CreatedAt.Unix()))
}

// Save writes the seed to its file.
func (s *SeedStore) Save(seed ThoughtSeed) error {
	if seed.ID == "" {
		return fmt.Errorf("seed id is required")
	}
	if seed.Status == "" {
		seed.Status = SeedUnreviewed
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal seed: %w", err)
	}
	tmp := s.seedPath(seed) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write seed: %w", err)
	}
	return os.Rename(tmp, s.seedPath(seed))
}

// All returns every stored seed, oldest first. Corrupt files are skipped
// with a warning.
func (s *SeedStore) All() ([]ThoughtSeed, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}
	var seeds []ThoughtSeed
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("unreadable seed file", "file", entry.Name(), "error", err)
			continue
		}
		var seed ThoughtSeed
		if err := json.Unmarshal(data, &seed); err != nil {
			s.logger.Warn("corrupt seed file skipped", "file", entry.Name(), "error", err)
			continue
		}
		seeds = append(seeds, seed)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].CreatedAt.Before(seeds[j].CreatedAt) })
	return seeds, nil
}

// Unreviewed returns up to limit seeds awaiting triage, oldest first.
func (s *SeedStore) Unreviewed(limit int) ([]ThoughtSeed, error) {
	seeds, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []ThoughtSeed
	for _, seed := range seeds {
		if seed.Status == SeedUnreviewed {
			out = append(out, seed)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// PromoteOverduePending returns pending seeds whose revisit time has
// passed to the unreviewed queue. Returns the number promoted.
func (s *SeedStore) PromoteOverduePending(now time.Time) (int, error) {
	seeds, err := s.All()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, seed := range seeds {
		if seed.Status != SeedPending || seed.RevisitAfter == nil || seed.RevisitAfter.After(now) {
			continue
		}
		seed.Status = SeedUnreviewed
		seed.RevisitAfter = nil
		if err := s.Save(seed); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}
