package study

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Adapter is the persisted metadata for one trained adapter.
type Adapter struct {
	Name               string    `json:"name"`
	Tier               string    `json:"tier"`
	Pillar             string    `json:"pillar,omitempty"`
	Path               string    `json:"path"`
	ActivationTriggers []string  `json:"activation_triggers,omitempty"`
	SourceDocHashes    []string  `json:"source_doc_hashes,omitempty"`
	TrainingDuration   string    `json:"training_duration,omitempty"`
	FinalLoss          float64   `json:"final_loss,omitempty"`
	Steps              int       `json:"steps,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Loaded             bool      `json:"loaded"`
}

// AdapterStore keeps one JSON metadata file per adapter under
// <root>/adapters/.
type AdapterStore struct {
	dir string
	mu  sync.Mutex
}

// NewAdapterStore creates the backing directory if needed.
func NewAdapterStore(root string) (*AdapterStore, error) {
	dir := filepath.Join(root, "adapters")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create adapter directory: %w", err)
	}
	return &AdapterStore{dir: dir}, nil
}

func (s *AdapterStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid adapter name: %q", name)
	}
	return nil
}

// Save writes the adapter metadata atomically.
func (s *AdapterStore) Save(a Adapter) error {
	if err := validName(a.Name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode adapter metadata: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(a.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write adapter metadata: %w", err)
	}
	return os.Rename(tmp, s.path(a.Name))
}

// Get returns one adapter by name.
func (s *AdapterStore) Get(name string) (Adapter, error) {
	if err := validName(name); err != nil {
		return Adapter{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.path(name))
}

func (s *AdapterStore) read(path string) (Adapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Adapter{}, fmt.Errorf("adapter not found: %w", err)
	}
	var a Adapter
	if err := json.Unmarshal(data, &a); err != nil {
		return Adapter{}, fmt.Errorf("corrupt adapter metadata at %s: %w", path, err)
	}
	return a, nil
}

// List returns all adapters, newest first.
func (s *AdapterStore) List() ([]Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}
	var out []Adapter
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetLoaded flips the loaded flag on one adapter.
func (s *AdapterStore) SetLoaded(name string, loaded bool) error {
	a, err := s.Get(name)
	if err != nil {
		return err
	}
	a.Loaded = loaded
	return s.Save(a)
}

// Delete removes the adapter metadata.
func (s *AdapterStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("failed to delete adapter %s: %w", name, err)
	}
	return nil
}
