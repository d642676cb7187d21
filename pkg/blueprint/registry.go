package blueprint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a blueprint file does not exist.
var ErrNotFound = errors.New("blueprint not found")

const candidatesDir = "candidates"

// Registry loads and saves blueprints under a root directory.
//
// Layout:
//
//	<root>/<id>.yaml            live blueprints (authoritative)
//	<root>/<id>.md              derived markdown, never authoritative
//	<root>/candidates/<id>.yaml candidate blueprints
//
// Writes are rare and explicit, so no locking beyond atomic file
// replacement is used.
type Registry struct {
	root string
	// sourceRoot anchors relative source_files paths during validation.
	sourceRoot string
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSourceRoot sets the directory against which declared source files
// are checked. Defaults to the current working directory.
func WithSourceRoot(dir string) RegistryOption {
	return func(r *Registry) {
		r.sourceRoot = dir
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry rooted at dir, creating the candidates
// subdirectory if needed.
func NewRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		root:       dir,
		sourceRoot: ".",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(filepath.Join(dir, candidatesDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blueprint root: %w", err)
	}
	return r, nil
}

func (r *Registry) path(id string, candidate bool) string {
	if candidate {
		return filepath.Join(r.root, candidatesDir, id+".yaml")
	}
	return filepath.Join(r.root, id+".yaml")
}

// Load reads one blueprint by id from the live or candidate directory.
func (r *Registry) Load(id string, candidate bool) (*Blueprint, error) {
	data, err := os.ReadFile(r.path(id, candidate))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (candidate=%v)", ErrNotFound, id, candidate)
		}
		return nil, fmt.Errorf("failed to read blueprint %s: %w", id, err)
	}
	bp := &Blueprint{}
	if err := yaml.Unmarshal(data, bp); err != nil {
		return nil, fmt.Errorf("corrupt blueprint %s: %w", id, err)
	}
	return bp, nil
}

// LoadAllLive loads every live blueprint. Corrupt files are skipped with a
// warning rather than failing the whole set.
func (r *Registry) LoadAllLive() ([]*Blueprint, error) {
	return r.loadDir(r.root, false)
}

// LoadAllCandidates loads every candidate blueprint.
func (r *Registry) LoadAllCandidates() ([]*Blueprint, error) {
	return r.loadDir(filepath.Join(r.root, candidatesDir), true)
}

func (r *Registry) loadDir(dir string, candidate bool) ([]*Blueprint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read blueprint dir %s: %w", dir, err)
	}

	var out []*Blueprint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		bp, err := r.Load(id, candidate)
		if err != nil {
			r.logger.Warn("skipping corrupt blueprint", "id", id, "error", err)
			continue
		}
		out = append(out, bp)
	}
	return out, nil
}

// Save writes a blueprint to exactly one of the two directories, chosen by
// the candidate flag. The directory is authoritative over the embedded
// status: writing a non-LIVE blueprint to the live directory fails, while
// saving a LIVE-status blueprint to the candidates directory silently
// downgrades its status to CANDIDATE. Every save rewrites the sibling
// markdown file.
func (r *Registry) Save(bp *Blueprint, candidate bool) error {
	if bp.ID == "" {
		return fmt.Errorf("blueprint id is required")
	}

	if candidate {
		if bp.Meta.Status == StatusLive {
			r.logger.Warn("downgrading LIVE blueprint saved to candidates", "id", bp.ID)
			bp.Meta.Status = StatusCandidate
		}
		if bp.Meta.Status == "" {
			bp.Meta.Status = StatusCandidate
		}
	} else if bp.Meta.Status != StatusLive {
		return fmt.Errorf("refusing to write non-LIVE blueprint %s to live directory", bp.ID)
	}

	bp.Meta.UpdatedAt = time.Now().UTC()
	if bp.Meta.CreatedAt.IsZero() {
		bp.Meta.CreatedAt = bp.Meta.UpdatedAt
	}

	data, err := yaml.Marshal(bp)
	if err != nil {
		return fmt.Errorf("failed to encode blueprint %s: %w", bp.ID, err)
	}

	path := r.path(bp.ID, candidate)
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("failed to write blueprint %s: %w", bp.ID, err)
	}

	mdPath := strings.TrimSuffix(path, ".yaml") + ".md"
	if err := atomicWrite(mdPath, []byte(RenderMarkdown(bp))); err != nil {
		return fmt.Errorf("failed to write blueprint markdown %s: %w", bp.ID, err)
	}
	return nil
}

// Promote moves a candidate blueprint into live service.
//
// Both modes require the candidate to exist and to pass validation.
// Bootstrap mode copies the candidate directly into the live directory,
// for hand-authored seeds. Non-bootstrap mode expects a live file already
// produced by the discovery worker and only flips its status and stamps
// promoted_at.
func (r *Registry) Promote(id string, bootstrap bool) (*Blueprint, error) {
	result, err := r.ValidateCandidate(id)
	if err != nil {
		return nil, err
	}
	if !result.Passed {
		return nil, fmt.Errorf("candidate %s failed validation: %s", id, strings.Join(result.Errors, "; "))
	}

	now := time.Now().UTC()

	if bootstrap {
		bp, err := r.Load(id, true)
		if err != nil {
			return nil, err
		}
		bp.Meta.Status = StatusLive
		bp.Meta.PromotedAt = &now
		if err := r.Save(bp, false); err != nil {
			return nil, err
		}
		return bp, nil
	}

	bp, err := r.Load(id, false)
	if err != nil {
		return nil, fmt.Errorf("promotion of %s requires a discovered live blueprint: %w", id, err)
	}
	bp.Meta.Status = StatusLive
	bp.Meta.Genesis = false
	bp.Meta.PromotedAt = &now
	if err := r.Save(bp, false); err != nil {
		return nil, err
	}
	return bp, nil
}

// atomicWrite publishes a file via temp + rename so concurrent readers see
// either the old or the new content.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
