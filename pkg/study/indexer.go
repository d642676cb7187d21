package study

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gaia-runtime/gaia/pkg/embedders"
	"github.com/gaia-runtime/gaia/pkg/vector"
)

// Indexer owns the vector writers. The study worker is the only process
// that writes indexes; every other service reads through vector.Reader.
type Indexer struct {
	root     string
	embedder embedders.Embedder
	docsDirs map[string]string
	logger   *slog.Logger

	mu       sync.Mutex
	writers  map[string]*vector.Writer
	building map[string]bool
}

// NewIndexer maps knowledge base names to their document directories.
func NewIndexer(root string, embedder embedders.Embedder, docsDirs map[string]string) *Indexer {
	return &Indexer{
		root:     root,
		embedder: embedder,
		docsDirs: docsDirs,
		logger:   slog.Default(),
		writers:  make(map[string]*vector.Writer),
		building: make(map[string]bool),
	}
}

func (ix *Indexer) writer(kb string) (*vector.Writer, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if w, ok := ix.writers[kb]; ok {
		return w, nil
	}
	w, err := vector.NewWriter(ix.root, kb, ix.embedder)
	if err != nil {
		return nil, err
	}
	ix.writers[kb] = w
	return w, nil
}

// Build rebuilds the index for kb from its document directory in the
// background. A second build request for the same kb while one is
// running is rejected.
func (ix *Indexer) Build(kb string, force bool) error {
	docsDir, ok := ix.docsDirs[kb]
	if !ok {
		return fmt.Errorf("unknown knowledge base: %s", kb)
	}

	ix.mu.Lock()
	if ix.building[kb] {
		ix.mu.Unlock()
		return fmt.Errorf("index build already running for %s", kb)
	}
	ix.building[kb] = true
	ix.mu.Unlock()

	go func() {
		defer func() {
			ix.mu.Lock()
			ix.building[kb] = false
			ix.mu.Unlock()
		}()
		w, err := ix.writer(kb)
		if err != nil {
			ix.logger.Error("index writer unavailable", "kb", kb, "error", err)
			return
		}
		if !force {
			if err := w.RefreshIndex(); err == nil {
				ix.logger.Info("index refreshed", "kb", kb)
				return
			}
		}
		n, err := w.BuildIndexFromDocs(context.Background(), docsDir)
		if err != nil {
			ix.logger.Error("index build failed", "kb", kb, "error", err)
			return
		}
		ix.logger.Info("index built", "kb", kb, "documents", n)
	}()
	return nil
}

// Building reports whether a build is in flight for kb.
func (ix *Indexer) Building(kb string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.building[kb]
}

// Add indexes a single document into kb synchronously.
func (ix *Indexer) Add(ctx context.Context, kb, path string) error {
	w, err := ix.writer(kb)
	if err != nil {
		return err
	}
	return w.AddDocument(ctx, path)
}

// Query performs a top-k search against kb.
func (ix *Indexer) Query(ctx context.Context, kb, query string, topK int) ([]vector.SearchResult, error) {
	w, err := ix.writer(kb)
	if err != nil {
		return nil, err
	}
	return w.Query(ctx, query, topK)
}

// KnowledgeBases lists the configured base names.
func (ix *Indexer) KnowledgeBases() []string {
	out := make([]string, 0, len(ix.docsDirs))
	for kb := range ix.docsDirs {
		out = append(out, kb)
	}
	return out
}
