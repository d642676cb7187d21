package vector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gaia-runtime/gaia/pkg/embedders"
)

// Reader is a read-only query client for one knowledge base. The index is
// lazy-loaded on first query and can be shared by many goroutines; readers
// never mutate the index file.
type Reader struct {
	path     string
	kb       string
	embedder embedders.Embedder
	logger   *slog.Logger

	mu    sync.RWMutex
	index *Index
}

// NewReader creates a reader for the index at the conventional path.
func NewReader(root, kb string, embedder embedders.Embedder) *Reader {
	return &Reader{
		path:     IndexPath(root, kb),
		kb:       kb,
		embedder: embedder,
		logger:   slog.Default().With("knowledge_base", kb),
	}
}

// KnowledgeBase returns the name this reader serves.
func (r *Reader) KnowledgeBase() string { return r.kb }

// Query returns the top-k most similar chunks with scores. A missing
// index yields an empty result set; a missing embedding model yields
// embedders.ErrModelUnavailable.
func (r *Reader) Query(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	index, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	return searchIndex(ctx, index, r.embedder, query, topK)
}

// Reload drops the cached index so the next query sees a fresh publish.
func (r *Reader) Reload() {
	r.mu.Lock()
	r.index = nil
	r.mu.Unlock()
}

func (r *Reader) loadIndex() (*Index, error) {
	r.mu.RLock()
	cached := r.index
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil {
		return r.index, nil
	}
	index, err := LoadIndex(r.path, r.logger)
	if err != nil {
		return nil, err
	}
	r.index = index
	return index, nil
}

// Factory produces one reader per knowledge base name, each pointing at
// the conventional store path. Readers are cached and shared.
type Factory struct {
	root     string
	embedder embedders.Embedder

	mu      sync.Mutex
	readers map[string]*Reader
}

// NewFactory creates a reader factory over the store root.
func NewFactory(root string, embedder embedders.Embedder) *Factory {
	return &Factory{
		root:     root,
		embedder: embedder,
		readers:  make(map[string]*Reader),
	}
}

// Reader returns the shared reader for a knowledge base.
func (f *Factory) Reader(kb string) *Reader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.readers[kb]; ok {
		return r
	}
	r := NewReader(f.root, kb, f.embedder)
	f.readers[kb] = r
	return r
}

// KnownBases lists the knowledge bases a factory has handed out readers
// for.
func (f *Factory) KnownBases() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.readers))
	for kb := range f.readers {
		out = append(out, kb)
	}
	return out
}
