package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/gaia-runtime/gaia/pkg/embedders"
)

// SessionStore holds per-session conversation chunks in an embedded
// chromem collection, so recent session context can be recalled by
// similarity without touching the knowledge base indexes.
type SessionStore struct {
	db       *chromem.DB
	embedder embedders.Embedder

	mu     sync.Mutex
	counts map[string]int
}

// NewSessionStore creates an in-memory session RAG store.
func NewSessionStore(embedder embedders.Embedder) *SessionStore {
	return &SessionStore{
		db:       chromem.NewDB(),
		embedder: embedder,
		counts:   make(map[string]int),
	}
}

func (s *SessionStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

func (s *SessionStore) collection(sessionID string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection("session-"+sessionID, nil, s.embeddingFunc())
}

// AddChunk stores one conversation chunk for a session.
func (s *SessionStore) AddChunk(ctx context.Context, sessionID, text string) error {
	col, err := s.collection(sessionID)
	if err != nil {
		return fmt.Errorf("failed to open session collection: %w", err)
	}

	s.mu.Lock()
	s.counts[sessionID]++
	id := fmt.Sprintf("%s-%d", sessionID, s.counts[sessionID])
	s.mu.Unlock()

	err = col.AddDocument(ctx, chromem.Document{ID: id, Content: text})
	if err != nil {
		return fmt.Errorf("failed to add session chunk: %w", err)
	}
	return nil
}

// Search returns the topK most similar chunks from a session's history.
// Sessions with no chunks yield an empty result set.
func (s *SessionStore) Search(ctx context.Context, sessionID, query string, topK int) ([]SearchResult, error) {
	s.mu.Lock()
	count := s.counts[sessionID]
	s.mu.Unlock()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	col, err := s.collection(sessionID)
	if err != nil {
		return nil, err
	}
	hits, err := col.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("session search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchResult{
			Filename: hit.ID,
			Text:     hit.Content,
			Score:    float64(hit.Similarity),
		})
	}
	return out, nil
}
