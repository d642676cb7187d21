// Package vector implements the knowledge substrate: single-writer JSON
// document indexes with many read-only query clients.
//
// Each knowledge base owns one index file at
// <root>/<knowledge_base>/index.json. The study worker is the designated
// sole writer; every other service opens read-only clients through the
// Factory. Writers publish atomically (write to temp + rename) so readers
// always see either the old or the new index, never a torn one.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gaia-runtime/gaia/pkg/embedders"
)

// Document is one indexed chunk with its source metadata.
type Document struct {
	Filename string         `json:"filename"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index is the on-disk shape: docs[i] embeds to embeddings[i].
type Index struct {
	Docs       []Document  `json:"docs"`
	Embeddings [][]float32 `json:"embeddings"`
}

// SearchResult is one similarity hit.
type SearchResult struct {
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_idx"`
}

// knownTextExtensions are indexed by reading the file directly; binary
// formats go through the native extractors.
var knownTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true,
	".yaml": true, ".yml": true, ".csv": true, ".log": true,
}

const (
	defaultChunkSize = 1200

	// embedConcurrency caps in-flight embedding calls during a full
	// rebuild.
	embedConcurrency = 4
)

// Writer is the sole writer for one knowledge base. Writes are serialized
// by an internal mutex.
type Writer struct {
	root     string
	kb       string
	embedder embedders.Embedder
	logger   *slog.Logger

	mu    sync.Mutex
	index *Index
}

// NewWriter creates the writer for a knowledge base rooted at
// <root>/<kb>/.
func NewWriter(root, kb string, embedder embedders.Embedder) (*Writer, error) {
	dir := filepath.Join(root, kb)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge base dir: %w", err)
	}
	return &Writer{
		root:     root,
		kb:       kb,
		embedder: embedder,
		logger:   slog.Default().With("knowledge_base", kb),
	}, nil
}

// IndexPath is the conventional location of a knowledge base index.
func IndexPath(root, kb string) string {
	return filepath.Join(root, kb, "index.json")
}

// BuildIndexFromDocs scans docsDir for files with known extensions,
// extracts and chunks their text, embeds every chunk, and publishes a
// fresh index.
func (w *Writer) BuildIndexFromDocs(ctx context.Context, docsDir string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var paths []string
	err := filepath.WalkDir(docsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Indexable(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan documents dir %s: %w", docsDir, err)
	}

	// Embedding dominates rebuild time, so files are processed
	// concurrently and merged back in walk order to keep the published
	// index deterministic.
	parts := make([]*Index, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			part := &Index{}
			if err := w.indexFile(gctx, part, path); err != nil {
				// Data corruption policy: skip the affected item, keep going.
				w.logger.Warn("skipping unreadable document", "path", path, "error", err)
				return nil
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	index := &Index{}
	for _, part := range parts {
		if part == nil {
			continue
		}
		index.Docs = append(index.Docs, part.Docs...)
		index.Embeddings = append(index.Embeddings, part.Embeddings...)
	}

	if err := w.publish(index); err != nil {
		return 0, err
	}
	w.logger.Info("index built", "chunks", len(index.Docs))
	return len(index.Docs), nil
}

// AddDocument indexes one file into the existing index.
func (w *Writer) AddDocument(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	index, err := w.load()
	if err != nil {
		return err
	}
	if err := w.indexFile(ctx, index, path); err != nil {
		return err
	}
	return w.publish(index)
}

// RefreshIndex reloads the index from disk, dropping any cached copy.
func (w *Writer) RefreshIndex() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = nil
	_, err := w.loadCached()
	return err
}

// Query searches the writer's own index. Exposed so the study worker can
// serve /index/query without a separate reader.
func (w *Writer) Query(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	w.mu.Lock()
	index, err := w.loadCached()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return searchIndex(ctx, index, w.embedder, query, topK)
}

func (w *Writer) indexFile(ctx context.Context, index *Index, path string) error {
	text, err := ExtractText(ctx, path)
	if err != nil {
		return err
	}
	chunks := splitChunks(text, defaultChunkSize)
	for i, chunk := range chunks {
		embedding, err := w.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to embed %s: %w", path, err)
		}
		index.Docs = append(index.Docs, Document{
			Filename: filepath.Base(path),
			Text:     chunk,
			Metadata: map[string]any{"chunk_idx": i, "source_path": path},
		})
		index.Embeddings = append(index.Embeddings, embedding)
	}
	return nil
}

func (w *Writer) load() (*Index, error) {
	if w.index != nil {
		return w.index, nil
	}
	return w.loadCached()
}

func (w *Writer) loadCached() (*Index, error) {
	index, err := LoadIndex(IndexPath(w.root, w.kb), w.logger)
	if err != nil {
		return nil, err
	}
	w.index = index
	return index, nil
}

func (w *Writer) publish(index *Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	path := IndexPath(w.root, w.kb)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish index: %w", err)
	}
	w.index = index
	return nil
}

// LoadIndex reads an index file. A missing file yields an empty index; a
// corrupt file yields an empty index with a warning, never an error.
func LoadIndex(path string, logger *slog.Logger) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}
	index := &Index{}
	if err := json.Unmarshal(data, index); err != nil {
		logger.Warn("corrupt index file, treating as empty", "path", path, "error", err)
		return &Index{}, nil
	}
	if len(index.Docs) != len(index.Embeddings) {
		logger.Warn("index docs/embeddings length mismatch, treating as empty", "path", path)
		return &Index{}, nil
	}
	return index, nil
}

// Indexable reports whether the file has a supported extension.
func Indexable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return knownTextExtensions[ext] || ext == ".pdf" || ext == ".docx" || ext == ".xlsx"
}

func searchIndex(ctx context.Context, index *Index, embedder embedders.Embedder, query string, topK int) ([]SearchResult, error) {
	if len(index.Docs) == 0 {
		return nil, nil
	}
	if embedder == nil {
		return nil, embedders.ErrModelUnavailable
	}
	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(index.Docs))
	for i, doc := range index.Docs {
		score := CosineSimilarity(queryVec, index.Embeddings[i])
		chunkIdx := 0
		if v, ok := doc.Metadata["chunk_idx"]; ok {
			switch n := v.(type) {
			case float64:
				chunkIdx = int(n)
			case int:
				chunkIdx = n
			}
		}
		results = append(results, SearchResult{
			Filename:   doc.Filename,
			Text:       doc.Text,
			Score:      score,
			ChunkIndex: chunkIdx,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// splitChunks splits text at paragraph boundaries into chunks of at most
// maxLen characters. Oversized paragraphs are hard-split.
func splitChunks(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		for len(para) > maxLen {
			chunks = append(chunks, para[:maxLen])
			para = para[maxLen:]
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
