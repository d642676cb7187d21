package vector

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/embedders"
)

// fakeEmbedder produces deterministic pseudo-embeddings so similarity
// ordering is stable: identical text embeds identically.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, embedders.ErrModelUnavailable
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return vec, nil
}

func (f *fakeEmbedder) Dimension() int { return 8 }
func (f *fakeEmbedder) Close() error   { return nil }

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildIndexFromDocs(t *testing.T) {
	root := t.TempDir()
	docs := t.TempDir()
	writeDoc(t, docs, "alpha.md", "the alpha document")
	writeDoc(t, docs, "beta.txt", "the beta document")
	writeDoc(t, docs, "skip.bin", "not indexable")

	w, err := NewWriter(root, "lore", &fakeEmbedder{})
	require.NoError(t, err)

	n, err := w.BuildIndexFromDocs(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The index file is published at the conventional path.
	_, err = os.Stat(IndexPath(root, "lore"))
	require.NoError(t, err)
}

func TestQueryExactMatchRanksFirst(t *testing.T) {
	root := t.TempDir()
	docs := t.TempDir()
	writeDoc(t, docs, "a.md", "dragons and treasure hoards")
	writeDoc(t, docs, "b.md", "tax law for small businesses")

	w, err := NewWriter(root, "lore", &fakeEmbedder{})
	require.NoError(t, err)
	_, err = w.BuildIndexFromDocs(context.Background(), docs)
	require.NoError(t, err)

	// The fake embedder maps identical text to identical vectors, so an
	// exact-text query must rank its own document first with score 1.
	results, err := w.Query(context.Background(), "dragons and treasure hoards", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.md", results[0].Filename)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestReaderMissingIndexReturnsEmpty(t *testing.T) {
	r := NewReader(t.TempDir(), "nothing", &fakeEmbedder{})
	results, err := r.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReaderCorruptIndexReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "kb"), 0o755))
	require.NoError(t, os.WriteFile(IndexPath(root, "kb"), []byte("{broken"), 0o644))

	r := NewReader(root, "kb", &fakeEmbedder{})
	results, err := r.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryWithoutEmbedderFails(t *testing.T) {
	root := t.TempDir()
	docs := t.TempDir()
	writeDoc(t, docs, "a.md", "content")

	w, err := NewWriter(root, "kb", &fakeEmbedder{})
	require.NoError(t, err)
	_, err = w.BuildIndexFromDocs(context.Background(), docs)
	require.NoError(t, err)

	broken := NewReader(root, "kb", &fakeEmbedder{fail: true})
	_, err = broken.Query(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, embedders.ErrModelUnavailable)
}

func TestAddDocument(t *testing.T) {
	root := t.TempDir()
	docs := t.TempDir()
	writeDoc(t, docs, "first.md", "first doc")

	w, err := NewWriter(root, "kb", &fakeEmbedder{})
	require.NoError(t, err)
	_, err = w.BuildIndexFromDocs(context.Background(), docs)
	require.NoError(t, err)

	writeDoc(t, docs, "second.md", "second doc")
	require.NoError(t, w.AddDocument(context.Background(), filepath.Join(docs, "second.md")))

	// A fresh reader sees both documents.
	r := NewReader(root, "kb", &fakeEmbedder{})
	results, err := r.Query(context.Background(), "second doc", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}), "mismatched lengths")
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("   ", 100))
	assert.Equal(t, []string{"short"}, splitChunks("short", 100))

	long := "para one is here\n\npara two is here\n\npara three is here"
	chunks := splitChunks(long, 20)
	assert.GreaterOrEqual(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 20)
	}
}
