package embedders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

// ollamaEmbedMu serializes embedding requests. Ollama's llama runner
// crashes with SIGABRT when it receives concurrent embedding requests.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder calls the Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	cfg    Config
	client *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder pointed at cfg.Host (default
// http://localhost:11434, model nomic-embed-text, dimension 768).
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	timeout := 30 * time.Second
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	return &OllamaEmbedder{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithTimeout(timeout)),
	}
}

// Embed encodes one text. Connection-level failures are reported as
// ErrModelUnavailable so callers can degrade gracefully.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	url := strings.TrimSuffix(e.cfg.Host, "/") + "/api/embeddings"
	var resp ollamaEmbedResponse
	err := e.client.PostJSON(ctx, url, ollamaEmbedRequest{Model: e.cfg.Model, Prompt: text}, &resp)
	if err != nil {
		slog.Debug("ollama embedding failed", "model", e.cfg.Model, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding from %s", ErrModelUnavailable, e.cfg.Model)
	}
	return resp.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.cfg.Dimension }

func (e *OllamaEmbedder) Close() error { return nil }
