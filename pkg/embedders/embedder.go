// Package embedders provides clients for external embedding models.
//
// Embedding is treated as an external capability: GAIA never loads model
// weights itself. When no embedder is reachable, callers degrade to empty
// results rather than failing the turn.
package embedders

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when the embedding backend cannot serve.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Embedder encodes text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

// Config selects and configures an embedder backend.
type Config struct {
	Type      string `yaml:"type" mapstructure:"type"`
	Model     string `yaml:"model" mapstructure:"model"`
	Host      string `yaml:"host" mapstructure:"host"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
	TimeoutS  int    `yaml:"timeout" mapstructure:"timeout"`
}

// NewFromConfig builds an embedder for the configured backend.
func NewFromConfig(cfg Config) (Embedder, error) {
	switch cfg.Type {
	case "", "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
	}
}
