// Package llms provides clients for external inference engines.
//
// Inference is an external capability: these clients speak HTTP to a
// local or remote engine and surface tokens through StreamChunk channels.
package llms

import (
	"context"
	"errors"
)

// ModelRole names a slot in the model pool.
type ModelRole string

const (
	RolePrime    ModelRole = "prime"
	RoleLite     ModelRole = "lite"
	RoleObserver ModelRole = "observer"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one unit of a streaming generation.
type StreamChunk struct {
	Type   string // "text", "done", "error"
	Text   string
	Tokens int // cumulative token estimate on "done"
	Error  error
}

// GenerateResult is the outcome of a non-streaming call.
type GenerateResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Options are per-call generation parameters.
type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name identifies the underlying model.
	Name() string
	// Generate produces a complete response.
	Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error)
	// GenerateStreaming produces a token stream. The channel is closed
	// when generation finishes; errors arrive as chunks of type "error".
	GenerateStreaming(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
}

// EngineControl is implemented by providers that can release and reacquire
// device memory for GPU handoff.
type EngineControl interface {
	Unload(ctx context.Context) error
	Reload(ctx context.Context) error
}

// ErrProviderUnavailable is returned when the inference engine is down.
var ErrProviderUnavailable = errors.New("inference engine unavailable")

// Constraints bound generation parameters across the deployment.
type Constraints struct {
	Enforce           bool    `yaml:"enforce" mapstructure:"enforce"`
	MaxTemperature    float64 `yaml:"max_temperature" mapstructure:"max_temperature"`
	MaxTopP           float64 `yaml:"max_top_p" mapstructure:"max_top_p"`
	MaxResponseTokens int     `yaml:"max_response_tokens" mapstructure:"max_response_tokens"`
}

// DefaultConstraints returns the deployment defaults.
func DefaultConstraints() Constraints {
	return Constraints{
		Enforce:           true,
		MaxTemperature:    0.2,
		MaxTopP:           0.95,
		MaxResponseTokens: 1000,
	}
}

// Clamp applies the constraints to per-call options. With enforcement off
// the options pass through unchanged.
func (c Constraints) Clamp(opts Options) Options {
	if !c.Enforce {
		return opts
	}
	if opts.Temperature > c.MaxTemperature {
		opts.Temperature = c.MaxTemperature
	}
	if opts.TopP > c.MaxTopP {
		opts.TopP = c.MaxTopP
	}
	if opts.MaxTokens <= 0 || opts.MaxTokens > c.MaxResponseTokens {
		opts.MaxTokens = c.MaxResponseTokens
	}
	return opts
}
