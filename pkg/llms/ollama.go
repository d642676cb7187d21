package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

// OllamaConfig configures one Ollama-served model.
type OllamaConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Model    string `yaml:"model" mapstructure:"model"`
	TimeoutS int    `yaml:"timeout" mapstructure:"timeout"`
	// Thinking marks reasoning-tuned models that spend tokens on
	// preamble; the intent classifier skips its model tier for these.
	Thinking bool `yaml:"thinking" mapstructure:"thinking"`
}

// OllamaProvider speaks the Ollama /api/chat protocol (ndjson streaming).
type OllamaProvider struct {
	cfg         OllamaConfig
	client      *httpclient.Client
	rawClient   *http.Client
	constraints Constraints
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
	// KeepAlive 0 asks the engine to unload the model after the call.
	KeepAlive *int `json:"keep_alive,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider for the configured model.
func NewOllamaProvider(cfg OllamaConfig, constraints Constraints) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	timeout := 120 * time.Second
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	return &OllamaProvider{
		cfg:         cfg,
		client:      httpclient.New(httpclient.WithTimeout(timeout)),
		rawClient:   &http.Client{Timeout: timeout},
		constraints: constraints,
	}
}

func (p *OllamaProvider) Name() string { return p.cfg.Model }

// Thinking reports whether the model is reasoning-tuned.
func (p *OllamaProvider) Thinking() bool { return p.cfg.Thinking }

func (p *OllamaProvider) buildOptions(opts Options) *ollamaOptions {
	opts = p.constraints.Clamp(opts)
	return &ollamaOptions{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		NumPredict:  opts.MaxTokens,
	}
}

// Generate performs a non-streaming chat call.
func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error) {
	req := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options:  p.buildOptions(opts),
	}
	var resp ollamaChatResponse
	if err := p.client.PostJSON(ctx, p.cfg.Host+"/api/chat", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama api error: %s", resp.Error)
	}
	return &GenerateResult{
		Text:             resp.Message.Content,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// GenerateStreaming performs a streaming chat call, decoding the engine's
// ndjson response line by line.
func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	req := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   true,
		Options:  p.buildOptions(opts),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.rawClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		tokens := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				out <- StreamChunk{Type: "error", Error: fmt.Errorf("malformed stream chunk: %w", err)}
				return
			}
			if chunk.Error != "" {
				out <- StreamChunk{Type: "error", Error: fmt.Errorf("ollama api error: %s", chunk.Error)}
				return
			}
			if chunk.Message.Content != "" {
				out <- StreamChunk{Type: "text", Text: chunk.Message.Content}
			}
			if chunk.Done {
				tokens = chunk.PromptEvalCount + chunk.EvalCount
				out <- StreamChunk{Type: "done", Tokens: tokens}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- StreamChunk{Type: "error", Error: err}
		}
	}()
	return out, nil
}

// Unload asks the engine to drop the model from device memory.
func (p *OllamaProvider) Unload(ctx context.Context) error {
	zero := 0
	req := ollamaChatRequest{Model: p.cfg.Model, KeepAlive: &zero}
	if err := p.client.PostJSON(ctx, p.cfg.Host+"/api/chat", req, nil); err != nil {
		return fmt.Errorf("failed to unload model %s: %w", p.cfg.Model, err)
	}
	return nil
}

// Reload warms the model back into device memory with an empty prompt.
func (p *OllamaProvider) Reload(ctx context.Context) error {
	req := ollamaChatRequest{Model: p.cfg.Model, Messages: []Message{}, Stream: false}
	if err := p.client.PostJSON(ctx, p.cfg.Host+"/api/chat", req, nil); err != nil {
		return fmt.Errorf("failed to reload model %s: %w", p.cfg.Model, err)
	}
	return nil
}
