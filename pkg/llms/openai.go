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

// OpenAIConfig configures an OpenAI-compatible chat endpoint (llama.cpp
// server, vLLM, LM Studio and similar engines all speak this protocol).
type OpenAIConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutS int    `yaml:"timeout" mapstructure:"timeout"`
}

// OpenAIProvider speaks the /v1/chat/completions protocol with SSE
// streaming.
type OpenAIProvider struct {
	cfg         OpenAIConfig
	client      *httpclient.Client
	rawClient   *http.Client
	constraints Constraints
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible engine.
func NewOpenAIProvider(cfg OpenAIConfig, constraints Constraints) *OpenAIProvider {
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	timeout := 120 * time.Second
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	return &OpenAIProvider{
		cfg:         cfg,
		client:      httpclient.New(httpclient.WithTimeout(timeout)),
		rawClient:   &http.Client{Timeout: timeout},
		constraints: constraints,
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Model }

func (p *OpenAIProvider) buildRequest(messages []Message, stream bool, opts Options) openAIRequest {
	opts = p.constraints.Clamp(opts)
	return openAIRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error) {
	payload, err := json.Marshal(p.buildRequest(messages, false, opts))
	if err != nil {
		return nil, err
	}
	req, err := p.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	var decoded openAIResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("malformed completion response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("engine error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("completion response contained no choices")
	}
	return &GenerateResult{
		Text:             decoded.Choices[0].Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	payload, err := json.Marshal(p.buildRequest(messages, true, opts))
	if err != nil {
		return nil, err
	}
	req, err := p.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := p.rawClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		tokens := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				out <- StreamChunk{Type: "done", Tokens: tokens}
				return
			}
			var chunk openAIResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- StreamChunk{Type: "error", Error: fmt.Errorf("engine error: %s", chunk.Error.Message)}
				return
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				tokens++
				out <- StreamChunk{Type: "text", Text: chunk.Choices[0].Delta.Content}
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

func (p *OpenAIProvider) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return req, nil
}
