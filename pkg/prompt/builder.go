// Package prompt assembles role-tagged message lists from a cognition
// packet, within the packet's token budget.
package prompt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

const (
	defaultResponseBuffer = 1024
	domainKnowledgeLimit  = 2000
)

// compactKeys trigger compact mode: internal phases where identity and
// memory blocks waste budget.
var compactKeys = map[string]bool{
	"initial_planning":   true,
	"reflect":            true,
	"execution_feedback": true,
	"reflector_review":   true,
	"self_review":        true,
}

// SummaryStore loads the long-term conversation summary for a session.
type SummaryStore interface {
	LoadSummary(ctx context.Context, sessionID string) (string, error)
}

// Config tunes the builder.
type Config struct {
	Model           string `yaml:"model" mapstructure:"model"`
	ResponseBuffer  int    `yaml:"response_buffer" mapstructure:"response_buffer"`
	SafetyDirective string `yaml:"safety_directive" mapstructure:"safety_directive"`
	Language        string `yaml:"language" mapstructure:"language"`
}

// Builder produces LLM-ready message lists.
type Builder struct {
	cfg       Config
	counter   *TokenCounter
	summaries SummaryStore
	logger    *slog.Logger
}

// New builds a Builder. summaries may be nil.
func New(cfg Config, summaries SummaryStore) (*Builder, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.ResponseBuffer == 0 {
		cfg.ResponseBuffer = defaultResponseBuffer
	}
	if cfg.SafetyDirective == "" {
		cfg.SafetyDirective = defaultSafetyDirective
	}
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	counter, err := NewTokenCounter(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to build token counter: %w", err)
	}
	return &Builder{cfg: cfg, counter: counter, summaries: summaries, logger: slog.Default()}, nil
}

// BuildInput carries everything one build needs beyond the packet.
type BuildInput struct {
	Packet         *packet.CognitionPacket
	TaskKey        string
	ToolsAvailable bool
	ToolSummary    string
	History        []llms.Message
}

// CountMessages prices a message list with the builder's encoding.
func (b *Builder) CountMessages(messages []llms.Message) int {
	return b.counter.CountMessages(messages)
}

// Build assembles the system prompt tiers, then adds optional blocks in
// priority order while they fit the remaining token budget.
func (b *Builder) Build(ctx context.Context, in BuildInput) ([]llms.Message, error) {
	if in.Packet == nil {
		return nil, fmt.Errorf("packet is required")
	}
	pkt := in.Packet
	compact := compactKeys[in.TaskKey]

	system := b.systemPrompt(pkt, in, compact)
	userPrompt := pkt.Content.OriginalPrompt

	budget := pkt.Context.Constraints.MaxTokens
	if budget <= 0 {
		budget = 4096
	}
	fixed := b.counter.Count(system) + b.counter.Count(userPrompt)
	remaining := budget - fixed - b.cfg.ResponseBuffer
	if remaining < 0 {
		remaining = 0
	}

	messages := []llms.Message{{Role: "system", Content: system}}

	// Summary tier: always included when it fits.
	if b.summaries != nil && pkt.Header.SessionID != "" {
		summary, err := b.summaries.LoadSummary(ctx, pkt.Header.SessionID)
		if err != nil {
			b.logger.Debug("summary unavailable", "session_id", pkt.Header.SessionID, "error", err)
		} else if summary != "" {
			msg := llms.Message{Role: "system", Content: "Conversation so far, summarised:\n" + summary}
			if cost := b.counter.CountMessages([]llms.Message{msg}); cost <= remaining {
				messages = append(messages, msg)
				remaining -= cost
			}
		}
	}

	// Session RAG chunks, then history, while budget lasts.
	var chunks []string
	if ok, err := pkt.Content.FieldInto(packet.KeySessionRAGChunks, &chunks); ok && err == nil {
		for _, chunk := range chunks {
			msg := llms.Message{Role: "system", Content: "Relevant earlier exchange:\n" + chunk}
			cost := b.counter.CountMessages([]llms.Message{msg})
			if cost > remaining {
				break
			}
			messages = append(messages, msg)
			remaining -= cost
		}
	}

	history := b.fitHistory(in.History, remaining)
	messages = append(messages, NormalizeHistory(history)...)

	messages = append(messages, llms.Message{Role: "user", Content: userPrompt})
	return messages, nil
}

// fitHistory keeps the most recent messages that fit, returned in
// chronological order.
func (b *Builder) fitHistory(history []llms.Message, budget int) []llms.Message {
	fitted := make([]llms.Message, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.counter.CountMessages(history[i : i+1])
		if used+cost > budget {
			break
		}
		fitted = append([]llms.Message{history[i]}, fitted...)
		used += cost
	}
	return fitted
}
