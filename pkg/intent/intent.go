// Package intent classifies user input into a routing plan through a
// tiered cascade, cheapest tier first.
package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gaia-runtime/gaia/pkg/embedders"
	"github.com/gaia-runtime/gaia/pkg/llms"
)

// Canonical intent labels.
const (
	IntentExit          = "exit"
	IntentHelp          = "help"
	IntentReadFile      = "read_file"
	IntentWriteFile     = "write_file"
	IntentExecute       = "execute_command"
	IntentTaskComplete  = "task_complete"
	IntentListTools     = "list_tools"
	IntentCorrection    = "correction"
	IntentClarification = "clarification"
	IntentBrainstorm    = "brainstorm"
	IntentFeedback      = "feedback"
	IntentChat          = "chat"
	IntentRecitation    = "recitation"
	IntentLongForm      = "long_form"
	IntentToolRouting   = "tool_routing"
	IntentOther         = "other"
)

// canonicalIntents is the closed label set the model tier may return.
var canonicalIntents = map[string]bool{
	IntentReadFile: true, IntentWriteFile: true, IntentExecute: true,
	IntentTaskComplete: true, IntentListTools: true, IntentCorrection: true,
	IntentClarification: true, IntentBrainstorm: true, IntentFeedback: true,
	IntentChat: true, IntentOther: true,
}

// readOnlyIntents covers the explain/read family.
var readOnlyIntents = map[string]bool{
	IntentReadFile: true, IntentListTools: true,
	IntentClarification: true, IntentRecitation: true,
}

// Plan is the classifier's output record.
type Plan struct {
	Intent   string `json:"intent"`
	ReadOnly bool   `json:"read_only"`
}

// Config tunes the cascade.
type Config struct {
	EmbeddingThreshold float64 `yaml:"embedding_threshold" mapstructure:"embedding_threshold"`
	EmbeddingTopK      int     `yaml:"embedding_top_k" mapstructure:"embedding_top_k"`
	OtherPenalty       float64 `yaml:"other_penalty" mapstructure:"other_penalty"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{EmbeddingThreshold: 0.45, EmbeddingTopK: 3, OtherPenalty: 0.05}
}

// Classifier runs the reflex, signal, model, embedding and keyword tiers
// in order, stopping at the first confident label. Both collaborators are
// optional; missing ones skip their tier.
type Classifier struct {
	cfg      Config
	lite     llms.Provider
	embedder embedders.Embedder
	logger   *slog.Logger
	bank     *exemplarBank
}

// New builds a classifier. lite and embedder may be nil.
func New(cfg Config, lite llms.Provider, embedder embedders.Embedder) *Classifier {
	if cfg.EmbeddingThreshold == 0 {
		cfg.EmbeddingThreshold = 0.45
	}
	if cfg.EmbeddingTopK == 0 {
		cfg.EmbeddingTopK = 3
	}
	if cfg.OtherPenalty == 0 {
		cfg.OtherPenalty = 0.05
	}
	return &Classifier{
		cfg:      cfg,
		lite:     lite,
		embedder: embedder,
		logger:   slog.Default(),
		bank:     newExemplarBank(),
	}
}

// Classify resolves input to a plan. It never fails; degraded tiers fall
// through to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, input string) Plan {
	trimmed := strings.TrimSpace(input)

	if label, ok := classifyReflex(trimmed); ok {
		// Reflex commands are explicit; the post-filter does not apply.
		return Plan{Intent: label, ReadOnly: readOnlyIntents[label]}
	}
	if label, ok := classifySignals(trimmed); ok {
		return c.plan(trimmed, label)
	}
	if label, ok := c.classifyModel(ctx, trimmed); ok {
		return c.plan(trimmed, label)
	}
	if label, ok := c.classifyEmbedding(ctx, trimmed); ok {
		return c.plan(trimmed, label)
	}
	return c.plan(trimmed, classifyKeywords(trimmed))
}

// plan applies the post-filter and wraps the label.
func (c *Classifier) plan(input, label string) Plan {
	if (label == IntentReadFile || label == IntentWriteFile) && !hasFileKeywords(input) {
		label = IntentOther
	}
	return Plan{Intent: label, ReadOnly: readOnlyIntents[label]}
}

// classifyModel asks the lite LLM for a single label. Reasoning-tuned
// models are skipped: they burn tokens on preamble before the label.
func (c *Classifier) classifyModel(ctx context.Context, input string) (string, bool) {
	if c.lite == nil {
		return "", false
	}
	if t, ok := c.lite.(interface{ Thinking() bool }); ok && t.Thinking() {
		return "", false
	}
	messages := []llms.Message{
		{Role: "system", Content: modelTierPrompt},
		{Role: "user", Content: input},
	}
	result, err := c.lite.Generate(ctx, messages, llms.Options{Temperature: 0, MaxTokens: 8})
	if err != nil {
		c.logger.Debug("model intent tier unavailable", "error", err)
		return "", false
	}
	label := strings.ToLower(strings.TrimSpace(result.Text))
	label = strings.Trim(label, `"'.`)
	if canonicalIntents[label] {
		return label, true
	}
	return "", false
}

const modelTierPrompt = `Classify the user's message into exactly one label:
read_file, write_file, execute_command, task_complete, list_tools,
correction, clarification, brainstorm, feedback, chat, other.
Respond with the label only.`

func hasFileKeywords(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range []string{"file", "log", "path", "directory", "folder", "/", ".txt", ".md", ".json", ".yaml", ".go", ".py"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
