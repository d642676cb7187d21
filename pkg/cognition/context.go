// Package cognition orchestrates the turn pipeline: probe, intent,
// persona, retrieval, prompt, observed streaming, finalization.
package cognition

import (
	"context"
	"time"

	"github.com/gaia-runtime/gaia/pkg/intent"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/probe"
	"github.com/gaia-runtime/gaia/pkg/prompt"
	"github.com/gaia-runtime/gaia/pkg/session"
	"github.com/gaia-runtime/gaia/pkg/vector"
)

// Prober runs the semantic probe.
type Prober interface {
	Probe(ctx context.Context, input, sessionID string) *probe.Result
}

// Classifier resolves input to a routing plan.
type Classifier interface {
	Classify(ctx context.Context, input string) intent.Plan
}

// PromptBuilder assembles the message list for inference and prices it
// for the packet's token accounting.
type PromptBuilder interface {
	Build(ctx context.Context, in prompt.BuildInput) ([]llms.Message, error)
	CountMessages(messages []llms.Message) int
}

// Retriever answers knowledge base queries.
type Retriever interface {
	Query(ctx context.Context, query string, topK int) ([]vector.SearchResult, error)
}

// RetrieverFactory hands out readers by knowledge base name.
type RetrieverFactory interface {
	Reader(name string) Retriever
}

// HistoryStore persists and recalls conversation turns.
type HistoryStore interface {
	AppendMessage(ctx context.Context, msg session.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
}

// ToolRouter selects and executes tools for tool-routing turns.
type ToolRouter interface {
	Select(ctx context.Context, input string) ([]packet.SelectedTool, error)
	Execute(ctx context.Context, call packet.ToolCall) (packet.ToolExecution, error)
	Summary() string
}

// Notifier fans out lifecycle notifications. Implementations must not
// block the turn.
type Notifier interface {
	Notify(category string, payload any)
}

// PersonaSelector resolves the serving persona from intent plus probe
// context. A nil selector keeps the packet's default persona.
type PersonaSelector func(plan intent.Plan, probeContext string) packet.Persona

// Config tunes the orchestrator.
type Config struct {
	KnowledgeBase     string        `yaml:"knowledge_base" mapstructure:"knowledge_base"`
	RAGTopK           int           `yaml:"rag_top_k" mapstructure:"rag_top_k"`
	RAGBudgetFraction float64       `yaml:"rag_budget_fraction" mapstructure:"rag_budget_fraction"`
	MaxSentenceRepeat int           `yaml:"max_sentence_repeat" mapstructure:"max_sentence_repeat"`
	HistoryLimit      int           `yaml:"history_limit" mapstructure:"history_limit"`
	InferenceTimeout  time.Duration `yaml:"inference_timeout" mapstructure:"inference_timeout"`
	CheckpointTokens  int           `yaml:"checkpoint_tokens" mapstructure:"checkpoint_tokens"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		RAGTopK:           5,
		RAGBudgetFraction: 0.35,
		MaxSentenceRepeat: 2,
		HistoryLimit:      30,
		InferenceTimeout:  300 * time.Second,
		CheckpointTokens:  24,
	}
}
