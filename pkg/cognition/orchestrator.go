package cognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaia-runtime/gaia/pkg/intent"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/observer"
	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/probe"
	"github.com/gaia-runtime/gaia/pkg/prompt"
	"github.com/gaia-runtime/gaia/pkg/session"
)

// Orchestrator drives one cognition turn at a time per session.
type Orchestrator struct {
	cfg       Config
	models    *llms.Registry
	prober    Prober
	intents   Classifier
	prompts   PromptBuilder
	observers *observer.StreamObserver
	history   HistoryStore
	readers   RetrieverFactory
	tools     ToolRouter
	notifier  Notifier
	personas  PersonaSelector
	logger    *slog.Logger
}

// Collaborators bundles the orchestrator's dependencies. models and
// prompts are required; the rest degrade gracefully when nil.
type Collaborators struct {
	Models    *llms.Registry
	Prober    Prober
	Intents   Classifier
	Prompts   PromptBuilder
	Observers *observer.StreamObserver
	History   HistoryStore
	Readers   RetrieverFactory
	Tools     ToolRouter
	Notifier  Notifier
	Personas  PersonaSelector
}

// New builds an orchestrator.
func New(cfg Config, c Collaborators) (*Orchestrator, error) {
	if c.Models == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if c.Prompts == nil {
		return nil, fmt.Errorf("prompt builder is required")
	}
	def := DefaultConfig()
	if cfg.RAGTopK == 0 {
		cfg.RAGTopK = def.RAGTopK
	}
	if cfg.RAGBudgetFraction == 0 {
		cfg.RAGBudgetFraction = def.RAGBudgetFraction
	}
	if cfg.MaxSentenceRepeat == 0 {
		cfg.MaxSentenceRepeat = def.MaxSentenceRepeat
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.InferenceTimeout == 0 {
		cfg.InferenceTimeout = def.InferenceTimeout
	}
	if cfg.CheckpointTokens == 0 {
		cfg.CheckpointTokens = def.CheckpointTokens
	}
	return &Orchestrator{
		cfg:       cfg,
		models:    c.Models,
		prober:    c.Prober,
		intents:   c.Intents,
		prompts:   c.Prompts,
		observers: c.Observers,
		history:   c.History,
		readers:   c.Readers,
		tools:     c.Tools,
		notifier:  c.Notifier,
		personas:  c.Personas,
		logger:    slog.Default(),
	}, nil
}

// TurnInput describes one requested turn.
type TurnInput struct {
	SessionID   string
	Input       string
	Origin      packet.Origin
	Destination packet.Destination
	Persona     packet.Persona
	MaxTokens   int
	TaskKey     string
}

// RunTurn executes the turn pipeline, streaming events on the returned
// channel. The channel closes after the terminal event.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput) (<-chan StreamEvent, error) {
	if strings.TrimSpace(in.Input) == "" {
		return nil, fmt.Errorf("input is required")
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		o.runTurn(ctx, in, events)
	}()
	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, in TurnInput, events chan<- StreamEvent) {
	start := time.Now()

	// 1. Packet construction.
	pkt := packet.New(packet.Options{
		SessionID:   in.SessionID,
		Prompt:      in.Input,
		Origin:      in.Origin,
		Destination: in.Destination,
		Persona:     in.Persona,
		MaxTokens:   in.MaxTokens,
	})
	if err := pkt.ComputeHashes(); err != nil {
		o.logger.Warn("hash computation failed", "error", err)
	}

	// 2. Semantic probe.
	probeContext := ""
	if o.prober != nil {
		result := o.prober.Probe(ctx, in.Input, in.SessionID)
		probeContext = result.PrimaryCollection
		if err := pkt.Content.SetField(packet.KeySemanticProbeResult, "object", result); err != nil {
			o.logger.Warn("failed to attach probe result", "error", err)
		}
		pkt.Metrics.SemanticProbe = result.PacketStats(probe.DefaultSimilarityThreshold)
	}

	// 3. Intent detection.
	plan := intent.Plan{Intent: intent.IntentChat}
	if o.intents != nil {
		plan = o.intents.Classify(ctx, in.Input)
	}
	if plan.ReadOnly {
		if err := pkt.Content.SetField(packet.KeyReadOnlyIntent, "bool", true); err != nil {
			o.logger.Warn("failed to attach read-only flag", "error", err)
		}
	}
	pkt.Intent.UserIntent = plan.Intent

	// 4. Persona selection.
	if o.personas != nil {
		pkt.Header.Persona = o.personas(plan, probeContext)
	}

	// 5. RAG.
	o.attachRetrieval(ctx, pkt, probeContext)

	// 6. Tool routing.
	toolsAvailable := o.tools != nil
	if toolsAvailable && plan.Intent == intent.IntentToolRouting {
		o.routeTools(ctx, pkt, in.Input)
	}

	// 7. Prompt build.
	history := o.loadHistory(ctx, in.SessionID)
	toolSummary := ""
	if toolsAvailable {
		toolSummary = o.tools.Summary()
	}
	messages, err := o.prompts.Build(ctx, prompt.BuildInput{
		Packet:         pkt,
		TaskKey:        in.TaskKey,
		ToolsAvailable: toolsAvailable,
		ToolSummary:    toolSummary,
		History:        history,
	})
	if err != nil {
		o.failTurn(pkt, events, fmt.Errorf("prompt build failed: %w", err))
		return
	}
	promptTokens := o.prompts.CountMessages(messages)
	pkt.Metrics.TokenUsage.Prompt = promptTokens
	pkt.Metrics.TokenUsage.Total += promptTokens

	// 8. Observed streaming.
	candidate, interrupt, err := o.streamResponse(ctx, pkt, messages, events)
	pkt.Response.Candidate = candidate
	if err != nil {
		o.failTurn(pkt, events, err)
		return
	}
	if interrupt != nil {
		o.abortTurn(pkt, events, interrupt)
		return
	}

	// 9. Finalize.
	if quality := observer.CheckResponseQuality(candidate); quality != nil {
		pkt.AddObserverTrace(len(candidate), quality.Level, quality.Reason)
		pkt.Response.Candidate = stripLeakedTags(candidate)
	}
	pkt.Response.Confidence = confidenceFor(pkt)
	if err := pkt.Advance(packet.StateFinalized); err != nil {
		o.logger.Warn("state advance failed", "error", err)
	}
	pkt.Metrics.LatencyMS = time.Since(start).Milliseconds()
	pkt.AddAudit("core", "turn_completed")

	o.persistTurn(ctx, in, pkt)
	events <- completedEvent(pkt)
}

// attachRetrieval queries the knowledge base implied by the probe (or the
// configured default) and attaches documents within the budget fraction.
func (o *Orchestrator) attachRetrieval(ctx context.Context, pkt *packet.CognitionPacket, probeContext string) {
	if o.readers == nil {
		return
	}
	kb := probeContext
	if kb == "" {
		kb = o.cfg.KnowledgeBase
	}
	if kb == "" {
		return
	}
	reader := o.readers.Reader(kb)
	if reader == nil {
		return
	}
	results, err := reader.Query(ctx, pkt.Content.OriginalPrompt, o.cfg.RAGTopK)
	if err != nil {
		o.logger.Warn("retrieval failed", "knowledge_base", kb, "error", err)
		return
	}
	if err := pkt.Content.SetField(packet.KeyKnowledgeBaseName, "string", kb); err != nil {
		o.logger.Warn("failed to attach kb name", "error", err)
	}
	if len(results) == 0 {
		if err := pkt.Content.SetField(packet.KeyRAGNoResults, "bool", true); err != nil {
			o.logger.Warn("failed to attach rag flag", "error", err)
		}
		return
	}

	budget := pkt.Context.Constraints.MaxTokens
	if budget <= 0 {
		budget = 4096
	}
	// Rough character budget: fraction of the token budget at ~4 chars
	// per token.
	charBudget := int(float64(budget) * o.cfg.RAGBudgetFraction * 4)
	docs := make([]packet.RetrievedDocument, 0, len(results))
	used := 0
	for _, r := range results {
		text := r.Text
		if used+len(text) > charBudget {
			remaining := charBudget - used
			if remaining < 200 {
				break
			}
			text = text[:remaining]
		}
		used += len(text)
		docs = append(docs, packet.RetrievedDocument{Filename: r.Filename, Text: text, Score: r.Score})
	}
	if err := pkt.Content.SetField(packet.KeyRetrievedDocuments, "array", docs); err != nil {
		o.logger.Warn("failed to attach documents", "error", err)
	}
}

func (o *Orchestrator) routeTools(ctx context.Context, pkt *packet.CognitionPacket, input string) {
	selected, err := o.tools.Select(ctx, input)
	if err != nil {
		o.logger.Warn("tool selection failed", "error", err)
		return
	}
	pkt.ToolRouting.Selected = selected
	if err := pkt.Content.SetField(packet.KeyToolSelection, "array", selected); err != nil {
		o.logger.Warn("failed to attach tool selection", "error", err)
	}
}

func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []llms.Message {
	if o.history == nil || sessionID == "" {
		return nil
	}
	stored, err := o.history.History(ctx, sessionID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn("history load failed", "session_id", sessionID, "error", err)
		return nil
	}
	messages := make([]llms.Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, llms.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

// streamResponse runs inference and wraps the token stream with the
// repetition guard, the loop detector and observer checkpoints.
func (o *Orchestrator) streamResponse(ctx context.Context, pkt *packet.CognitionPacket, messages []llms.Message, events chan<- StreamEvent) (string, *observer.Interrupt, error) {
	provider, err := o.models.GetOr(modelRoleFor(pkt.Header.Persona.Role))
	if err != nil {
		return "", nil, fmt.Errorf("no model for turn: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	defer cancel()

	if err := pkt.Advance(packet.StateDispatched); err != nil {
		return "", nil, err
	}
	if err := pkt.Advance(packet.StateGenerating); err != nil {
		return "", nil, err
	}

	chunks, err := provider.GenerateStreaming(ctx, messages, llms.Options{})
	if err != nil {
		return "", nil, fmt.Errorf("inference failed: %w", err)
	}

	var sb strings.Builder
	guard := newRepetitionGuard(o.cfg.MaxSentenceRepeat)
	loop := observer.NewLoopObserver(0, 0)
	var stream *observer.Stream
	if o.observers != nil {
		stream = o.observers.NewStream(pkt)
	}
	sinceCheckpoint := 0

	for chunk := range chunks {
		switch chunk.Type {
		case "error":
			return sb.String(), nil, chunk.Error
		case "done":
			pkt.Metrics.TokenUsage.Completion = chunk.Tokens
			pkt.Metrics.TokenUsage.Total += chunk.Tokens
			continue
		}
		if chunk.Text == "" {
			continue
		}

		sb.WriteString(chunk.Text)
		events <- tokenEvent(chunk.Text)
		sinceCheckpoint++

		if guard.feed(chunk.Text) {
			return sb.String(), &observer.Interrupt{
				Level:      observer.LevelBlock,
				Reason:     "sentence repetition limit exceeded",
				Suggestion: "Answer once, without restating the same sentence.",
			}, nil
		}
		if interrupt := loop.Feed(chunk.Text); interrupt != nil {
			return sb.String(), interrupt, nil
		}
		if stream != nil && checkpointDue(chunk.Text, sinceCheckpoint, o.cfg.CheckpointTokens) {
			sinceCheckpoint = 0
			if interrupt := stream.Check(ctx, sb.String()); interrupt != nil {
				if interrupt.Level == observer.LevelBlock || interrupt.Level == observer.LevelFatal {
					return sb.String(), interrupt, nil
				}
				pkt.AddObserverTrace(len(sb.String()), interrupt.Level, interrupt.Reason)
			}
		}
	}
	return sb.String(), nil, nil
}

// checkpointDue fires after enough tokens, or at a punctuation boundary
// with a partial buffer.
func checkpointDue(token string, sinceCheckpoint, every int) bool {
	if sinceCheckpoint >= every {
		return true
	}
	return sinceCheckpoint >= every/2 && strings.ContainsAny(token, ".!?\n")
}

// abortTurn terminates on an observer or loop verdict, preserving the
// partial candidate.
func (o *Orchestrator) abortTurn(pkt *packet.CognitionPacket, events chan<- StreamEvent, interrupt *observer.Interrupt) {
	pkt.AddObserverTrace(len(pkt.Response.Candidate), interrupt.Level, interrupt.Reason)
	pkt.Status.NextSteps = append(pkt.Status.NextSteps, "aborted: "+interrupt.Reason)
	if err := pkt.Advance(packet.StateAborted); err != nil {
		o.logger.Warn("state advance failed", "error", err)
	}
	if o.notifier != nil {
		o.notifier.Notify("service_error", map[string]any{
			"packet_id": pkt.Header.PacketID,
			"reason":    interrupt.Reason,
		})
	}
	events <- interruptionEvent(interrupt)
	events <- completedEvent(pkt)
}

func (o *Orchestrator) failTurn(pkt *packet.CognitionPacket, events chan<- StreamEvent, err error) {
	o.logger.Error("turn failed", "packet_id", pkt.Header.PacketID, "error", err)
	pkt.Status.NextSteps = append(pkt.Status.NextSteps, "failed: "+err.Error())
	if advErr := pkt.Advance(packet.StateFailed); advErr != nil {
		o.logger.Warn("state advance failed", "error", advErr)
	}
	events <- interruptionEvent(&observer.Interrupt{
		Level:  observer.LevelFatal,
		Reason: "I ran into an internal problem answering that.",
	})
	events <- completedEvent(pkt)
}

func (o *Orchestrator) persistTurn(ctx context.Context, in TurnInput, pkt *packet.CognitionPacket) {
	if o.history == nil || in.SessionID == "" {
		return
	}
	if err := o.history.AppendMessage(ctx, session.Message{
		SessionID: in.SessionID, Role: "user", Content: in.Input, PacketID: pkt.Header.PacketID,
	}); err != nil {
		o.logger.Warn("failed to persist user turn", "error", err)
	}
	if err := o.history.AppendMessage(ctx, session.Message{
		SessionID: in.SessionID, Role: "assistant", Content: pkt.Response.Candidate, PacketID: pkt.Header.PacketID,
	}); err != nil {
		o.logger.Warn("failed to persist assistant turn", "error", err)
	}
}

// modelRoleFor maps persona roles onto the model pool.
func modelRoleFor(role packet.Role) llms.ModelRole {
	switch role {
	case packet.RoleLite:
		return llms.RoleLite
	case packet.RoleObserver:
		return llms.RoleObserver
	default:
		return llms.RolePrime
	}
}

var leakedTagReplacer = strings.NewReplacer("<think>", "", "</think>", "", "<reflection>", "", "</reflection>", "")

func stripLeakedTags(candidate string) string {
	return strings.TrimSpace(leakedTagReplacer.Replace(candidate))
}

// confidenceFor derives a coarse confidence from retrieval grounding.
func confidenceFor(pkt *packet.CognitionPacket) float64 {
	if pkt.Content.BoolField(packet.KeyRAGNoResults) {
		return 0.4
	}
	if len(pkt.Content.RetrievedDocuments()) > 0 {
		return 0.8
	}
	return 0.6
}
