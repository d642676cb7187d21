// Package packet defines the CognitionPacket, the structured record that
// carries one turn of work across GAIA services.
//
// A packet accumulates state as it flows: the gateway constructs it, the
// cognition orchestrator enriches it (probe results, intent, retrieved
// documents), the inference layer fills the response, and the output router
// delivers it. Every boundary that hands the packet to another service calls
// ComputeHashes first so downstream services can verify content integrity.
package packet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the schema version written by this build. Packets
// received with an older version are upgraded on deserialization.
const CurrentVersion = "3.2.0"

// Origin identifies what initiated the turn.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginSystem    Origin = "system"
	OriginHeartbeat Origin = "heartbeat"
)

// Role names a persona role within the model pool.
type Role string

const (
	RoleDefault  Role = "Default"
	RolePrime    Role = "Prime"
	RoleLite     Role = "Lite"
	RoleObserver Role = "Observer"
)

// Destination is an output routing target.
type Destination string

const (
	DestWeb     Destination = "web"
	DestDiscord Destination = "discord"
	DestLog     Destination = "log"
	DestAudio   Destination = "audio"
)

// SafetyMode controls how aggressively the observer intervenes.
type SafetyMode string

const (
	SafetyStrict   SafetyMode = "strict"
	SafetyStandard SafetyMode = "standard"
)

// Persona is a named bundle of role, tone and traits guiding generation style.
type Persona struct {
	IdentityID string   `json:"identity_id"`
	PersonaID  string   `json:"persona_id"`
	Role       Role     `json:"role"`
	ToneHint   string   `json:"tone_hint,omitempty"`
	Traits     []string `json:"traits,omitempty"`
}

// Routing describes which engine should process the packet.
type Routing struct {
	TargetEngine string `json:"target_engine,omitempty"`
	Priority     int    `json:"priority,omitempty"`
}

// ModelInfo describes the model expected to serve the turn.
type ModelInfo struct {
	Name                string `json:"name,omitempty"`
	Provider            string `json:"provider,omitempty"`
	ContextWindowTokens int    `json:"context_window_tokens,omitempty"`
}

// OutputRouting declares where the finalized response must be delivered.
type OutputRouting struct {
	Primary   Destination `json:"primary"`
	ChannelID string      `json:"channel_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	ReplyRef  string      `json:"reply_ref,omitempty"`
}

// Header carries identity and routing for the packet.
type Header struct {
	Timestamp     time.Time     `json:"timestamp"`
	SessionID     string        `json:"session_id"`
	PacketID      string        `json:"packet_id"`
	SubID         string        `json:"sub_id,omitempty"`
	Persona       Persona       `json:"persona"`
	Origin        Origin        `json:"origin"`
	Routing       Routing       `json:"routing"`
	Model         ModelInfo     `json:"model"`
	OutputRouting OutputRouting `json:"output_routing"`
	Operational   string        `json:"operational_status,omitempty"`
}

// Intent is the classified purpose of the turn.
type Intent struct {
	UserIntent string  `json:"user_intent,omitempty"`
	SystemTask string  `json:"system_task,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// System task labels used by internal phases.
const (
	TaskGenerateDraft = "GenerateDraft"
	TaskReflect       = "Reflect"
)

// HistoryRef points at session history held externally.
type HistoryRef struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
}

// HistorySnippet is one prior exchange deemed relevant to the turn.
type HistorySnippet struct {
	Role    string `json:"role"`
	Summary string `json:"summary"`
}

// Cheatsheet references a compact protocol or reference card.
type Cheatsheet struct {
	Title         string   `json:"title"`
	Pointer       string   `json:"pointer,omitempty"`
	ProtocolRules []string `json:"protocol_rules,omitempty"`
}

// Constraints bound the work done on this turn.
type Constraints struct {
	MaxTokens    int        `json:"max_tokens,omitempty"`
	TimeBudgetMS int        `json:"time_budget_ms,omitempty"`
	SafetyMode   SafetyMode `json:"safety_mode,omitempty"`
}

// Context carries conversational grounding for the turn.
type Context struct {
	SessionHistoryRef HistoryRef       `json:"session_history_ref,omitempty"`
	RelevantHistory   []HistorySnippet `json:"relevant_history,omitempty"`
	Cheatsheets       []Cheatsheet     `json:"cheatsheets,omitempty"`
	Constraints       Constraints      `json:"constraints,omitempty"`
}

// Content holds the user input and the open extension surface.
type Content struct {
	OriginalPrompt string      `json:"original_prompt"`
	DataFields     []DataField `json:"data_fields,omitempty"`
}

// ReflectionEntry is one step in the packet's reasoning audit trail.
// All writers canonicalise to this shape.
type ReflectionEntry struct {
	Step    string `json:"step"`
	Summary string `json:"summary"`
}

// Reasoning accumulates intermediate cognition state.
type Reasoning struct {
	ReflectionLog     []ReflectionEntry `json:"reflection_log,omitempty"`
	Sketchpad         string            `json:"sketchpad,omitempty"`
	ResponseFragments []string          `json:"response_fragments,omitempty"`
	Evaluation        string            `json:"evaluation,omitempty"`
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// SidecarAction is a non-text action the response requests.
type SidecarAction struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`
}

// Response is the generated output of the turn.
type Response struct {
	Candidate      string          `json:"candidate,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	StreamProposal bool            `json:"stream_proposal,omitempty"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	SidecarActions []SidecarAction `json:"sidecar_actions,omitempty"`
}

// SelectedTool records a routing decision with its rationale.
type SelectedTool struct {
	Name      string `json:"name"`
	Rationale string `json:"rationale,omitempty"`
}

// ToolExecution records one tool call result.
type ToolExecution struct {
	Name     string `json:"name"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// ToolRoutingState is populated when the intent classifier routes to tools.
type ToolRoutingState struct {
	Selected   []SelectedTool  `json:"selected,omitempty"`
	Executions []ToolExecution `json:"executions,omitempty"`
}

// Safety gates execution of side effects.
type Safety struct {
	ExecutionAllowed bool `json:"execution_allowed"`
	DryRun           bool `json:"dry_run,omitempty"`
}

// Signatures holds the content digest stamped at service boundaries.
type Signatures struct {
	ContentHash string    `json:"content_hash,omitempty"`
	HashedAt    time.Time `json:"hashed_at,omitempty"`
}

// AuditEntry is a post-hash trail record; it never participates in the
// content digest.
type AuditEntry struct {
	Service   string    `json:"service"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Governance carries safety, signatures and the audit trail.
type Governance struct {
	Safety     Safety       `json:"safety"`
	Signatures Signatures   `json:"signatures,omitempty"`
	Audit      []AuditEntry `json:"audit,omitempty"`
	Privacy    string       `json:"privacy,omitempty"`
}

// TokenUsage tracks token spend for the turn.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ProbeStats summarises the semantic probe for metrics.
type ProbeStats struct {
	PhrasesExtracted int     `json:"phrases_extracted"`
	PhrasesMatched   int     `json:"phrases_matched"`
	TotalHits        int     `json:"total_hits"`
	CollectionsHit   int     `json:"collections_hit"`
	SimilarityAvg    float64 `json:"similarity_avg,omitempty"`
	SimilarityMax    float64 `json:"similarity_max,omitempty"`
	SimilarityMin    float64 `json:"similarity_min,omitempty"`
	ProbeTimeMS      float64 `json:"probe_time_ms"`
	FromCache        int     `json:"from_cache"`
	Threshold        float64 `json:"threshold"`
	Skipped          bool    `json:"skipped,omitempty"`
}

// Metrics accumulates measurements for the turn.
type Metrics struct {
	TokenUsage      TokenUsage     `json:"token_usage"`
	LatencyMS       int64          `json:"latency_ms,omitempty"`
	SemanticProbe   *ProbeStats    `json:"semantic_probe,omitempty"`
	SystemResources map[string]any `json:"system_resources,omitempty"`
}

// ObserverTraceEntry is a post-hash record of one observer invocation.
type ObserverTraceEntry struct {
	Position  int       `json:"position"`
	Level     string    `json:"level"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status tracks the packet's lifecycle.
type Status struct {
	State         State                `json:"state"`
	Finalized     bool                 `json:"finalized"`
	NextSteps     []string             `json:"next_steps,omitempty"`
	ObserverTrace []ObserverTraceEntry `json:"observer_trace,omitempty"`
}

// CognitionPacket is the record that carries one turn of work.
type CognitionPacket struct {
	Version     string           `json:"version"`
	Header      Header           `json:"header"`
	Intent      Intent           `json:"intent"`
	Context     Context          `json:"context"`
	Content     Content          `json:"content"`
	Reasoning   Reasoning        `json:"reasoning"`
	Response    Response         `json:"response"`
	ToolRouting ToolRoutingState `json:"tool_routing_state"`
	Governance  Governance       `json:"governance"`
	Metrics     Metrics          `json:"metrics"`
	Status      Status           `json:"status"`
}

// Options configure packet construction.
type Options struct {
	SessionID   string
	Prompt      string
	Origin      Origin
	Destination Destination
	Persona     Persona
	Model       ModelInfo
	MaxTokens   int
	SafetyMode  SafetyMode
}

// New constructs an initialized packet for a new logical turn.
func New(opts Options) *CognitionPacket {
	if opts.Origin == "" {
		opts.Origin = OriginUser
	}
	if opts.Destination == "" {
		opts.Destination = DestLog
	}
	if opts.Persona.Role == "" {
		opts.Persona.Role = RoleDefault
	}
	if opts.SafetyMode == "" {
		opts.SafetyMode = SafetyStandard
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}

	return &CognitionPacket{
		Version: CurrentVersion,
		Header: Header{
			Timestamp:     time.Now().UTC(),
			SessionID:     opts.SessionID,
			PacketID:      uuid.NewString(),
			Persona:       opts.Persona,
			Origin:        opts.Origin,
			Model:         opts.Model,
			OutputRouting: OutputRouting{Primary: opts.Destination},
		},
		Context: Context{
			Constraints: Constraints{
				MaxTokens:  opts.MaxTokens,
				SafetyMode: opts.SafetyMode,
			},
		},
		Content: Content{OriginalPrompt: opts.Prompt},
		Governance: Governance{
			Safety: Safety{ExecutionAllowed: false},
		},
		Status: Status{State: StateInitialized},
	}
}

// NewSubPacket derives a packet for a nested sub-turn. The child shares the
// parent's packet id and session but gets a fresh sub id, so audit trails
// can group sub-turns under one logical turn.
func (p *CognitionPacket) NewSubPacket(prompt string) *CognitionPacket {
	sub := New(Options{
		SessionID:   p.Header.SessionID,
		Prompt:      prompt,
		Origin:      OriginSystem,
		Destination: p.Header.OutputRouting.Primary,
		Persona:     p.Header.Persona,
		Model:       p.Header.Model,
		MaxTokens:   p.Context.Constraints.MaxTokens,
		SafetyMode:  p.Context.Constraints.SafetyMode,
	})
	sub.Header.PacketID = p.Header.PacketID
	sub.Header.SubID = uuid.NewString()
	return sub
}

// Serialize produces the packet's stable wire form.
func (p *CognitionPacket) Serialize() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize packet %s: %w", p.Header.PacketID, err)
	}
	return data, nil
}

// AddReflection appends a canonical {step, summary} entry to the
// reasoning log.
func (p *CognitionPacket) AddReflection(step, summary string) {
	p.Reasoning.ReflectionLog = append(p.Reasoning.ReflectionLog, ReflectionEntry{
		Step:    step,
		Summary: summary,
	})
}

// AddAudit appends a post-hash audit record.
func (p *CognitionPacket) AddAudit(service, event string) {
	p.Governance.Audit = append(p.Governance.Audit, AuditEntry{
		Service:   service,
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
}

// AddObserverTrace appends a post-hash observer record.
func (p *CognitionPacket) AddObserverTrace(position int, level, reason string) {
	p.Status.ObserverTrace = append(p.Status.ObserverTrace, ObserverTraceEntry{
		Position:  position,
		Level:     level,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}
