package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/probe"
)

const defaultSafetyDirective = `Be helpful, honest and direct. Decline requests that would cause harm,
and say so plainly instead of deflecting.`

const epistemicDirective = `Epistemic honesty, every turn:
- Never cite a file path unless it appears in your retrieved documents or was previously read this session.
- Never fabricate blockquotes of prior conversation or documents.
- Distinguish "from my knowledge base" from "from my general knowledge".
- If you do not know, say so rather than inventing an answer.
- Do not repeat a user's claim back as confirmed fact without evidence.`

// taskInstructions is the named instruction table. Keys are referenced by
// the orchestrator and the heartbeat's temporal tasks.
var taskInstructions = map[string]string{
	"initial_planning":    "Draft a short internal plan for answering. List the steps, nothing else.",
	"reflect":             "Review your previous reasoning step. Note one improvement, then continue.",
	"execution_feedback":  "A tool call has returned. Incorporate the result and decide the next step.",
	"reflector_review":    "Review the draft answer for errors and omissions. Respond with corrections only.",
	"self_review":         "Check your answer against the retrieved documents. Remove anything unsupported.",
	"thought_triage":      "Decide what to do with this pending thought. Reply with exactly one word: ARCHIVE, PENDING, or ACT.",
	"journal":             "Write a short first-person journal entry about the session so far.",
	"state_bake":          "Condense the recent journal entries into a stable summary of current state.",
	"past_self_interview": "You are interviewing your past self. Ask one question about a decision made earlier, then answer it.",
	"summarize_session":   "Summarise this conversation in under 200 words, keeping names and decisions.",
}

// TaskInstruction returns the instruction for a key, or "" when unknown.
func TaskInstruction(key string) string { return taskInstructions[key] }

// systemPrompt concatenates the tiers in fixed order, omitting empty ones.
func (b *Builder) systemPrompt(pkt *packet.CognitionPacket, in BuildInput, compact bool) string {
	var tiers []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			tiers = append(tiers, s)
		}
	}

	if !compact {
		add(identityTier(pkt))
	}
	add(personaTier(pkt, in))
	add(b.cfg.SafetyDirective)
	add(epistemicDirective)
	add(fmt.Sprintf("Respond in %s unless explicitly asked to translate.", b.cfg.Language))
	add(TaskInstruction(in.TaskKey))
	if ws, ok := pkt.Content.StringField(packet.KeyWorldStateSnapshot); ok {
		add("Current world state:\n" + ws)
	}
	add(knowledgeTier(pkt))
	add(probeTier(pkt))
	add(retrievalTier(pkt))
	if in.ToolsAvailable && !compact {
		add(memoryHintTier())
	}
	add(cheatsheetTier(pkt))
	add(packetRenderTier(pkt))
	if lr, ok := pkt.Content.StringField(packet.KeyLoopRecoveryContext); ok {
		add("Your previous attempt was interrupted by loop detection:\n" + lr +
			"\nAnswer directly this time, without repeating yourself.")
	}

	return strings.Join(tiers, "\n\n")
}

func identityTier(pkt *packet.CognitionPacket) string {
	excerpt, _ := pkt.Content.StringField(packet.KeyIdentityExcerpt)
	traits := pkt.Header.Persona.Traits
	if excerpt == "" && len(traits) == 0 {
		return ""
	}
	var sb strings.Builder
	if excerpt != "" {
		sb.WriteString(excerpt)
	}
	if len(traits) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Persona traits: " + strings.Join(traits, ", "))
	}
	return sb.String()
}

func personaTier(pkt *packet.CognitionPacket, in BuildInput) string {
	var sb strings.Builder
	sb.WriteString("You are GAIA.")
	if role := pkt.Header.Persona.Role; role != "" {
		sb.WriteString(fmt.Sprintf(" You are serving in the %s role.", role))
	}
	if hint := pkt.Header.Persona.ToneHint; hint != "" {
		sb.WriteString(" Tone: " + hint + ".")
	}
	if in.ToolsAvailable && in.ToolSummary != "" {
		sb.WriteString("\nAvailable tools: " + in.ToolSummary)
	}
	return sb.String()
}

func knowledgeTier(pkt *packet.CognitionPacket) string {
	name, _ := pkt.Content.StringField(packet.KeyKnowledgeBaseName)
	domain, _ := pkt.Content.StringField(packet.KeyDomainKnowledge)
	if name == "" && domain == "" {
		return ""
	}
	if len(domain) > domainKnowledgeLimit {
		domain = domain[:domainKnowledgeLimit] + "…"
	}
	var sb strings.Builder
	if name != "" {
		sb.WriteString("Active knowledge base: " + name)
	}
	if domain != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(domain)
	}
	return sb.String()
}

// probeTier summarises probe hits grouped by collection, primary first.
func probeTier(pkt *packet.CognitionPacket) string {
	var result probe.Result
	if ok, err := pkt.Content.FieldInto(packet.KeySemanticProbeResult, &result); !ok || err != nil {
		return ""
	}
	if len(result.Hits) == 0 {
		return ""
	}
	byCollection := make(map[string][]probe.Hit)
	for _, h := range result.Hits {
		byCollection[h.Collection] = append(byCollection[h.Collection], h)
	}
	order := append([]string{result.PrimaryCollection}, result.SupplementalCollections...)
	var sb strings.Builder
	sb.WriteString("The knowledge probe recognised terms from this message:")
	for _, name := range order {
		hits := byCollection[name]
		if len(hits) == 0 {
			continue
		}
		phrases := make([]string, 0, len(hits))
		seen := map[string]bool{}
		for _, h := range hits {
			if !seen[h.Phrase] {
				seen[h.Phrase] = true
				phrases = append(phrases, h.Phrase)
			}
		}
		sort.Strings(phrases)
		sb.WriteString(fmt.Sprintf("\n- %s: %s", name, strings.Join(phrases, ", ")))
	}
	return sb.String()
}

func retrievalTier(pkt *packet.CognitionPacket) string {
	if pkt.Content.BoolField(packet.KeyRAGNoResults) {
		return "The knowledge base was searched and returned no results for this message. " +
			"Say so if asked; do not fabricate knowledge-base content."
	}
	docs := pkt.Content.RetrievedDocuments()
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Retrieved documents:")
	for _, doc := range docs {
		sb.WriteString(fmt.Sprintf("\n--- %s ---\n%s", doc.Filename, doc.Text))
	}
	sb.WriteString("\n\nGround your answer in the documents above. Cite the filename when you use one.")
	return sb.String()
}

func memoryHintTier() string {
	return "You may use the memory tools to recall or store durable facts about the user and the world."
}

func cheatsheetTier(pkt *packet.CognitionPacket) string {
	if len(pkt.Context.Cheatsheets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Reference cards:")
	for _, cs := range pkt.Context.Cheatsheets {
		sb.WriteString("\n" + cs.Title)
		for _, rule := range cs.ProtocolRules {
			sb.WriteString("\n  - " + rule)
		}
	}
	return sb.String()
}

// packetRenderTier is the lowest-priority tier: a compact rendering of
// context the earlier tiers did not surface.
func packetRenderTier(pkt *packet.CognitionPacket) string {
	var parts []string
	if len(pkt.Context.RelevantHistory) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant prior exchanges:")
		for _, h := range pkt.Context.RelevantHistory {
			sb.WriteString(fmt.Sprintf("\n[%s] %s", h.Role, h.Summary))
		}
		parts = append(parts, sb.String())
	}
	if pkt.Reasoning.Sketchpad != "" {
		parts = append(parts, "Working notes:\n"+pkt.Reasoning.Sketchpad)
	}
	return strings.Join(parts, "\n\n")
}
