package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gaia-runtime/gaia/pkg/llms"
)

// observation is the fixed shape the observer model must produce.
type observation struct {
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// softFramingWords mark concerns about fictional or hypothetical framing.
// Those are recorded but never allowed to block a stream.
var softFramingWords = []string{"project", "hypothetical", "metaphor", "roleplay", "fiction"}

const observationPrompt = `You are watching another model's in-progress response.
Decide whether generation should continue.
Respond with JSON only: {"action": "CONTINUE"|"INTERRUPT", "reason": "..."}.
Interrupt only for clear identity drift, fabricated facts presented as
certain, or unsafe content. Do not interrupt for style.`

// checkWithModel asks the observer model for a verdict and parses it
// defensively: anything that is not the expected JSON counts as CONTINUE.
func (s *Stream) checkWithModel(ctx context.Context, output string) *Interrupt {
	ctx, cancel := context.WithTimeout(ctx, s.obs.cfg.LLMTimeout)
	defer cancel()

	messages := []llms.Message{
		{Role: "system", Content: observationPrompt},
		{Role: "user", Content: "Response so far:\n" + output},
	}
	result, err := s.obs.model.Generate(ctx, messages, llms.Options{Temperature: 0, MaxTokens: 200})
	if err != nil {
		s.obs.logger.Debug("observer model unavailable", "error", err)
		return nil
	}

	obs, valid := parseObservation(result.Text)
	if s.pkt != nil {
		s.pkt.AddReflection("observer",
			fmt.Sprintf("action=%s valid=%v reason=%s", obs.Action, valid, obs.Reason))
	}
	if !valid || obs.Action != "INTERRUPT" {
		return nil
	}

	// Soft framing concerns are suppressed to CAUTION.
	lowerReason := strings.ToLower(obs.Reason)
	for _, word := range softFramingWords {
		if strings.Contains(lowerReason, word) {
			return &Interrupt{Level: LevelCaution, Reason: obs.Reason, Suggestion: obs.Suggestion}
		}
	}
	return s.obs.applyMode(&Interrupt{Level: LevelBlock, Reason: obs.Reason, Suggestion: obs.Suggestion})
}

// parseObservation extracts the {action, reason} record from model text.
// Garbage and low-entropy replies are treated as CONTINUE with valid=false.
func parseObservation(text string) (observation, bool) {
	text = strings.TrimSpace(text)

	// Models often wrap JSON in code fences or preamble; find the braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return observation{Action: "CONTINUE"}, false
	}

	var obs observation
	if err := json.Unmarshal([]byte(text[start:end+1]), &obs); err != nil {
		return observation{Action: "CONTINUE"}, false
	}
	obs.Action = strings.ToUpper(strings.TrimSpace(obs.Action))
	if obs.Action != "CONTINUE" && obs.Action != "INTERRUPT" {
		return observation{Action: "CONTINUE"}, false
	}
	return obs, true
}
