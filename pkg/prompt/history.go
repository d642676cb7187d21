package prompt

import (
	"strings"

	"github.com/gaia-runtime/gaia/pkg/llms"
)

// roleAliases maps the labels found in stored history to the four roles
// the inference APIs accept.
var roleAliases = map[string]string{
	"system": "system", "user": "user", "assistant": "assistant", "tool": "tool",
	"human": "user", "member": "user", "speaker": "user",
	"ai": "assistant", "bot": "assistant", "gaia": "assistant", "model": "assistant",
	"function": "tool", "observation": "tool",
}

// NormalizeHistory maps roles to the canonical set, collapses consecutive
// same-role user and tool messages, and guarantees the first non-system
// message is a user message.
func NormalizeHistory(history []llms.Message) []llms.Message {
	if len(history) == 0 {
		return nil
	}

	normalized := make([]llms.Message, 0, len(history))
	for _, msg := range history {
		role, ok := roleAliases[strings.ToLower(msg.Role)]
		if !ok {
			role = "user"
		}
		if len(normalized) > 0 {
			last := &normalized[len(normalized)-1]
			if last.Role == role && (role == "user" || role == "tool") {
				last.Content += "\n" + msg.Content
				continue
			}
		}
		normalized = append(normalized, llms.Message{Role: role, Content: msg.Content})
	}

	for i, msg := range normalized {
		if msg.Role == "system" {
			continue
		}
		if msg.Role != "user" {
			padded := make([]llms.Message, 0, len(normalized)+1)
			padded = append(padded, normalized[:i]...)
			padded = append(padded, llms.Message{Role: "user", Content: ""})
			padded = append(padded, normalized[i:]...)
			normalized = padded
		}
		break
	}
	return normalized
}
