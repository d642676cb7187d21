package observer

import (
	"regexp"
	"strings"
)

var (
	thinkTagRe      = regexp.MustCompile(`(?i)</?think>`)
	reflectionTagRe = regexp.MustCompile(`(?i)</?reflection>`)
	headerTagRe     = regexp.MustCompile(`\[[A-Z_]{3,}\]`)
)

// reasoningStarters are internal-monologue openings that should never
// reach a finalized candidate.
var reasoningStarters = []string{
	"Okay, the user wants",
	"Let me think about",
	"First, I need to",
	"The user is asking",
}

// CheckResponseQuality scans a finalized candidate for leaked internal
// markup. It always runs after streaming completes.
func CheckResponseQuality(candidate string) *Interrupt {
	if thinkTagRe.MatchString(candidate) {
		return &Interrupt{Level: LevelCaution, Reason: "Leaked <think> tag in response"}
	}
	if reflectionTagRe.MatchString(candidate) {
		return &Interrupt{Level: LevelCaution, Reason: "Leaked <reflection> tag in response"}
	}
	if headerTagRe.MatchString(candidate) {
		return &Interrupt{Level: LevelCaution, Reason: "Leaked internal header tag in response"}
	}
	for _, starter := range reasoningStarters {
		if strings.HasPrefix(strings.TrimSpace(candidate), starter) {
			return &Interrupt{Level: LevelCaution, Reason: "Internal reasoning leaked into response opening"}
		}
	}
	return nil
}
