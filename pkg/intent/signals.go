package intent

import (
	"regexp"
	"strings"
)

// reflexExact are bare commands resolved without any parsing.
var reflexExact = map[string]string{
	"exit": IntentExit, "quit": IntentExit, "bye": IntentExit,
	"help": IntentHelp, "?": IntentHelp,
	"ls": IntentReadFile, "pwd": IntentReadFile,
	"list tools": IntentListTools, "tools": IntentListTools,
}

// classifyReflex matches hard-coded commands exactly or by prefix.
func classifyReflex(input string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(input))
	if label, ok := reflexExact[lower]; ok {
		return label, true
	}
	for _, prefix := range []string{"cat ", "ls "} {
		if strings.HasPrefix(lower, prefix) {
			return IntentReadFile, true
		}
	}
	// find/locate count as reflex only with a filename marker in tow.
	for _, prefix := range []string{"find ", "locate "} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if strings.ContainsAny(rest, "./") || strings.Contains(rest, "file") {
				return IntentReadFile, true
			}
		}
	}
	return "", false
}

var (
	recitationRe = regexp.MustCompile(`(?i)\b(recite|read aloud|word for word|verbatim)\b|\bfull text of\b`)
	longFormRe   = regexp.MustCompile(`(?i)\b(entire|full|complete|whole)\b.{0,40}\b(story|poem|chapter|song|script|essay|novel|saga|ballad)\b`)
	mcpVerbRe    = regexp.MustCompile(`(?i)\b(use|call|invoke)\s+(the\s+)?[\w-]+\s+tool\b`)
	pathRe       = regexp.MustCompile(`(^|\s)(/|\./|\.\./|~/)[\w./-]+`)
	executionRe  = regexp.MustCompile(`(?i)\b(execute|run)\b.{0,30}\b(command|script|shell|binary)\b`)
)

// classifySignals applies the structured detectors. A firing detector's
// label is returned directly with no further tiers consulted.
func classifySignals(input string) (string, bool) {
	switch {
	case recitationRe.MatchString(input):
		return IntentRecitation, true
	case longFormRe.MatchString(input):
		return IntentLongForm, true
	case mcpVerbRe.MatchString(input):
		return IntentToolRouting, true
	case executionRe.MatchString(input):
		return IntentToolRouting, true
	case pathRe.MatchString(input):
		return IntentToolRouting, true
	}
	return "", false
}
