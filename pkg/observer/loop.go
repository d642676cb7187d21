package observer

import "strings"

// LoopObserver watches the raw token stream for runaway think-tag
// reasoning. It is fed every token and trips once thresholds are crossed.
type LoopObserver struct {
	maxThinkChars int
	maxThinkRatio float64

	total      int
	thinkChars int
	inThink    bool
	carry      string
}

// NewLoopObserver builds a loop observer with the given limits. Zero
// values select the defaults (4000 chars, 0.60 ratio).
func NewLoopObserver(maxThinkChars int, maxThinkRatio float64) *LoopObserver {
	if maxThinkChars <= 0 {
		maxThinkChars = 4000
	}
	if maxThinkRatio <= 0 {
		maxThinkRatio = 0.60
	}
	return &LoopObserver{maxThinkChars: maxThinkChars, maxThinkRatio: maxThinkRatio}
}

// Feed consumes one token and returns a BLOCK interrupt when the
// think-tag circuit breaker trips.
func (l *LoopObserver) Feed(token string) *Interrupt {
	// Tags can arrive split across tokens; keep a small carry buffer.
	text := l.carry + token
	l.carry = ""
	if n := len(text); n > 0 {
		// Hold back a possible partial tag at the end.
		for back := 1; back < 8 && back <= n; back++ {
			tail := text[n-back:]
			if strings.HasPrefix("<think>", tail) || strings.HasPrefix("</think>", tail) {
				l.carry = tail
				text = text[:n-back]
				break
			}
		}
	}

	for text != "" {
		if l.inThink {
			if idx := strings.Index(text, "</think>"); idx >= 0 {
				l.thinkChars += idx
				l.total += idx
				l.inThink = false
				text = text[idx+len("</think>"):]
				continue
			}
			l.thinkChars += len(text)
			l.total += len(text)
			text = ""
			continue
		}
		if idx := strings.Index(text, "<think>"); idx >= 0 {
			l.total += idx
			l.inThink = true
			text = text[idx+len("<think>"):]
			continue
		}
		l.total += len(text)
		text = ""
	}

	if l.thinkChars > l.maxThinkChars {
		return &Interrupt{Level: LevelBlock, Reason: "Think-tag circuit breaker"}
	}
	if l.total > 200 && float64(l.thinkChars)/float64(l.total) > l.maxThinkRatio {
		return &Interrupt{Level: LevelBlock, Reason: "Think-tag circuit breaker"}
	}
	return nil
}
