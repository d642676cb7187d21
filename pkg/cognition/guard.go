package cognition

import "strings"

// repetitionGuard aborts a stream when the same finalized sentence shows
// up more than maxRepeat times.
type repetitionGuard struct {
	maxRepeat int
	partial   strings.Builder
	counts    map[string]int
}

func newRepetitionGuard(maxRepeat int) *repetitionGuard {
	if maxRepeat <= 0 {
		maxRepeat = 2
	}
	return &repetitionGuard{maxRepeat: maxRepeat, counts: make(map[string]int)}
}

// feed consumes one token and reports whether the repeat limit was hit.
func (g *repetitionGuard) feed(token string) bool {
	for _, r := range token {
		g.partial.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentence := normalizeSentence(g.partial.String())
			g.partial.Reset()
			if sentence == "" {
				continue
			}
			g.counts[sentence]++
			if g.counts[sentence] > g.maxRepeat {
				return true
			}
		}
	}
	return false
}

func normalizeSentence(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!? ")
	if len(strings.Fields(s)) < 3 {
		// Short interjections repeat legitimately.
		return ""
	}
	return s
}
