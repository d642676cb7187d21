// Package probe implements the semantic probe: a pre-cognition vector
// lookup that annotates a packet with relevant domain context before
// intent detection runs.
package probe

import (
	"regexp"
	"strings"
)

// Phrase extraction is pure string work: no model calls. The rules, in
// extraction order:
//
//  1. quoted strings
//  2. multi-word capitalized sequences (with possessives and connective
//     words like "of" and "the")
//  3. single non-sentence-initial capitalized words outside the common
//     word filter
//  4. domain notation (dice expressions, armor-class style tokens)
//  5. rare lowercase words of at least four characters outside the
//     common word filter
//
// Single-word phrases that are substrings of already-extracted multi-word
// phrases are dropped, and the result is capped at maxPhrases.

var (
	quotedRe = regexp.MustCompile(`"([^"]{2,80})"|'([^']{2,80})'`)

	// Capitalized runs: "Jade Phoenix Order", "Order of the Crimson Veil",
	// "Drizzt's Journal".
	capSequenceRe = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:'s)?(?:\s+(?:of|the|and|de|von|van|del)\s+|\s+)[A-Z][a-zA-Z]+(?:'s)?(?:(?:\s+(?:of|the|and|de|von|van|del)\s+|\s+)[A-Z][a-zA-Z]+(?:'s)?)*`)

	capWordRe = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)

	// Domain notation: "AC 15", "DC 20", "2d6+3", "1d20".
	notationRe = regexp.MustCompile(`\b(?:AC|DC|HP|CR)\s?\d+\b|\b\d+d\d+(?:[+-]\d+)?\b`)

	wordRe = regexp.MustCompile(`[A-Za-z']+`)
)

// commonWords filters everyday vocabulary out of rules 3 and 5. Plurals
// are checked by stripping a trailing "s".
var commonWords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "what": true, "when": true, "where": true,
	"which": true, "about": true, "would": true, "could": true, "should": true,
	"there": true, "their": true, "them": true, "then": true, "than": true,
	"will": true, "been": true, "were": true, "your": true, "yours": true,
	"just": true, "like": true, "know": true, "think": true, "tell": true,
	"make": true, "made": true, "take": true, "look": true, "want": true,
	"need": true, "check": true, "give": true, "find": true, "help": true,
	"please": true, "thanks": true, "thank": true, "hello": true, "okay": true,
	"some": true, "more": true, "most": true, "much": true, "many": true,
	"very": true, "also": true, "into": true, "over": true, "under": true,
	"again": true, "here": true, "back": true, "down": true, "only": true,
	"does": true, "doing": true, "done": true, "being": true, "because": true,
	"thing": true, "things": true, "time": true, "times": true, "good": true,
	"great": true, "really": true, "other": true, "another": true,
	"log": true, "file": true, "note": true, "word": true, "name": true,
	"question": true, "answer": true, "talk": true, "chat": true, "say": true,
	"said": true, "come": true, "came": true, "going": true, "gone": true,
	"right": true, "well": true, "still": true, "even": true, "ever": true,
	"every": true, "each": true, "both": true, "between": true, "before": true,
	"after": true, "while": true, "during": true, "around": true, "through": true,
	"today": true, "yesterday": true, "tomorrow": true, "currently": true,
	"show": true, "read": true, "write": true, "list": true, "open": true,
	"close": true, "start": true, "stop": true, "keep": true, "let": true,
	"lets": true, "sure": true, "maybe": true, "anything": true, "something": true,
	"everything": true, "nothing": true, "anyone": true, "someone": true,
	"everyone": true, "work": true, "working": true, "worked": true,
	"last": true, "next": true, "first": true, "second": true, "new": true,
	"old": true, "big": true, "small": true, "long": true, "short": true,
	"high": true, "low": true, "same": true, "different": true,
}

func isCommon(word string) bool {
	w := strings.ToLower(word)
	if commonWords[w] {
		return true
	}
	// Plural of a common word is common too.
	if strings.HasSuffix(w, "s") && commonWords[strings.TrimSuffix(w, "s")] {
		return true
	}
	return false
}

// ExtractPhrases pulls candidate lookup phrases from user input, capped
// at maxPhrases.
func ExtractPhrases(input string, maxPhrases int) []string {
	if maxPhrases <= 0 {
		maxPhrases = DefaultMaxPhrases
	}

	var phrases []string
	seen := make(map[string]bool)
	add := func(phrase string) {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" || seen[strings.ToLower(phrase)] {
			return
		}
		seen[strings.ToLower(phrase)] = true
		phrases = append(phrases, phrase)
	}

	// Rule 1: quoted strings.
	for _, m := range quotedRe.FindAllStringSubmatch(input, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}

	// Rule 2: multi-word capitalized sequences.
	for _, m := range capSequenceRe.FindAllString(input, -1) {
		add(m)
	}

	// Rule 3: single capitalized words, skipping sentence-initial ones.
	sentenceStarts := sentenceStartOffsets(input)
	for _, loc := range capWordRe.FindAllStringIndex(input, -1) {
		word := input[loc[0]:loc[1]]
		if sentenceStarts[loc[0]] || isCommon(word) {
			continue
		}
		add(word)
	}

	// Rule 4: domain notation.
	for _, m := range notationRe.FindAllString(input, -1) {
		add(m)
	}

	// Rule 5: rare lowercase words.
	for _, word := range wordRe.FindAllString(input, -1) {
		if len(word) < 4 || word[0] >= 'A' && word[0] <= 'Z' {
			continue
		}
		if isCommon(word) {
			continue
		}
		add(word)
	}

	phrases = dropSubsumedSingles(phrases)
	if len(phrases) > maxPhrases {
		phrases = phrases[:maxPhrases]
	}
	return phrases
}

// sentenceStartOffsets marks byte offsets where a sentence begins: the
// first word of the input and any word following terminal punctuation.
func sentenceStartOffsets(input string) map[int]bool {
	starts := make(map[int]bool)
	expectStart := true
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '.' || c == '!' || c == '?':
			expectStart = true
		case c == ' ' || c == '\t' || c == '\n':
			// whitespace keeps the pending state
		default:
			if expectStart {
				starts[i] = true
				expectStart = false
			}
		}
	}
	return starts
}

// dropSubsumedSingles removes single-word phrases that appear inside an
// extracted multi-word phrase.
func dropSubsumedSingles(phrases []string) []string {
	var multi []string
	for _, p := range phrases {
		if strings.Contains(p, " ") {
			multi = append(multi, strings.ToLower(p))
		}
	}
	if len(multi) == 0 {
		return phrases
	}

	out := phrases[:0]
	for _, p := range phrases {
		if !strings.Contains(p, " ") {
			lower := strings.ToLower(p)
			subsumed := false
			for _, m := range multi {
				if strings.Contains(m, lower) {
					subsumed = true
					break
				}
			}
			if subsumed {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
