package intent

import (
	"context"
	"sort"
	"sync"

	"github.com/gaia-runtime/gaia/pkg/vector"
)

// exemplarBank holds one group of exemplar phrases per canonical intent,
// encoded lazily on first use so a dead embedder never blocks startup.
type exemplarBank struct {
	mu       sync.Mutex
	encoded  bool
	phrases  map[string][]string
	vectors  map[string][][]float32
}

func newExemplarBank() *exemplarBank {
	return &exemplarBank{phrases: defaultExemplars()}
}

func defaultExemplars() map[string][]string {
	return map[string][]string{
		IntentReadFile: {
			"show me the contents of that file",
			"open the log and tell me what it says",
			"what is in the notes document",
		},
		IntentWriteFile: {
			"save this to a file for me",
			"write that down in my notes",
			"update the document with the new plan",
		},
		IntentExecute: {
			"run the backup script",
			"execute the cleanup command",
			"restart the service for me",
		},
		IntentTaskComplete: {
			"that's done, mark the task finished",
			"we completed the quest, close it out",
			"the job is finished now",
		},
		IntentListTools: {
			"what tools do you have",
			"list your available capabilities",
			"what can you do for me",
		},
		IntentCorrection: {
			"no, that's wrong, it was actually Tuesday",
			"you made a mistake earlier, let me correct it",
			"that isn't right, fix your last answer",
		},
		IntentClarification: {
			"what did you mean by that",
			"can you explain that last part again",
			"I don't understand, say it differently",
		},
		IntentBrainstorm: {
			"let's brainstorm some ideas for the campaign",
			"help me come up with options",
			"what are some possibilities we could try",
		},
		IntentFeedback: {
			"that answer was great, thanks",
			"I didn't like how that went",
			"good job on the summary",
		},
		IntentChat: {
			"how has your day been",
			"tell me something interesting",
			"what do you think about dragons",
		},
		IntentOther: {
			"miscellaneous request with no clear category",
			"something unrelated to the usual topics",
		},
	}
}

// encode embeds every exemplar once. Failure leaves the bank unencoded so
// a later call can retry.
func (b *exemplarBank) encode(ctx context.Context, embed func(context.Context, string) ([]float32, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoded {
		return nil
	}
	vectors := make(map[string][][]float32, len(b.phrases))
	for label, phrases := range b.phrases {
		for _, phrase := range phrases {
			vec, err := embed(ctx, phrase)
			if err != nil {
				return err
			}
			vectors[label] = append(vectors[label], vec)
		}
	}
	b.vectors = vectors
	b.encoded = true
	return nil
}

// classifyEmbedding scores each intent by the mean of its top-k exemplar
// similarities, penalises `other` so borderline cases favour a specific
// intent, and answers only above the threshold.
func (c *Classifier) classifyEmbedding(ctx context.Context, input string) (string, bool) {
	if c.embedder == nil {
		return "", false
	}
	if err := c.bank.encode(ctx, c.embedder.Embed); err != nil {
		c.logger.Debug("exemplar bank unavailable", "error", err)
		return "", false
	}
	inputVec, err := c.embedder.Embed(ctx, input)
	if err != nil {
		c.logger.Debug("embedding intent tier unavailable", "error", err)
		return "", false
	}

	best, bestScore := "", 0.0
	for label, exemplars := range c.bank.vectors {
		sims := make([]float64, 0, len(exemplars))
		for _, vec := range exemplars {
			sims = append(sims, vector.CosineSimilarity(inputVec, vec))
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
		k := c.cfg.EmbeddingTopK
		if k > len(sims) {
			k = len(sims)
		}
		sum := 0.0
		for _, s := range sims[:k] {
			sum += s
		}
		score := sum / float64(k)
		if label == IntentOther {
			score -= c.cfg.OtherPenalty
		}
		if score > bestScore {
			best, bestScore = label, score
		}
	}
	if bestScore >= c.cfg.EmbeddingThreshold {
		return best, true
	}
	return "", false
}
