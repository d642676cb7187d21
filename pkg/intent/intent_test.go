package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/llms"
)

type countingProvider struct {
	reply    string
	thinking bool
	calls    int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Generate(_ context.Context, _ []llms.Message, _ llms.Options) (*llms.GenerateResult, error) {
	p.calls++
	if p.reply == "" {
		return nil, errors.New("no reply configured")
	}
	return &llms.GenerateResult{Text: p.reply}, nil
}

func (p *countingProvider) GenerateStreaming(_ context.Context, _ []llms.Message, _ llms.Options) (<-chan llms.StreamChunk, error) {
	return nil, errors.New("not streaming")
}

func (p *countingProvider) Thinking() bool { return p.thinking }

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return nil, errors.New("embedder down")
}
func (e *countingEmbedder) Dimension() int { return 0 }
func (e *countingEmbedder) Close() error   { return nil }

func TestReflexExitNoBackendCalls(t *testing.T) {
	provider := &countingProvider{reply: "chat"}
	embedder := &countingEmbedder{}
	c := New(DefaultConfig(), provider, embedder)

	plan := c.Classify(context.Background(), "exit")

	assert.Equal(t, IntentExit, plan.Intent)
	assert.Equal(t, 0, provider.calls, "reflex path must not call the LLM")
	assert.Equal(t, 0, embedder.calls, "reflex path must not call the embedder")
}

func TestReflexFileCommands(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)

	for _, input := range []string{"ls", "pwd", "cat notes.txt", "find config.yaml"} {
		plan := c.Classify(context.Background(), input)
		assert.Equal(t, IntentReadFile, plan.Intent, "input %q", input)
		assert.True(t, plan.ReadOnly)
	}
}

func TestSignalTier(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)

	cases := map[string]string{
		"Recite the opening of Beowulf word for word": IntentRecitation,
		"Write me the entire story of the lost city":  IntentLongForm,
		"Use the weather tool to check Berlin":        IntentToolRouting,
		"Please run the script in /opt/scripts":       IntentToolRouting,
	}
	for input, want := range cases {
		plan := c.Classify(context.Background(), input)
		assert.Equal(t, want, plan.Intent, "input %q", input)
	}
}

func TestModelTierSkippedForThinkingModel(t *testing.T) {
	provider := &countingProvider{reply: "chat", thinking: true}
	c := New(DefaultConfig(), provider, nil)

	plan := c.Classify(context.Background(), "tell me something nice about autumn weather")

	assert.Equal(t, 0, provider.calls, "thinking models must be skipped")
	assert.NotEmpty(t, plan.Intent)
}

func TestModelTierLabelAccepted(t *testing.T) {
	provider := &countingProvider{reply: " Brainstorm \n"}
	c := New(DefaultConfig(), provider, nil)

	plan := c.Classify(context.Background(), "some meandering message with no clear keywords at all")

	require.Equal(t, 1, provider.calls)
	assert.Equal(t, IntentBrainstorm, plan.Intent)
}

func TestModelTierGarbageFallsThrough(t *testing.T) {
	provider := &countingProvider{reply: "well, it could be several things"}
	c := New(DefaultConfig(), provider, nil)

	plan := c.Classify(context.Background(), "brainstorm ideas for the winter festival")

	assert.Equal(t, IntentBrainstorm, plan.Intent, "keyword tier must catch what the model garbled")
}

func TestKeywordPriorityOrder(t *testing.T) {
	// File ops outrank chat even when both match.
	label := classifyKeywords("hello, can you read the file for me")
	assert.Equal(t, IntentReadFile, label)

	assert.Equal(t, IntentCorrection, classifyKeywords("that's wrong, it was Tuesday"))
	assert.Equal(t, IntentOther, classifyKeywords("zzz unmatched input zzz"))
}

func TestPostFilterDowngradesSpuriousFileIntent(t *testing.T) {
	provider := &countingProvider{reply: "read_file"}
	c := New(DefaultConfig(), provider, nil)

	plan := c.Classify(context.Background(), "tell me more about the jade order please")

	assert.Equal(t, IntentOther, plan.Intent,
		"file intent without file keywords is downgraded")
	assert.False(t, plan.ReadOnly)
}

func TestPostFilterKeepsRealFileIntent(t *testing.T) {
	provider := &countingProvider{reply: "read_file"}
	c := New(DefaultConfig(), provider, nil)

	plan := c.Classify(context.Background(), "could you check the session log for errors")

	assert.Equal(t, IntentReadFile, plan.Intent)
	assert.True(t, plan.ReadOnly)
}
