package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/probe"
)

type fakeSummaries struct{ summary string }

func (f *fakeSummaries) LoadSummary(_ context.Context, _ string) (string, error) {
	return f.summary, nil
}

func testPacket(t *testing.T) *packet.CognitionPacket {
	t.Helper()
	pkt := packet.New(packet.Options{
		SessionID: "s1",
		Origin:    packet.OriginUser,
		Prompt:    "Tell me about the eastern pass.",
	})
	pkt.Context.Constraints.MaxTokens = 8192
	return pkt
}

func newTestBuilder(t *testing.T, summaries SummaryStore) *Builder {
	t.Helper()
	b, err := New(Config{Model: "gpt-4", ResponseBuffer: 256}, summaries)
	require.NoError(t, err)
	return b
}

func TestBuildAlwaysIncludesEpistemicDirective(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)

	for _, taskKey := range []string{"", "reflect", "initial_planning"} {
		messages, err := b.Build(context.Background(), BuildInput{Packet: pkt, TaskKey: taskKey})
		require.NoError(t, err)
		require.NotEmpty(t, messages)
		assert.Contains(t, messages[0].Content, "Epistemic honesty",
			"task key %q must still carry the directive", taskKey)
	}
}

func TestBuildEndsWithUserPrompt(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)

	messages, err := b.Build(context.Background(), BuildInput{Packet: pkt})
	require.NoError(t, err)
	last := messages[len(messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, pkt.Content.OriginalPrompt, last.Content)
}

func TestCompactModeOmitsIdentity(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)
	require.NoError(t, pkt.Content.SetField(packet.KeyIdentityExcerpt, "string", "IDENTITY-EXCERPT-MARKER"))

	full, err := b.Build(context.Background(), BuildInput{Packet: pkt})
	require.NoError(t, err)
	assert.Contains(t, full[0].Content, "IDENTITY-EXCERPT-MARKER")

	compact, err := b.Build(context.Background(), BuildInput{Packet: pkt, TaskKey: "self_review"})
	require.NoError(t, err)
	assert.NotContains(t, compact[0].Content, "IDENTITY-EXCERPT-MARKER")
}

func TestRAGNoResultsDirective(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)
	require.NoError(t, pkt.Content.SetField(packet.KeyRAGNoResults, "bool", true))

	messages, err := b.Build(context.Background(), BuildInput{Packet: pkt})
	require.NoError(t, err)
	assert.Contains(t, messages[0].Content, "no results")
	assert.Contains(t, messages[0].Content, "do not fabricate")
}

func TestProbeTierPrimaryFirst(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)
	result := probe.Result{
		Hits: []probe.Hit{
			{Phrase: "Jade Phoenix Order", Collection: "campaign", Score: 0.8},
			{Phrase: "AC 15", Collection: "rules", Score: 0.5},
		},
		PrimaryCollection:       "campaign",
		SupplementalCollections: []string{"rules"},
	}
	require.NoError(t, pkt.Content.SetField(packet.KeySemanticProbeResult, "object", result))

	messages, err := b.Build(context.Background(), BuildInput{Packet: pkt})
	require.NoError(t, err)
	system := messages[0].Content
	campaignIdx := strings.Index(system, "campaign: Jade Phoenix Order")
	rulesIdx := strings.Index(system, "rules: AC 15")
	require.GreaterOrEqual(t, campaignIdx, 0)
	require.GreaterOrEqual(t, rulesIdx, 0)
	assert.Less(t, campaignIdx, rulesIdx, "primary collection renders before supplementals")
}

func TestSummaryIncludedWhenItFits(t *testing.T) {
	b := newTestBuilder(t, &fakeSummaries{summary: "The party reached the eastern pass."})
	pkt := testPacket(t)

	messages, err := b.Build(context.Background(), BuildInput{Packet: pkt})
	require.NoError(t, err)

	found := false
	for _, msg := range messages {
		if strings.Contains(msg.Content, "The party reached the eastern pass.") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHistoryTrimmedToBudget(t *testing.T) {
	b := newTestBuilder(t, nil)
	pkt := testPacket(t)
	pkt.Context.Constraints.MaxTokens = 700

	long := strings.Repeat("some conversation filler text ", 40)
	history := []llms.Message{
		{Role: "user", Content: "OLDEST " + long},
		{Role: "assistant", Content: "middle " + long},
		{Role: "user", Content: "newest message"},
	}
	messages, err := b.Build(context.Background(), BuildInput{Packet: pkt, History: history})
	require.NoError(t, err)

	var kept []string
	for _, msg := range messages {
		kept = append(kept, msg.Content)
	}
	joined := strings.Join(kept, "\n")
	assert.Contains(t, joined, "newest message", "most recent history survives trimming")
	assert.NotContains(t, joined, "OLDEST", "oldest history is dropped first")
}

func TestNormalizeHistory(t *testing.T) {
	history := []llms.Message{
		{Role: "assistant", Content: "opening"},
		{Role: "human", Content: "first"},
		{Role: "member", Content: "second"},
		{Role: "bot", Content: "reply"},
		{Role: "observation", Content: "tool out a"},
		{Role: "tool", Content: "tool out b"},
	}
	normalized := NormalizeHistory(history)

	require.Len(t, normalized, 5)
	assert.Equal(t, "user", normalized[0].Role, "inserted user message leads")
	assert.Equal(t, "", normalized[0].Content)
	assert.Equal(t, "assistant", normalized[1].Role)
	assert.Equal(t, llms.Message{Role: "user", Content: "first\nsecond"}, normalized[2])
	assert.Equal(t, "assistant", normalized[3].Role)
	assert.Equal(t, llms.Message{Role: "tool", Content: "tool out a\ntool out b"}, normalized[4])
}

func TestTaskInstructionTable(t *testing.T) {
	assert.NotEmpty(t, TaskInstruction("thought_triage"))
	assert.Contains(t, TaskInstruction("thought_triage"), "ARCHIVE")
	assert.Empty(t, TaskInstruction("nonexistent_key"))
}
