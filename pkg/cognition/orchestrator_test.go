package cognition

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/intent"
	"github.com/gaia-runtime/gaia/pkg/llms"
	"github.com/gaia-runtime/gaia/pkg/packet"
	"github.com/gaia-runtime/gaia/pkg/probe"
	"github.com/gaia-runtime/gaia/pkg/prompt"
	"github.com/gaia-runtime/gaia/pkg/session"
	"github.com/gaia-runtime/gaia/pkg/vector"
)

// streamingProvider yields a fixed token sequence.
type streamingProvider struct {
	tokens []string
}

func (p *streamingProvider) Name() string { return "fake" }

func (p *streamingProvider) Generate(_ context.Context, _ []llms.Message, _ llms.Options) (*llms.GenerateResult, error) {
	return &llms.GenerateResult{Text: strings.Join(p.tokens, "")}, nil
}

func (p *streamingProvider) GenerateStreaming(_ context.Context, _ []llms.Message, _ llms.Options) (<-chan llms.StreamChunk, error) {
	out := make(chan llms.StreamChunk)
	go func() {
		defer close(out)
		for _, token := range p.tokens {
			out <- llms.StreamChunk{Type: "text", Text: token}
		}
		out <- llms.StreamChunk{Type: "done", Tokens: len(p.tokens)}
	}()
	return out, nil
}

type fakePrompts struct{}

func (fakePrompts) Build(_ context.Context, in prompt.BuildInput) ([]llms.Message, error) {
	return []llms.Message{
		{Role: "system", Content: "test"},
		{Role: "user", Content: in.Packet.Content.OriginalPrompt},
	}, nil
}

func (fakePrompts) CountMessages(messages []llms.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	return total
}

type fakeProber struct{ result *probe.Result }

func (f *fakeProber) Probe(_ context.Context, _, _ string) *probe.Result { return f.result }

type fakeClassifier struct{ plan intent.Plan }

func (f *fakeClassifier) Classify(_ context.Context, _ string) intent.Plan { return f.plan }

type fakeReader struct{ results []vector.SearchResult }

func (f *fakeReader) Query(_ context.Context, _ string, _ int) ([]vector.SearchResult, error) {
	return f.results, nil
}

type fakeFactory struct{ reader *fakeReader }

func (f *fakeFactory) Reader(_ string) Retriever { return f.reader }

type memoryHistory struct{ messages []session.Message }

func (m *memoryHistory) AppendMessage(_ context.Context, msg session.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memoryHistory) History(_ context.Context, sessionID string, _ int) ([]session.Message, error) {
	var out []session.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func newRegistry(tokens ...string) *llms.Registry {
	registry := llms.NewRegistry()
	registry.Register(llms.RolePrime, &streamingProvider{tokens: tokens})
	return registry
}

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var collected []StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, event)
		case <-deadline:
			t.Fatal("stream did not complete in time")
		}
	}
}

func TestTurnStreamsAndFinalizes(t *testing.T) {
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry("The eastern ", "pass is ", "guarded."),
		Prompts: fakePrompts{},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{
		SessionID: "s1", Input: "who guards the eastern pass?",
	})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	require.NotEmpty(t, collected)
	last := collected[len(collected)-1]
	require.Equal(t, EventCompleted, last.Type)
	pkt := last.Packet
	assert.Equal(t, "The eastern pass is guarded.", pkt.Response.Candidate)
	assert.Equal(t, packet.StateFinalized, pkt.Status.State)
	assert.True(t, pkt.Status.Finalized)

	tokens := 0
	for _, event := range collected {
		if event.Type == EventToken {
			tokens++
		}
	}
	assert.Equal(t, 3, tokens)
}

func TestTurnRecordsTokenUsage(t *testing.T) {
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry("The eastern ", "pass is ", "guarded."),
		Prompts: fakePrompts{},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{
		SessionID: "s1", Input: "who guards the eastern pass?",
	})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	require.NotEmpty(t, collected)
	pkt := collected[len(collected)-1].Packet
	usage := pkt.Metrics.TokenUsage
	assert.Greater(t, usage.Prompt, 0)
	assert.Equal(t, 3, usage.Completion)
	assert.Equal(t, usage.Prompt+usage.Completion, usage.Total)
}

func TestTurnAttachesProbeAndIntent(t *testing.T) {
	prober := &fakeProber{result: &probe.Result{
		Hits:              []probe.Hit{{Phrase: "Jade Phoenix Order", Collection: "campaign", Score: 0.8}},
		PrimaryCollection: "campaign",
		PhrasesTested:     []string{"Jade Phoenix Order"},
	}}
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry("answer."),
		Prompts: fakePrompts{},
		Prober:  prober,
		Intents: &fakeClassifier{plan: intent.Plan{Intent: intent.IntentChat}},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "tell me about the order"})
	require.NoError(t, err)
	collected := collectEvents(t, events)
	pkt := collected[len(collected)-1].Packet

	assert.Equal(t, intent.IntentChat, pkt.Intent.UserIntent)
	require.NotNil(t, pkt.Metrics.SemanticProbe)
	assert.Equal(t, 1, pkt.Metrics.SemanticProbe.TotalHits)

	var attached probe.Result
	ok, err := pkt.Content.FieldInto(packet.KeySemanticProbeResult, &attached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "campaign", attached.PrimaryCollection)
}

func TestTurnAttachesRetrievalOrNoResultsFlag(t *testing.T) {
	reader := &fakeReader{results: []vector.SearchResult{
		{Filename: "factions.md", Text: "The order guards the pass.", Score: 0.9},
	}}
	o, err := New(Config{KnowledgeBase: "campaign"}, Collaborators{
		Models:  newRegistry("answer."),
		Prompts: fakePrompts{},
		Readers: &fakeFactory{reader: reader},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "who guards the pass?"})
	require.NoError(t, err)
	collected := collectEvents(t, events)
	pkt := collected[len(collected)-1].Packet

	docs := pkt.Content.RetrievedDocuments()
	require.Len(t, docs, 1)
	assert.Equal(t, "factions.md", docs[0].Filename)
	assert.False(t, pkt.Content.BoolField(packet.KeyRAGNoResults))

	// Empty retrieval sets the flag instead.
	reader.results = nil
	events, err = o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "who guards the pass?"})
	require.NoError(t, err)
	collected = collectEvents(t, events)
	pkt = collected[len(collected)-1].Packet
	assert.True(t, pkt.Content.BoolField(packet.KeyRAGNoResults))
	assert.Empty(t, pkt.Content.RetrievedDocuments())
}

func TestSentenceRepetitionAborts(t *testing.T) {
	sentence := "I am going in circles here. "
	tokens := []string{sentence, sentence, sentence, sentence}
	o, err := New(Config{MaxSentenceRepeat: 2}, Collaborators{
		Models:  newRegistry(tokens...),
		Prompts: fakePrompts{},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "say something"})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	var interruption *StreamEvent
	for i := range collected {
		if collected[i].Type == EventInterruption {
			interruption = &collected[i]
		}
	}
	require.NotNil(t, interruption, "repetition must interrupt the stream")
	assert.Contains(t, interruption.Interruption.Reason, "repetition")

	pkt := collected[len(collected)-1].Packet
	assert.Equal(t, packet.StateAborted, pkt.Status.State)
	assert.NotEmpty(t, pkt.Response.Candidate, "partial candidate is preserved")
	assert.NotEmpty(t, pkt.Status.NextSteps)
	assert.NotEmpty(t, pkt.Status.ObserverTrace)
}

func TestLoopDetectorAborts(t *testing.T) {
	tokens := []string{"<think>"}
	for i := 0; i < 400; i++ {
		tokens = append(tokens, "reasoning and more ")
	}
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry(tokens...),
		Prompts: fakePrompts{},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "hello there friend"})
	require.NoError(t, err)
	collected := collectEvents(t, events)

	pkt := collected[len(collected)-1].Packet
	require.Equal(t, packet.StateAborted, pkt.Status.State)

	found := false
	for _, event := range collected {
		if event.Type == EventInterruption && event.Interruption.Reason == "Think-tag circuit breaker" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTurnPersistsHistory(t *testing.T) {
	history := &memoryHistory{}
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry("hello back."),
		Prompts: fakePrompts{},
		History: history,
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "hello there"})
	require.NoError(t, err)
	collectEvents(t, events)

	require.Len(t, history.messages, 2)
	assert.Equal(t, "user", history.messages[0].Role)
	assert.Equal(t, "assistant", history.messages[1].Role)
	assert.Equal(t, "hello back.", history.messages[1].Content)
}

func TestHeartbeatOriginFlowsThroughPipeline(t *testing.T) {
	o, err := New(Config{}, Collaborators{
		Models:  newRegistry("internal thought."),
		Prompts: fakePrompts{},
	})
	require.NoError(t, err)

	events, err := o.RunTurn(context.Background(), TurnInput{
		SessionID:   "heartbeat",
		Input:       "review the pending seeds again",
		Origin:      packet.OriginHeartbeat,
		Destination: packet.DestLog,
	})
	require.NoError(t, err)
	collected := collectEvents(t, events)
	pkt := collected[len(collected)-1].Packet

	assert.Equal(t, packet.OriginHeartbeat, pkt.Header.Origin)
	assert.Equal(t, packet.DestLog, pkt.Header.OutputRouting.Primary)
	assert.Equal(t, packet.StateFinalized, pkt.Status.State)
}

func TestEmptyInputRejected(t *testing.T) {
	o, err := New(Config{}, Collaborators{Models: newRegistry("x"), Prompts: fakePrompts{}})
	require.NoError(t, err)
	_, err = o.RunTurn(context.Background(), TurnInput{SessionID: "s1", Input: "   "})
	assert.Error(t, err)
}

func TestRepetitionGuard(t *testing.T) {
	guard := newRepetitionGuard(2)
	assert.False(t, guard.feed("The pass is guarded. "))
	assert.False(t, guard.feed("The pass is guarded. "))
	assert.True(t, guard.feed("The pass is guarded. "))
}

func TestRepetitionGuardIgnoresShortSentences(t *testing.T) {
	guard := newRepetitionGuard(2)
	for i := 0; i < 10; i++ {
		assert.False(t, guard.feed("Yes. "))
	}
}
