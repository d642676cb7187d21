package study

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrainer struct {
	result  TrainResult
	err     error
	block   chan struct{}
	samples []TrainingSample
}

func (f *fakeTrainer) Train(ctx context.Context, _ TrainingConfig, samples []TrainingSample, progress func(float64)) (TrainResult, error) {
	f.samples = samples
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return TrainResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return TrainResult{}, f.err
	}
	progress(0.5)
	progress(1.0)
	return f.result, nil
}

func writeSourceDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleDoc = `The Jade Phoenix Order guards the eastern mountain passes.
Their fortress has stood for three hundred years.

Members are identified by a jade pendant carved with a phoenix.
Initiates train for seven years before receiving one.`

func newMode(t *testing.T, trainer Trainer) (*StudyMode, *AdapterStore) {
	t.Helper()
	store, err := NewAdapterStore(t.TempDir())
	require.NoError(t, err)
	return NewStudyMode(trainer, store, Governance{}), store
}

func waitForState(t *testing.T, mode *StudyMode, state string) TrainingStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		return mode.Status().State == state
	}, 2*time.Second, 5*time.Millisecond)
	return mode.Status()
}

func TestTrainingLifecycleCompletes(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	trainer := &fakeTrainer{result: TrainResult{AdapterPath: "/adapters/order", Steps: 80, FinalLoss: 0.42}}
	mode, store := newMode(t, trainer)

	require.NoError(t, mode.Start(TrainingConfig{
		AdapterName: "jade-order",
		Tier:        TierUser,
		Pillar:      "lore",
		SourceDocs:  []string{doc},
	}))

	status := waitForState(t, mode, TrainComplete)
	assert.Equal(t, 1.0, status.Progress)
	assert.Empty(t, status.Error)

	meta, err := store.Get("jade-order")
	require.NoError(t, err)
	assert.Equal(t, TierUser, meta.Tier)
	assert.Equal(t, "lore", meta.Pillar)
	assert.Equal(t, 0.42, meta.FinalLoss)
	require.Len(t, meta.SourceDocHashes, 1)
	assert.Len(t, meta.SourceDocHashes[0], 64)
}

func TestTrainingDerivesThreeVariantsPerParagraph(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	trainer := &fakeTrainer{}
	mode, _ := newMode(t, trainer)
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "a", SourceDocs: []string{doc}}))
	waitForState(t, mode, TrainComplete)

	// Two paragraphs, three instruction variants each.
	require.Len(t, trainer.samples, 6)
	var recall, completion, retrieval int
	for _, s := range trainer.samples {
		switch {
		case strings.HasPrefix(s.Instruction, "Recall"):
			recall++
		case strings.HasPrefix(s.Instruction, "Complete"):
			completion++
		case strings.HasPrefix(s.Instruction, "Answer"):
			retrieval++
		}
	}
	assert.Equal(t, 2, recall)
	assert.Equal(t, 2, completion)
	assert.Equal(t, 2, retrieval)
}

func TestTrainingCapsSamples(t *testing.T) {
	dir := t.TempDir()
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat("This paragraph has enough content to train on. ", 3))
	}
	doc := writeSourceDoc(t, dir, "big.md", strings.Join(paragraphs, "\n\n"))

	trainer := &fakeTrainer{}
	mode, _ := newMode(t, trainer)
	require.NoError(t, mode.Start(TrainingConfig{
		AdapterName:        "capped",
		SourceDocs:         []string{doc},
		MaxTrainingSamples: 7,
	}))
	waitForState(t, mode, TrainComplete)
	assert.Len(t, trainer.samples, 7)
}

func TestTrainingRejectsForbiddenPatterns(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "leak.md",
		"Some context paragraph that is long enough to index.\n\napi_key = sk-abc123def456\n")

	mode, _ := newMode(t, &fakeTrainer{})
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "leak", SourceDocs: []string{doc}}))

	status := waitForState(t, mode, TrainFailed)
	assert.Contains(t, status.Error, "forbidden pattern")
}

func TestTrainingRejectsOversizedDocs(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "huge.md", strings.Repeat("x", maxSourceDocBytes+1))

	mode, _ := newMode(t, &fakeTrainer{})
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "huge", SourceDocs: []string{doc}}))

	status := waitForState(t, mode, TrainFailed)
	assert.Contains(t, status.Error, "size limit")
}

func TestTrainingEnforcesTierLimits(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	store, err := NewAdapterStore(t.TempDir())
	require.NoError(t, err)
	mode := NewStudyMode(&fakeTrainer{}, store, Governance{MaxGlobal: 1, MaxUser: 1, MaxSession: 1})

	require.NoError(t, store.Save(Adapter{Name: "existing", Tier: TierGlobal, CreatedAt: time.Now()}))
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "second", Tier: TierGlobal, SourceDocs: []string{doc}}))

	status := waitForState(t, mode, TrainFailed)
	assert.Contains(t, status.Error, "adapter limit reached")
}

func TestTrainingRejectsConcurrentStart(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	trainer := &fakeTrainer{block: make(chan struct{})}
	mode, _ := newMode(t, trainer)
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "first", SourceDocs: []string{doc}}))
	waitForState(t, mode, TrainTraining)

	err := mode.Start(TrainingConfig{AdapterName: "second", SourceDocs: []string{doc}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(trainer.block)
	waitForState(t, mode, TrainComplete)
}

func TestCancelAbortsTraining(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	trainer := &fakeTrainer{block: make(chan struct{})}
	mode, store := newMode(t, trainer)
	require.NoError(t, mode.Start(TrainingConfig{AdapterName: "cancelled", SourceDocs: []string{doc}}))
	waitForState(t, mode, TrainTraining)

	mode.Cancel()
	status := mode.Status()
	assert.Equal(t, TrainFailed, status.State)
	assert.NotEmpty(t, status.Error)

	_, err := store.Get("cancelled")
	require.Error(t, err)
}

func TestAdapterStoreCRUD(t *testing.T) {
	store, err := NewAdapterStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(Adapter{Name: "alpha", Tier: TierUser, CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, store.Save(Adapter{Name: "beta", Tier: TierSession, CreatedAt: time.Now()}))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "beta", list[0].Name)

	require.NoError(t, store.SetLoaded("alpha", true))
	a, err := store.Get("alpha")
	require.NoError(t, err)
	assert.True(t, a.Loaded)

	require.NoError(t, store.Delete("alpha"))
	_, err = store.Get("alpha")
	require.Error(t, err)

	require.Error(t, store.Save(Adapter{Name: "../escape"}))
}

func newTestServer(t *testing.T, trainer Trainer) (*httptest.Server, *StudyMode) {
	t.Helper()
	mode, _ := newMode(t, trainer)
	indexer := NewIndexer(t.TempDir(), nil, map[string]string{})
	srv := NewServer(indexer, mode)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, mode
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServerStudyStartAndStatus(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	ts, mode := newTestServer(t, &fakeTrainer{})
	resp := postJSON(t, ts.URL+"/study/start",
		`{"adapter_name":"ws","source_docs":["`+doc+`"]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, mode, TrainComplete)

	status, err := http.Get(ts.URL + "/study/status")
	require.NoError(t, err)
	defer status.Body.Close()
	assert.Equal(t, http.StatusOK, status.StatusCode)
}

func TestServerGPUReleaseCancelsTraining(t *testing.T) {
	dir := t.TempDir()
	doc := writeSourceDoc(t, dir, "order.md", sampleDoc)

	trainer := &fakeTrainer{block: make(chan struct{})}
	ts, mode := newTestServer(t, trainer)
	resp := postJSON(t, ts.URL+"/study/start",
		`{"adapter_name":"gpu","source_docs":["`+doc+`"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, mode, TrainTraining)

	release := postJSON(t, ts.URL+"/study/gpu-release", `{}`)
	assert.Equal(t, http.StatusOK, release.StatusCode)
	assert.Equal(t, TrainFailed, mode.Status().State)
	assert.False(t, mode.Busy())
}

func TestServerGPUReadyAcknowledges(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTrainer{})
	resp := postJSON(t, ts.URL+"/study/gpu-ready", `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerIndexBuildUnknownKB(t *testing.T) {
	ts, _ := newTestServer(t, &fakeTrainer{})
	resp := postJSON(t, ts.URL+"/index/build", `{"knowledge_base_name":"nope"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
