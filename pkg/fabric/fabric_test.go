package fabric

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Broadcast(category string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, category)
}

func (n *recordingNotifier) categories() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

type fakeGPU struct {
	mu       sync.Mutex
	readings []int
	calls    int
}

func (g *fakeGPU) UsedMB(context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.readings) == 0 {
		return 0, nil
	}
	used := g.readings[0]
	if len(g.readings) > 1 {
		g.readings = g.readings[1:]
	}
	return used, nil
}

func newCoordinator(t *testing.T, core, study *httptest.Server, gpu GPUStats, notifier Broadcaster) *HandoffCoordinator {
	t.Helper()
	cfg := HandoffConfig{
		CoreURL:      core.URL,
		StudyURL:     study.URL,
		PollInterval: time.Millisecond,
		ThresholdMB:  500,
	}
	client := httpclient.New(httpclient.WithMaxRetries(0))
	return NewHandoffCoordinator(cfg, client, gpu, notifier)
}

func TestHandoffSequenceAcquiresAfterCleanup(t *testing.T) {
	var coreReleases, studyReady int
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gpu/release", r.URL.Path)
		coreReleases++
		w.WriteHeader(http.StatusOK)
	}))
	defer core.Close()
	study := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/study/gpu-ready", r.URL.Path)
		studyReady++
		w.WriteHeader(http.StatusOK)
	}))
	defer study.Close()

	notifier := &recordingNotifier{}
	gpu := &fakeGPU{readings: []int{900, 700, 300}}
	h := newCoordinator(t, core, study, gpu, notifier)

	require.Equal(t, StateIdle, h.State())
	require.NoError(t, h.Initiate(context.Background()))

	assert.Equal(t, StateAcquired, h.State())
	assert.Equal(t, 1, coreReleases)
	assert.Equal(t, 1, studyReady)
	assert.Equal(t, 3, gpu.calls)
	assert.Contains(t, notifier.categories(), "gpu_released")
	assert.Contains(t, notifier.categories(), "gpu_acquired")
	assert.Contains(t, notifier.categories(), "handoff_completed")
}

func TestHandoffFailsWhenCoreRefuses(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer core.Close()
	study := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("study must not be signalled when core refuses")
	}))
	defer study.Close()

	notifier := &recordingNotifier{}
	h := newCoordinator(t, core, study, nil, notifier)

	err := h.Initiate(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, h.State())
	assert.Contains(t, notifier.categories(), "handoff_failed")
	assert.NotContains(t, notifier.categories(), "handoff_completed")
}

func TestHandoffTimesOutOnDirtyGPU(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer core.Close()
	study := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("study must not be signalled on cleanup timeout")
	}))
	defer study.Close()

	notifier := &recordingNotifier{}
	gpu := &fakeGPU{readings: []int{4000}}
	cfg := HandoffConfig{
		CoreURL:        core.URL,
		StudyURL:       study.URL,
		PollInterval:   time.Millisecond,
		ThresholdMB:    500,
		CleanupTimeout: 10 * time.Millisecond,
	}
	h := NewHandoffCoordinator(cfg, httpclient.New(httpclient.WithMaxRetries(0)), gpu, notifier)

	err := h.Initiate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, StateIdle, h.State())
	assert.Contains(t, notifier.categories(), "handoff_failed")
}

func TestHandoffRejectsConcurrentInitiate(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer core.Close()
	h := newCoordinator(t, core, core, nil, nil)
	h.mu.Lock()
	h.state = StateReleaseRequested
	h.mu.Unlock()

	err := h.Initiate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}

func TestReleaseReclaimsForCore(t *testing.T) {
	var reclaims int
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gpu/reclaim", r.URL.Path)
		reclaims++
		w.WriteHeader(http.StatusOK)
	}))
	defer core.Close()

	notifier := &recordingNotifier{}
	h := newCoordinator(t, core, core, nil, notifier)
	h.mu.Lock()
	h.state = StateAcquired
	h.mu.Unlock()

	require.NoError(t, h.Release(context.Background()))
	assert.Equal(t, StateIdle, h.State())
	assert.Equal(t, 1, reclaims)
	assert.Contains(t, notifier.categories(), "handoff_completed")
}

func TestReleaseRequiresAcquiredState(t *testing.T) {
	h := NewHandoffCoordinator(HandoffConfig{}, nil, nil, nil)
	err := h.Release(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot release")
}

func TestHubRetainsBoundedHistory(t *testing.T) {
	hub := NewHub()
	for i := 0; i < historyLimit+20; i++ {
		hub.Broadcast("heartbeat_tick", map[string]int{"n": i})
	}
	history := hub.History()
	require.Len(t, history, historyLimit)
	assert.Equal(t, "heartbeat_tick", history[0].Category)
}

func TestHubReplaysHistoryToNewClients(t *testing.T) {
	hub := NewHub()
	hub.Broadcast("gpu_released", nil)
	hub.Broadcast("gpu_acquired", nil)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dialWS(t, srv.URL)
	defer conn.Close()

	first := readWS(t, conn)
	second := readWS(t, conn)
	assert.Contains(t, first, "gpu_released")
	assert.Contains(t, second, "gpu_acquired")

	hub.Broadcast("handoff_completed", nil)
	third := readWS(t, conn)
	assert.Contains(t, third, "handoff_completed")
}

func TestContainerStatusProbesHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	monitor := NewContainerMonitor([]ServiceSpec{
		{Name: "core", HealthURL: healthy.URL + "/health"},
		{Name: "study", HealthURL: down.URL + "/health"},
	}, httpclient.New(httpclient.WithMaxRetries(0)), nil)

	statuses := monitor.Status(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
	assert.NotEmpty(t, statuses[1].Detail)
}

type fakeInspector struct {
	running   map[string]bool
	restarted map[string]map[string]string
}

func (f *fakeInspector) IsRunning(_ context.Context, container string) (bool, error) {
	return f.running[container], nil
}

func (f *fakeInspector) RestartWithEnv(_ context.Context, container string, env map[string]string) error {
	if f.restarted == nil {
		f.restarted = make(map[string]map[string]string)
	}
	f.restarted[container] = env
	return nil
}

func TestInjectRestartsContainerWithEnv(t *testing.T) {
	inspector := &fakeInspector{running: map[string]bool{"gaia-core": true}}
	monitor := NewContainerMonitor([]ServiceSpec{
		{Name: "core", Container: "gaia-core"},
	}, nil, inspector)

	env := map[string]string{"OBSERVER_MODE": "warn"}
	require.NoError(t, monitor.Inject(context.Background(), "core", env))
	assert.Equal(t, env, inspector.restarted["gaia-core"])

	err := monitor.Inject(context.Background(), "nope", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestServerHandoffEndpoint(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer core.Close()

	notifier := &recordingNotifier{}
	h := newCoordinator(t, core, core, nil, notifier)
	srv := NewServer(h, NewContainerMonitor(nil, nil, nil), NewHub())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/gpu/handoff", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return h.State() == StateAcquired
	}, time.Second, 5*time.Millisecond)

	second, err := http.Post(ts.URL+"/gpu/handoff", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestSMIStatsParsesOutput(t *testing.T) {
	stats := &SMIStats{Binary: "definitely-not-a-real-binary"}
	_, err := stats.UsedMB(context.Background())
	require.Error(t, err)
}
