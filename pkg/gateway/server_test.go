package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

// fakeCore answers /process_packet by echoing the prompt as the
// candidate, optionally refusing until woken.
type fakeCore struct {
	asleep atomic.Bool
	wakes  atomic.Int32
	turns  atomic.Int32
}

func (f *fakeCore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/process_packet", func(w http.ResponseWriter, r *http.Request) {
		if f.asleep.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"state":"asleep"}`))
			return
		}
		f.turns.Add(1)
		pkt, err := packet.Deserialize(mustRead(r))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pkt.Response.Candidate = "echo: " + pkt.Content.OriginalPrompt
		data, _ := pkt.Serialize()
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/wake", func(w http.ResponseWriter, r *http.Request) {
		f.wakes.Add(1)
		f.asleep.Store(false)
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func mustRead(r *http.Request) []byte {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	return buf.Bytes()
}

func newGateway(t *testing.T, core *httptest.Server, wakeTimeout time.Duration) *httptest.Server {
	t.Helper()
	cfg := Config{
		CoreURL:       core.URL,
		WakeTimeout:   wakeTimeout,
		DrainInterval: 5 * time.Millisecond,
	}
	srv := NewServer(cfg, httpclient.New(httpclient.WithMaxRetries(0)))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestProcessUserInputProxiesToCore(t *testing.T) {
	core := &fakeCore{}
	coreSrv := httptest.NewServer(core.handler())
	defer coreSrv.Close()

	ts := newGateway(t, coreSrv, time.Second)
	resp, body := postJSON(t, ts.URL+"/process_user_input", `{"user_input":"hello there"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hello there", body["response"])
	assert.NotEmpty(t, body["packet_id"])
}

func TestProcessUserInputRequiresInput(t *testing.T) {
	ts := newGateway(t, httptest.NewServer(http.NotFoundHandler()), time.Second)
	resp, _ := postJSON(t, ts.URL+"/process_user_input", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWakeDrainRecoversQueuedMessage(t *testing.T) {
	core := &fakeCore{}
	core.asleep.Store(true)
	coreSrv := httptest.NewServer(core.handler())
	defer coreSrv.Close()

	ts := newGateway(t, coreSrv, 2*time.Second)
	resp, body := postJSON(t, ts.URL+"/process_user_input", `{"user_input":"wake up"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: wake up", body["response"])
	assert.GreaterOrEqual(t, core.wakes.Load(), int32(1))
}

func TestWakeFailureReturnsCannedResponse(t *testing.T) {
	core := &fakeCore{}
	core.asleep.Store(true)
	coreSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Core never wakes.
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer coreSrv.Close()

	ts := newGateway(t, coreSrv, 30*time.Millisecond)
	resp, body := postJSON(t, ts.URL+"/process_user_input", `{"user_input":"anyone home?"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, wakeFailureResponse, body["response"])
	assert.Empty(t, body["packet_id"])
}

func TestOutputRouterDispatchesByDestination(t *testing.T) {
	coreSrv := httptest.NewServer(http.NotFoundHandler())
	defer coreSrv.Close()

	srv := NewServer(Config{CoreURL: coreSrv.URL}, httpclient.New(httpclient.WithMaxRetries(0)))
	delivered := make(chan *packet.CognitionPacket, 1)
	srv.RegisterSink(packet.DestDiscord, SinkFunc(func(_ context.Context, pkt *packet.CognitionPacket) error {
		delivered <- pkt
		return nil
	}))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	pkt := packet.New(packet.Options{SessionID: "s", Prompt: "p", Destination: packet.DestDiscord})
	pkt.Response.Candidate = "routed reply"
	data, err := pkt.Serialize()
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/output_router", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case got := <-delivered:
		assert.Equal(t, "routed reply", got.Response.Candidate)
	case <-time.After(time.Second):
		t.Fatal("sink was not invoked")
	}
}

func TestPresenceRoundTrip(t *testing.T) {
	ts := newGateway(t, httptest.NewServer(http.NotFoundHandler()), time.Second)

	resp, _ := postJSON(t, ts.URL+"/presence", `{"activity":"typing","status":"online"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(ts.URL + "/presence")
	require.NoError(t, err)
	defer get.Body.Close()
	var p Presence
	require.NoError(t, json.NewDecoder(get.Body).Decode(&p))
	assert.Equal(t, "typing", p.Activity)
	assert.Equal(t, "online", p.Status)
}

func TestQueueStatusReportsDepth(t *testing.T) {
	ts := newGateway(t, httptest.NewServer(http.NotFoundHandler()), time.Second)

	resp, err := http.Get(ts.URL + "/queue/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(0), body["size"])
	assert.Equal(t, float64(50), body["capacity"])
}

func TestMessageQueueBounds(t *testing.T) {
	q := NewMessageQueue(2)
	require.NoError(t, q.Enqueue(QueuedMessage{Input: "a"}))
	require.NoError(t, q.Enqueue(QueuedMessage{Input: "b"}))
	assert.Error(t, q.Enqueue(QueuedMessage{Input: "c"}))

	m, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", m.Input)

	q.Requeue(m)
	m2, _ := q.Dequeue()
	assert.Equal(t, "a", m2.Input)
}
