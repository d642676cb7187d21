package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-runtime/gaia/pkg/httpclient"
)

func TestSlotStateManagerSaveAndRestore(t *testing.T) {
	type call struct {
		path     string
		query    string
		filename string
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req slotStateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, call{path: r.URL.Path, query: r.URL.RawQuery, filename: req.Filename})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewSlotStateManager(srv.URL, nil)
	require.NoError(t, m.SaveState(context.Background(), "/data/heartbeat/temporal/baked_states/abc.state"))
	require.NoError(t, m.LoadState(context.Background(), "/data/heartbeat/temporal/baked_states/abc.state"))

	require.Len(t, calls, 2)
	assert.Equal(t, "/slots/0", calls[0].path)
	assert.Equal(t, "action=save", calls[0].query)
	assert.Equal(t, "abc.state", calls[0].filename)
	assert.Equal(t, "action=restore", calls[1].query)
	assert.Equal(t, "abc.state", calls[1].filename)
}

func TestSlotStateManagerSurfacesEngineErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewSlotStateManager(srv.URL, httpclient.New(
		httpclient.WithMaxRetries(1),
		httpclient.WithBaseDelay(time.Millisecond),
	))
	err := m.SaveState(context.Background(), "abc.state")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save engine state")
}
