package workerkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"starbench/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	var pings int
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/workers/register", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req model.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ws://worker-a:9100/channel", req.Endpoint)
		assert.Equal(t, 1, req.Capacity)
		json.NewEncoder(w).Encode(&model.RegisterResponse{WorkerID: "w-1"})
	})
	mux.HandleFunc("/v2/ping/w-1", func(w http.ResponseWriter, r *http.Request) {
		pings++
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewManagerClient(srv.URL, "test-key")
	id, err := c.Register(context.Background(), "ws://worker-a:9100/channel", 1, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "w-1", id)

	require.NoError(t, c.Heartbeat(context.Background()))
	assert.Equal(t, 1, pings)
}

func TestHeartbeatBeforeRegistrationFails(t *testing.T) {
	c := NewManagerClient("http://localhost:1", "")
	assert.Error(t, c.Heartbeat(context.Background()))
}
