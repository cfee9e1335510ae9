package testclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnchairsociety/wavefront/internal/config"
	"github.com/lawnchairsociety/wavefront/internal/server"
)

const stripYAML = `constraints:
  - [0, 0, -1, 1]
  - [0, 0, -1, 0]
  - [0, 0, 1, 0]
  - [0, 0, 1, 3]
  - [1, 0, -1, 2]
  - [1, 0, 1, 0]
  - [1, 0, -1, 3]
  - [1, 0, 1, 3]
  - [2, 0, -1, 2]
  - [2, 0, 1, 1]
  - [2, 0, 1, 2]
  - [2, 0, -1, 3]
  - [3, 0, -1, 0]
  - [3, 0, -1, 1]
  - [3, 0, 1, 1]
  - [3, 0, 1, 2]
weights: [1, 1, 1, 10]
seed: 41
`

func startServer(t *testing.T) string {
	t.Helper()
	s := server.NewServer(config.DefaultConfig(), nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})
	return ts.URL
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"localhost:4480", "ws://localhost:4480/ws"},
		{"http://127.0.0.1:9000/", "ws://127.0.0.1:9000/ws"},
		{"https://wfc.example", "wss://wfc.example/ws"},
		{"ws://host/custom", "ws://host/custom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WebSocketURL(tt.in), tt.in)
	}
}

func TestTestClient_Session(t *testing.T) {
	addr := startServer(t)

	client, err := NewTestClient("strip", addr)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Construct([]byte(stripYAML))
	require.NoError(t, err)
	require.True(t, resp.OK, resp.Error)

	resp, err = client.Step(20)
	require.NoError(t, err)
	require.True(t, resp.OK, resp.Error)
	assert.Equal(t, 20, resp.Collapsed)

	cells, err := client.ReadState()
	require.NoError(t, err)
	assert.Len(t, cells, 20)

	st, err := client.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint32(41), st.Seed)
	assert.Equal(t, 4, st.Tiles)

	assert.Len(t, client.GetResponses(), 4)
}

func TestTestClient_JSONPayload(t *testing.T) {
	addr := startServer(t)

	client, err := NewTestClient("json", addr)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Construct([]byte(`{"constraints": [[0, 0, 1, 0], [0, 0, -1, 0]], "weights": [1], "seed": 3}`))
	require.NoError(t, err)
	assert.True(t, resp.OK, resp.Error)
}

func TestGetJSON(t *testing.T) {
	addr := startServer(t)

	var body struct {
		Status string `json:"status"`
	}
	code, err := GetJSON(addr, "/healthz", &body)
	require.NoError(t, err)
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", body.Status)

	code, err = GetJSON(addr, "/api/v1/sessions", nil)
	require.NoError(t, err)
	assert.Equal(t, 503, code)
}
