package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnchairsociety/wavefront/internal/config"
	"github.com/lawnchairsociety/wavefront/internal/database"
)

const simplePayload = `{
  "constraints": [[0,0,-1,2],[0,0,1,1],[0,0,1,2],[1,0,-1,0],[1,0,-1,1],
                  [1,0,1,1],[1,0,1,2],[2,0,-1,0],[2,0,-1,1],[2,0,1,0]],
  "weights": [1, 1, 1]
}`

const stuckPayload = `{"constraints": [[0,0,1,1],[1,0,-1,1],[1,0,1,0],[0,0,-1,0]], "weights": [1, 1]}`

// memRegistry is an in-memory Registry.
type memRegistry struct {
	mu       sync.Mutex
	sessions map[string]database.Session
}

func newMemRegistry() *memRegistry {
	return &memRegistry{sessions: make(map[string]database.Session)}
}

func (m *memRegistry) CreateSession(_ context.Context, s *database.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return database.ErrSessionExists
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memRegistry) UpdateSession(_ context.Context, id string, steps, collapsed int, status database.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	s.Steps, s.Collapsed, s.Status = steps, collapsed, status
	m.sessions[id] = s
	return nil
}

func (m *memRegistry) ListSessions(_ context.Context, limit int) ([]database.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRegistry) get(id string) (database.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func newTestServer(t *testing.T, registry Registry, mutate func(*config.ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	s := NewServer(cfg, registry)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req string) Response {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func construct(t *testing.T, conn *websocket.Conn, payload string) Response {
	t.Helper()
	return roundTrip(t, conn, `{"id": 1, "op": "construct", "payload": `+payload+`}`)
}

func TestServer_SessionLifecycle(t *testing.T) {
	reg := newMemRegistry()
	_, ts := newTestServer(t, reg, nil)
	conn := dial(t, ts)

	resp := construct(t, conn, simplePayload)
	require.True(t, resp.OK, resp.Error)
	assert.Equal(t, "Ok", string(resp.Status))
	assert.Equal(t, OpConstruct, resp.Op)
	assert.JSONEq(t, `1`, string(resp.ID))
	assert.Zero(t, resp.Collapsed)

	resp = roundTrip(t, conn, `{"id": 2, "op": "step", "count": 5}`)
	require.True(t, resp.OK, resp.Error)
	require.NotNil(t, resp.Steps)
	assert.Equal(t, 5, *resp.Steps)
	assert.Equal(t, 8, resp.Collapsed)
	assert.Equal(t, 2, resp.Wavefront)
	assert.False(t, resp.Stuck)

	resp = roundTrip(t, conn, `{"id": 3, "op": "read_state"}`)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Cells)
	cells := *resp.Cells
	require.Len(t, cells, 8)
	assert.Equal(t, []int64{0, 0, 0, 0, 0}, cells[0])
	assert.Equal(t, []int64{-1, 0, 0, 0, 2}, cells[1])

	resp = roundTrip(t, conn, `{"id": 4, "op": "stats"}`)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 5, resp.Stats.Steps)
	assert.Equal(t, uint32(42), resp.Stats.Seed)
	id := resp.Stats.ID

	resp = construct(t, conn, stuckPayload)
	assert.True(t, resp.OK)
	assert.Equal(t, "Already set", string(resp.Status))

	rec, ok := reg.get(id)
	require.True(t, ok, "session was not registered")
	assert.Equal(t, database.SessionActive, rec.Status)
	assert.Equal(t, 5, rec.Steps)
	assert.Equal(t, 8, rec.Collapsed)
	assert.Equal(t, 3, rec.Tiles)
	assert.Len(t, rec.Fingerprint, 64)

	conn.Close()
	assert.Eventually(t, func() bool {
		rec, _ := reg.get(id)
		return rec.Status == database.SessionClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StepBeforeConstruct(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, `{"op": "step"}`)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Steps)
	assert.Zero(t, *resp.Steps)
	assert.Contains(t, resp.Error, "not constructed")

	resp = roundTrip(t, conn, `{"op": "read_state"}`)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Cells)
	assert.Empty(t, *resp.Cells)
}

func TestServer_StepCountCapped(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.Solver.MaxStepsPerRequest = 3
	})
	conn := dial(t, ts)

	require.True(t, construct(t, conn, simplePayload).OK)

	resp := roundTrip(t, conn, `{"op": "step", "count": 100}`)
	require.NotNil(t, resp.Steps)
	assert.Equal(t, 3, *resp.Steps)

	resp = roundTrip(t, conn, `{"op": "step", "count": 0}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "count must be positive")
}

func TestServer_YAMLPayloadAndDefaultSeed(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.Solver.DefaultSeed = 7
	})
	conn := dial(t, ts)

	yamlDoc, err := json.Marshal("constraints:\n  - [0, 0, 1, 0]\n  - [0, 0, -1, 0]\nweights: [1]\n")
	require.NoError(t, err)

	resp := construct(t, conn, string(yamlDoc))
	require.True(t, resp.OK, resp.Error)

	resp = roundTrip(t, conn, `{"op": "stats"}`)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, uint32(7), resp.Stats.Seed)
	assert.Equal(t, 1, resp.Stats.Tiles)
}

func TestServer_Contradiction(t *testing.T) {
	reg := newMemRegistry()
	_, ts := newTestServer(t, reg, nil)
	conn := dial(t, ts)

	require.True(t, construct(t, conn, stuckPayload).OK)

	resp := roundTrip(t, conn, `{"op": "step", "count": 4}`)
	assert.False(t, resp.OK)
	assert.True(t, resp.Stuck)
	require.NotNil(t, resp.Steps)
	assert.Zero(t, *resp.Steps)

	// A stuck session stays stuck
	resp = roundTrip(t, conn, `{"op": "step"}`)
	assert.False(t, resp.OK)
	assert.True(t, resp.Stuck)

	resp = roundTrip(t, conn, `{"op": "stats"}`)
	id := resp.Stats.ID
	rec, ok := reg.get(id)
	require.True(t, ok)
	assert.Equal(t, database.SessionStuck, rec.Status)
	assert.Equal(t, 1, rec.Steps)

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	rec, _ = reg.get(id)
	assert.Equal(t, database.SessionStuck, rec.Status, "closing must not overwrite stuck")
}

func TestServer_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)
	conn := dial(t, ts)

	resp := roundTrip(t, conn, `{"op": "fly"}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown op")

	resp = roundTrip(t, conn, `not json`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "malformed request")

	resp = construct(t, conn, `{"constraints": [[0,0,1,0]]}`)
	assert.False(t, resp.OK)
	assert.Equal(t, "weights", resp.Field)
	assert.Contains(t, resp.Error, "failed to init weights")

	resp = roundTrip(t, conn, `{"op": "construct"}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "requires a payload")

	// The connection survives bad requests
	resp = construct(t, conn, simplePayload)
	assert.True(t, resp.OK, resp.Error)
}

func TestServer_ConstructLockout(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.RateLimit = config.RateLimitConfig{MaxFailures: 2, LockoutSeconds: 60, MaxLockoutSeconds: 60}
	})
	conn := dial(t, ts)

	resp := construct(t, conn, `{"weights": [1]}`)
	assert.False(t, resp.OK)
	assert.NotContains(t, resp.Error, "too many")

	resp = construct(t, conn, `{"weights": [1]}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "too many rejected payloads")

	// The server hangs up and refuses new connections from the IP
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, httpResp)
	assert.Equal(t, http.StatusTooManyRequests, httpResp.StatusCode)
}

func TestServer_ConnectionLimit(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.Connections.MaxPerIP = 1
	})
	dial(t, ts)

	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, httpResp)
	assert.Equal(t, http.StatusTooManyRequests, httpResp.StatusCode)
}

func TestServer_OriginCheck(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.WebSocket.AllowedOrigins = []string{"https://ok.example"}
	})

	header := http.Header{"Origin": {"https://evil.example"}}
	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.Error(t, err)
	require.NotNil(t, httpResp)
	assert.Equal(t, http.StatusForbidden, httpResp.StatusCode)

	header = http.Header{"Origin": {"https://ok.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_MessageSizeLimit(t *testing.T) {
	_, ts := newTestServer(t, nil, func(cfg *config.ServerConfig) {
		cfg.WebSocket.MaxMessageSize = 64
	})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op": "construct", "payload": `+simplePayload+`}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "oversized frame should close the connection")
}

func TestServer_Health(t *testing.T) {
	s, ts := newTestServer(t, nil, nil)
	dial(t, ts)
	require.Eventually(t, func() bool { return s.ActiveSessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
	assert.Equal(t, 1, body.Sessions)
}

func TestServer_ListSessions(t *testing.T) {
	t.Run("registry disabled", func(t *testing.T) {
		_, ts := newTestServer(t, nil, nil)
		resp, err := http.Get(ts.URL + "/api/v1/sessions")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("lists registered sessions", func(t *testing.T) {
		reg := newMemRegistry()
		_, ts := newTestServer(t, reg, nil)
		for i := 0; i < 2; i++ {
			conn := dial(t, ts)
			require.True(t, construct(t, conn, simplePayload).OK)
		}

		resp, err := http.Get(ts.URL + "/api/v1/sessions?limit=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Sessions []database.Session `json:"sessions"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Sessions, 1)
		assert.Equal(t, database.SessionActive, body.Sessions[0].Status)
	})

	t.Run("bad limit", func(t *testing.T) {
		_, ts := newTestServer(t, newMemRegistry(), nil)
		resp, err := http.Get(ts.URL + "/api/v1/sessions?limit=-2")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Shutdown(t *testing.T) {
	s, ts := newTestServer(t, nil, nil)
	conn := dial(t, ts)
	require.True(t, construct(t, conn, simplePayload).OK)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going-away close, got %v", err)
	assert.Zero(t, s.ActiveSessions())

	// Upgrades after shutdown are refused
	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, httpResp)
	assert.Equal(t, http.StatusServiceUnavailable, httpResp.StatusCode)
}

func TestServer_ShutdownTwice(t *testing.T) {
	s := NewServer(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown(context.Background())
		}()
	}
	wg.Wait()
}

func TestServer_WithSQLiteRegistry(t *testing.T) {
	db, err := database.OpenSQLite(t.TempDir() + "/registry.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, ts := newTestServer(t, db, nil)
	conn := dial(t, ts)
	require.True(t, construct(t, conn, simplePayload).OK)
	roundTrip(t, conn, `{"op": "step", "count": 2}`)

	resp := roundTrip(t, conn, `{"op": "stats"}`)
	rec, err := db.GetSession(t.Context(), resp.Stats.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Steps)
	assert.Equal(t, resp.Stats.Fingerprint, rec.Fingerprint)

	count, err := db.CountByFingerprint(t.Context(), rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
