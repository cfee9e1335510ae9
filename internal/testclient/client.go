// Package testclient drives a wfcd server over its WebSocket protocol. It is
// used by the integration runner and by tests that need a real peer.
package testclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wavefront/internal/server"
	"github.com/lawnchairsociety/wavefront/internal/session"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 5 * time.Second

// TestClient is one session on a wfcd server. Requests are sent one at a time.
type TestClient struct {
	Name    string
	Timeout time.Duration

	conn      *websocket.Conn
	nextID    int
	responses []server.Response
	mu        sync.Mutex
}

// WebSocketURL turns a host:port or http(s) URL into the server's /ws endpoint.
func WebSocketURL(address string) string {
	switch {
	case strings.HasPrefix(address, "ws://"), strings.HasPrefix(address, "wss://"):
		return address
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		return "ws" + strings.TrimPrefix(strings.TrimSuffix(address, "/"), "http") + "/ws"
	default:
		return "ws://" + address + "/ws"
	}
}

// NewTestClient connects to the server at address.
func NewTestClient(name string, address string) (*TestClient, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(WebSocketURL(address), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &TestClient{
		Name:    name,
		Timeout: DefaultTimeout,
		conn:    conn,
	}, nil
}

// Send issues one request and waits for the response carrying its id.
func (c *TestClient) Send(req server.Request) (*server.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := strconv.Itoa(c.nextID)
	req.ID = json.RawMessage(id)

	c.conn.SetWriteDeadline(time.Now().Add(c.Timeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Op, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.Timeout))
	for {
		var resp server.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", req.Op, err)
		}
		c.responses = append(c.responses, resp)
		if string(resp.ID) == id {
			return &resp, nil
		}
	}
}

// Construct sends a construct request. A payload that is not JSON is sent as
// a YAML string.
func (c *TestClient) Construct(payload []byte) (*server.Response, error) {
	raw := bytes.TrimSpace(payload)
	if !json.Valid(raw) {
		var err error
		raw, err = json.Marshal(string(payload))
		if err != nil {
			return nil, err
		}
	}
	return c.Send(server.Request{Op: server.OpConstruct, Payload: raw})
}

// Step asks the server to collapse up to n cells.
func (c *TestClient) Step(n int) (*server.Response, error) {
	return c.Send(server.Request{Op: server.OpStep, Count: &n})
}

// ReadState returns the collapsed cells as [x, y, z, w, tile] rows.
func (c *TestClient) ReadState() ([][]int64, error) {
	resp, err := c.Send(server.Request{Op: server.OpReadState})
	if err != nil {
		return nil, err
	}
	if resp.Cells == nil {
		return nil, fmt.Errorf("read_state: %s", resp.Error)
	}
	return *resp.Cells, nil
}

// Stats returns the session snapshot.
func (c *TestClient) Stats() (*session.Stats, error) {
	resp, err := c.Send(server.Request{Op: server.OpStats})
	if err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return nil, fmt.Errorf("stats: %s", resp.Error)
	}
	return resp.Stats, nil
}

// GetResponses returns every response received so far.
func (c *TestClient) GetResponses() []server.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]server.Response, len(c.responses))
	copy(result, c.responses)
	return result
}

// WaitForClose reports whether the server closes the connection within timeout.
func (c *TestClient) WaitForClose(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			return errors.As(err, &ce)
		}
	}
}

// Close closes the connection.
func (c *TestClient) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// PrintMessages prints all responses (for debugging)
func (c *TestClient) PrintMessages() {
	fmt.Printf("\n=== Responses for %s ===\n", c.Name)
	for i, r := range c.GetResponses() {
		data, _ := json.Marshal(r)
		fmt.Printf("[%d] %s\n", i, data)
	}
	fmt.Println("======================")
}

// GetJSON fetches an HTTP endpoint of the server at address into v and
// returns the status code.
func GetJSON(address, path string, v any) (int, error) {
	base := address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	client := &http.Client{Timeout: DefaultTimeout}
	resp, err := client.Get(strings.TrimSuffix(base, "/") + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
