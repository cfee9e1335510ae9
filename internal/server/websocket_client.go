package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketClient carries JSON requests and responses over text frames.
type WebSocketClient struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketClient wraps conn. maxMessageSize bounds inbound frames; 0 leaves it unbounded.
func NewWebSocketClient(conn *websocket.Conn, maxMessageSize int64) *WebSocketClient {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &WebSocketClient{conn: conn}
}

// ReadRequest reads the next frame and decodes it. Binary frames are rejected
// like malformed text.
func (c *WebSocketClient) ReadRequest() (*Request, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		if mt != websocket.TextMessage {
			return &Request{}, errBinaryFrame
		}
		req, err := decodeRequest(data)
		if req == nil {
			req = &Request{}
		}
		return req, err
	}
}

// WriteResponse sends resp as a JSON text frame. Safe for concurrent use.
func (c *WebSocketClient) WriteResponse(resp *Response) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(resp)
}

// Close sends a close frame, then closes the connection.
func (c *WebSocketClient) Close() error {
	c.wmu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

// RemoteAddr returns the remote address as a string.
func (c *WebSocketClient) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
