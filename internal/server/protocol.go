package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lawnchairsociety/wavefront/internal/session"
)

// Op names a request type.
type Op string

const (
	OpConstruct Op = "construct"
	OpStep      Op = "step"
	OpReadState Op = "read_state"
	OpStats     Op = "stats"
)

// Request is one client message.
//
//	{"id": 1, "op": "construct", "payload": {"constraints": [...], "weights": [...]}}
//	{"id": 2, "op": "step", "count": 10}
//	{"id": 3, "op": "read_state"}
//
// The construct payload may also be a string holding a YAML document.
type Request struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Count   *int            `json:"count,omitempty"`
}

// Response answers one Request. Collapsed, Wavefront and Stuck describe the
// session after the request was handled.
type Response struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Op        Op              `json:"op"`
	OK        bool            `json:"ok"`
	Status    session.Status  `json:"status,omitempty"`
	Steps     *int            `json:"steps,omitempty"`
	Cells     *[][]int64      `json:"cells,omitempty"`
	Stats     *session.Stats  `json:"stats,omitempty"`
	Collapsed int             `json:"collapsed"`
	Wavefront int             `json:"wavefront"`
	Stuck     bool            `json:"stuck"`
	Error     string          `json:"error,omitempty"`
	Field     string          `json:"field,omitempty"`
}

// decodeRequest parses a client message.
func decodeRequest(data []byte) (*Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if req.Op == "" {
		return &req, fmt.Errorf("malformed request: missing op")
	}
	return &req, nil
}

// payloadBytes returns the construct document carried by a request. A JSON
// string is unwrapped so YAML text can be sent as-is.
func (r *Request) payloadBytes() ([]byte, error) {
	p := bytes.TrimSpace(r.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil, fmt.Errorf("construct requires a payload")
	}
	if p[0] != '"' {
		return p, nil
	}

	var text string
	if err := json.Unmarshal(p, &text); err != nil {
		return nil, fmt.Errorf("payload string: %w", err)
	}
	return []byte(text), nil
}
