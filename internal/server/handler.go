package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lawnchairsociety/wavefront/internal/database"
	"github.com/lawnchairsociety/wavefront/internal/logger"
	"github.com/lawnchairsociety/wavefront/internal/session"
)

const registryTimeout = 5 * time.Second

var (
	errBinaryFrame    = errors.New("binary frames are not supported")
	errNotConstructed = errors.New("session not constructed")
)

// Registry records session metadata. *database.Database implements it.
type Registry interface {
	CreateSession(ctx context.Context, s *database.Session) error
	UpdateSession(ctx context.Context, id string, steps, collapsed int, status database.SessionStatus) error
	ListSessions(ctx context.Context, limit int) ([]database.Session, error)
}

// sessionConn is the per-connection state: one client, one solver instance.
type sessionConn struct {
	server     *Server
	client     Client
	ip         string
	inst       *session.Instance
	registered bool
	lockedOut  bool
}

// handleClient serves requests from client until it disconnects.
func (s *Server) handleClient(client Client, ip string) {
	sc := &sessionConn{
		server: s,
		client: client,
		ip:     ip,
		inst:   session.NewInstance(session.WithDefaultSeed(s.cfg.Solver.DefaultSeed)),
	}
	logger.Info("Client connected", "session_id", sc.inst.ID(), "remote_addr", client.RemoteAddr())
	defer sc.close()

	for {
		req, err := client.ReadRequest()
		if req == nil {
			logger.Debug("Client read ended", "session_id", sc.inst.ID(), "error", err)
			return
		}

		var resp *Response
		if err != nil {
			resp = sc.fail(req, err)
		} else {
			resp = sc.handle(req)
		}

		if err := client.WriteResponse(resp); err != nil {
			logger.Debug("Failed to write response", "session_id", sc.inst.ID(), "error", err)
			return
		}
		if sc.lockedOut {
			return
		}
	}
}

func (sc *sessionConn) handle(req *Request) *Response {
	var resp *Response
	switch req.Op {
	case OpConstruct:
		resp = sc.construct(req)
	case OpStep:
		resp = sc.step(req)
	case OpReadState:
		cells := sc.inst.ReadState()
		resp = &Response{OK: true, Cells: &cells}
	case OpStats:
		st := sc.inst.Stats()
		resp = &Response{OK: true, Stats: &st}
	default:
		return sc.fail(req, fmt.Errorf("unknown op %q", req.Op))
	}

	resp.ID = req.ID
	resp.Op = req.Op
	sc.summarize(resp)
	return resp
}

func (sc *sessionConn) construct(req *Request) *Response {
	data, err := req.payloadBytes()
	if err == nil {
		var status session.Status
		status, err = sc.inst.Construct(data)
		if err == nil {
			sc.server.constructLimiter.RecordSuccess(sc.ip)
			if status == session.StatusOK {
				sc.register()
			}
			return &Response{OK: true, Status: status}
		}
	}

	resp := &Response{Error: err.Error()}
	var de *session.DecodeError
	if errors.As(err, &de) {
		resp.Field = de.Field
	}

	if locked, d := sc.server.constructLimiter.RecordFailure(sc.ip); locked {
		sc.lockedOut = true
		resp.Error = fmt.Sprintf("%s; too many rejected payloads, retry in %s", resp.Error, d.Round(time.Second))
		logger.Warning("Client locked out after rejected payloads",
			"session_id", sc.inst.ID(),
			"ip", sc.ip,
			"lockout", d)
	}
	return resp
}

func (sc *sessionConn) step(req *Request) *Response {
	count := 1
	if req.Count != nil {
		if *req.Count < 1 {
			return &Response{Error: fmt.Sprintf("count must be positive, got %d", *req.Count)}
		}
		count = min(*req.Count, sc.server.cfg.Solver.MaxStepsPerRequest)
	}

	if !sc.inst.Initialized() {
		zero := 0
		return &Response{Steps: &zero, Error: errNotConstructed.Error()}
	}

	wasStuck := sc.inst.Stats().Stuck
	n, ok := sc.inst.StepN(count)
	resp := &Response{OK: ok, Steps: &n}

	st := sc.inst.Stats()
	switch {
	case st.Stuck && !wasStuck:
		sc.update(st, database.SessionStuck)
	case n > 0:
		sc.update(st, database.SessionActive)
	}
	return resp
}

func (sc *sessionConn) fail(req *Request, err error) *Response {
	resp := &Response{ID: req.ID, Op: req.Op, Error: err.Error()}
	sc.summarize(resp)
	return resp
}

func (sc *sessionConn) summarize(resp *Response) {
	st := sc.inst.Stats()
	resp.Collapsed = st.Collapsed
	resp.Wavefront = st.Wavefront
	resp.Stuck = st.Stuck
}

func (sc *sessionConn) register() {
	reg := sc.server.registry
	if reg == nil {
		return
	}

	st := sc.inst.Stats()
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	err := reg.CreateSession(ctx, &database.Session{
		ID:          st.ID,
		Fingerprint: st.Fingerprint,
		Tiles:       st.Tiles,
		Constraints: st.Constraints,
		Seed:        st.Seed,
		Status:      database.SessionActive,
		RemoteAddr:  sc.ip,
		CreatedAt:   st.CreatedAt.UTC(),
	})
	if err != nil {
		logger.Error("Failed to register session", "session_id", st.ID, "error", err)
		return
	}
	sc.registered = true
}

func (sc *sessionConn) update(st session.Stats, status database.SessionStatus) {
	if !sc.registered {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	if err := sc.server.registry.UpdateSession(ctx, st.ID, st.Steps, st.Collapsed, status); err != nil {
		logger.Error("Failed to update session", "session_id", st.ID, "error", err)
	}
}

func (sc *sessionConn) close() {
	st := sc.inst.Stats()
	if !st.Stuck {
		sc.update(st, database.SessionClosed)
	}

	logger.Info("Client disconnected",
		"session_id", st.ID,
		"remote_addr", sc.client.RemoteAddr(),
		"steps", st.Steps,
		"collapsed", st.Collapsed,
		"stuck", st.Stuck)
}
