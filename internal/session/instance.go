// Package session exposes a solver to a host across a serialized boundary:
// construct once, then step and read state.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/wavefront/internal/logger"
	"github.com/lawnchairsociety/wavefront/internal/wfc"
)

// Status is the non-error outcome of Construct.
type Status string

const (
	StatusOK                 Status = "Ok"
	StatusAlreadyInitialized Status = "Already set"
)

// Stats is a snapshot of an instance.
type Stats struct {
	ID          string    `json:"id" yaml:"id"`
	Initialized bool      `json:"initialized" yaml:"initialized"`
	Seed        uint32    `json:"seed" yaml:"seed"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Tiles       int       `json:"tiles" yaml:"tiles"`
	Constraints int       `json:"constraints" yaml:"constraints"`
	Steps       int       `json:"steps" yaml:"steps"`
	Collapsed   int       `json:"collapsed" yaml:"collapsed"`
	Wavefront   int       `json:"wavefront" yaml:"wavefront"`
	Stuck       bool      `json:"stuck" yaml:"stuck"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Instance owns one solver. A single mutex serializes every operation, so an
// Instance may be shared between goroutines.
type Instance struct {
	mu          sync.Mutex
	id          uuid.UUID
	createdAt   time.Time
	solver      *wfc.Solver
	rules       *wfc.Rules
	seed        uint32
	fingerprint string
	defaultSeed uint32
}

// Option configures an Instance.
type Option func(*Instance)

// WithDefaultSeed sets the seed used when a construct payload omits one.
func WithDefaultSeed(seed uint32) Option {
	return func(in *Instance) {
		in.defaultSeed = seed
	}
}

// NewInstance creates an uninitialized instance.
func NewInstance(opts ...Option) *Instance {
	in := &Instance{
		id:          uuid.New(),
		createdAt:   time.Now(),
		defaultSeed: wfc.DefaultSeed,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// ID returns the instance's session id.
func (in *Instance) ID() uuid.UUID {
	return in.id
}

// Construct initializes the solver from a YAML or JSON payload. A second call
// on an initialized instance changes nothing and reports
// StatusAlreadyInitialized. A malformed payload yields a *DecodeError and
// leaves the instance uninitialized.
func (in *Instance) Construct(data []byte) (Status, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.solver != nil {
		return StatusAlreadyInitialized, nil
	}

	payload, err := decodePayload(data, in.defaultSeed)
	if err != nil {
		logger.Debug("Construct payload rejected", "session_id", in.id, "error", err)
		return "", err
	}

	if err := in.build(payload); err != nil {
		return "", err
	}
	return StatusOK, nil
}

// ConstructPayload initializes the solver from an already decoded payload.
func (in *Instance) ConstructPayload(payload *Payload) (Status, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.solver != nil {
		return StatusAlreadyInitialized, nil
	}
	if err := in.build(payload); err != nil {
		return "", err
	}
	return StatusOK, nil
}

func (in *Instance) build(payload *Payload) error {
	rules, weights, err := payload.Build()
	if err != nil {
		logger.Debug("Construct payload rejected", "session_id", in.id, "error", err)
		return err
	}

	solver, err := wfc.NewSolver(rules, weights, payload.Seed)
	if err != nil {
		return &DecodeError{Field: "payload", Err: err}
	}

	in.solver = solver
	in.rules = rules
	in.seed = payload.Seed
	in.fingerprint = Fingerprint(payload.Constraints, weights)

	logger.Info("Solver constructed",
		"session_id", in.id,
		"tiles", rules.Tiles(),
		"constraints", rules.Len(),
		"seed", payload.Seed,
		"fingerprint", in.fingerprint)
	return nil
}

// Initialized reports whether Construct has succeeded.
func (in *Instance) Initialized() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.solver != nil
}

// Step advances the solver by one cell. It returns false on an uninitialized
// instance, and false once a contradiction has been hit; a stuck instance
// should be discarded.
func (in *Instance) Step() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.step()
}

// StepN runs up to n steps, stopping at the first failure. It returns the
// number of successful steps and whether all n succeeded.
func (in *Instance) StepN(n int) (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := 0; i < n; i++ {
		if !in.step() {
			return i, false
		}
	}
	return n, true
}

func (in *Instance) step() bool {
	if in.solver == nil {
		return false
	}
	wasStuck := in.solver.Stuck()
	if in.solver.Step() {
		return true
	}
	if !wasStuck {
		logger.Warning("Solver hit a contradiction",
			"session_id", in.id,
			"step", in.solver.Steps(),
			"at", in.solver.Contradiction().At.String(),
			"from", in.solver.Contradiction().Source.String())
	}
	return false
}

// ReadState returns one row per collapsed cell: the coordinates followed by the
// tile id. Rows are in commit order.
func (in *Instance) ReadState() [][]int64 {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.solver == nil {
		return [][]int64{}
	}

	assignments := in.solver.Collapsed()
	rows := make([][]int64, len(assignments))
	for i, a := range assignments {
		row := make([]int64, 0, wfc.Dims+1)
		row = append(row, a.Pos[:]...)
		rows[i] = append(row, int64(a.Tile))
	}
	return rows
}

// Stats returns a snapshot of the instance.
func (in *Instance) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()

	st := Stats{
		ID:        in.id.String(),
		CreatedAt: in.createdAt,
	}
	if in.solver == nil {
		return st
	}

	st.Initialized = true
	st.Seed = in.seed
	st.Fingerprint = in.fingerprint
	st.Tiles = in.rules.Tiles()
	st.Constraints = in.rules.Len()
	st.Steps = in.solver.Steps()
	st.Collapsed = in.solver.CollapsedLen()
	st.Wavefront = in.solver.WavefrontLen()
	st.Stuck = in.solver.Stuck()
	return st
}
