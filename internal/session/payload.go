package session

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/wavefront/internal/wfc"
)

var errMissing = errors.New("missing")

// DecodeError reports a malformed construction payload. Field is one of
// "payload", "constraints", "weights" or "seed".
type DecodeError struct {
	Field string
	Err   error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to init %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Payload is the decoded form of a construction request.
//
//	constraints: [[tile, axis, dir, neighbor], ...]
//	weights:     [w0, w1, ...]
//	seed:        42   # optional
//
// JSON documents decode the same way.
type Payload struct {
	Constraints []wfc.Constraint
	Weights     []float64
	Seed        uint32
}

type rawPayload struct {
	Constraints yaml.Node `yaml:"constraints"`
	Weights     yaml.Node `yaml:"weights"`
	Seed        yaml.Node `yaml:"seed"`
}

// DecodePayload parses a YAML or JSON construction payload. An absent seed
// means wfc.DefaultSeed.
func DecodePayload(data []byte) (*Payload, error) {
	return decodePayload(data, wfc.DefaultSeed)
}

func decodePayload(data []byte, defaultSeed uint32) (*Payload, error) {
	var raw rawPayload
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Field: "payload", Err: err}
	}

	constraints, err := decodeConstraints(&raw.Constraints)
	if err != nil {
		return nil, &DecodeError{Field: "constraints", Err: err}
	}

	var weights []float64
	if raw.Weights.IsZero() {
		return nil, &DecodeError{Field: "weights", Err: errMissing}
	}
	if err := raw.Weights.Decode(&weights); err != nil {
		return nil, &DecodeError{Field: "weights", Err: err}
	}

	seed, err := decodeSeed(&raw.Seed, defaultSeed)
	if err != nil {
		return nil, &DecodeError{Field: "seed", Err: err}
	}

	return &Payload{
		Constraints: constraints,
		Weights:     weights,
		Seed:        seed,
	}, nil
}

func decodeConstraints(node *yaml.Node) ([]wfc.Constraint, error) {
	if node.IsZero() {
		return nil, errMissing
	}

	var tuples [][]int
	if err := node.Decode(&tuples); err != nil {
		return nil, err
	}

	constraints := make([]wfc.Constraint, len(tuples))
	for i, t := range tuples {
		if len(t) != 4 {
			return nil, fmt.Errorf("entry %d has %d fields, want 4", i, len(t))
		}
		constraints[i] = wfc.Constraint{Tile: t[0], Axis: t[1], Dir: t[2], Neighbor: t[3]}
	}
	return constraints, nil
}

func decodeSeed(node *yaml.Node, defaultSeed uint32) (uint32, error) {
	if node.IsZero() || node.ShortTag() == "!!null" {
		return defaultSeed, nil
	}

	var seed int64
	if err := node.Decode(&seed); err != nil {
		return 0, err
	}
	if seed < 0 || seed > math.MaxUint32 {
		return 0, fmt.Errorf("seed %d outside [0,%d]", seed, uint32(math.MaxUint32))
	}
	return uint32(seed), nil
}

// Build validates the payload and creates the rule table and weights.
func (p *Payload) Build() (*wfc.Rules, wfc.Weights, error) {
	weights, err := wfc.NewWeights(p.Weights)
	if err != nil {
		return nil, nil, &DecodeError{Field: "weights", Err: err}
	}
	rules, err := wfc.NewRules(p.Constraints, weights.Len())
	if err != nil {
		return nil, nil, &DecodeError{Field: "constraints", Err: err}
	}
	return rules, weights, nil
}

// Fingerprint returns a BLAKE2b-256 digest of a rule set. Duplicate and
// reordered constraints, and weights that differ only by scale, share a
// fingerprint. The seed is not included.
func Fingerprint(constraints []wfc.Constraint, weights wfc.Weights) string {
	sorted := make([]wfc.Constraint, len(constraints))
	copy(sorted, constraints)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Tile != b.Tile {
			return a.Tile < b.Tile
		}
		if a.Axis != b.Axis {
			return a.Axis < b.Axis
		}
		if a.Dir != b.Dir {
			return a.Dir < b.Dir
		}
		return a.Neighbor < b.Neighbor
	})

	h, _ := blake2b.New256(nil)
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(weights.Len()))
	h.Write(buf[:])
	for _, w := range weights {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(w))
		h.Write(buf[:])
	}

	var prev *wfc.Constraint
	for i := range sorted {
		c := sorted[i]
		if prev != nil && *prev == c {
			continue
		}
		for _, v := range []int{c.Tile, c.Axis, c.Dir, c.Neighbor} {
			binary.BigEndian.PutUint64(buf[:], uint64(int64(v)))
			h.Write(buf[:])
		}
		prev = &sorted[i]
	}

	return hex.EncodeToString(h.Sum(nil))
}
