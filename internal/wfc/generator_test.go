package wfc

import (
	"context"
	"errors"
	"testing"
)

// stripConstraints is the four-tile strip from the browser demo.
func stripConstraints() []Constraint {
	return []Constraint{
		{0, 0, -1, 1}, {0, 0, -1, 0}, {0, 0, 1, 0}, {0, 0, 1, 3},
		{1, 0, -1, 2}, {1, 0, 1, 0}, {1, 0, -1, 3}, {1, 0, 1, 3},
		{2, 0, -1, 2}, {2, 0, 1, 1}, {2, 0, 1, 2}, {2, 0, -1, 3},
		{3, 0, -1, 0}, {3, 0, -1, 1}, {3, 0, 1, 1}, {3, 0, 1, 2},
	}
}

func newTestGenerator(t *testing.T, constraints []Constraint, raw []float64, config GeneratorConfig) *Generator {
	t.Helper()
	rules, err := NewRules(constraints, len(raw))
	if err != nil {
		t.Fatalf("NewRules() failed: %v", err)
	}
	weights, err := NewWeights(raw)
	if err != nil {
		t.Fatalf("NewWeights() failed: %v", err)
	}
	return NewGenerator(rules, weights, config)
}

func TestDefaultGeneratorConfig(t *testing.T) {
	cfg := DefaultGeneratorConfig(25)

	if cfg.Seed != DefaultSeed {
		t.Errorf("Seed = %d, want %d", cfg.Seed, DefaultSeed)
	}
	if cfg.Steps != 25 {
		t.Errorf("Steps = %d, want 25", cfg.Steps)
	}
	if cfg.MaxRetries != 50 {
		t.Errorf("MaxRetries = %d, want 50", cfg.MaxRetries)
	}
}

func TestGenerateStrip(t *testing.T) {
	cfg := DefaultGeneratorConfig(20)
	cfg.Seed = 41
	g := newTestGenerator(t, stripConstraints(), []float64{1, 1, 1, 10}, cfg)

	result, err := g.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Seed != 41 {
		t.Errorf("Seed = %d, want 41", result.Seed)
	}
	if result.Steps != 20 {
		t.Errorf("Steps = %d, want 20", result.Steps)
	}
	if len(result.Assignments) != 20 {
		t.Errorf("len(Assignments) = %d, want 20", len(result.Assignments))
	}
	if result.Wavefront != 2 {
		t.Errorf("Wavefront = %d, want 2", result.Wavefront)
	}

	// Every assigned neighbor pair must satisfy the rules
	rules, _ := NewRules(stripConstraints(), 4)
	tiles := make(map[Position]int)
	for _, a := range result.Assignments {
		tiles[a.Pos] = a.Tile
	}
	for p, tile := range tiles {
		right, ok := tiles[p.Neighbor(0, 1)]
		if !ok {
			continue
		}
		allowed, _ := rules.Allowed(tile, 0, 1)
		found := false
		for _, n := range allowed {
			if n == right {
				found = true
			}
		}
		if !found {
			t.Errorf("tile %d at %s has illegal right neighbor %d", tile, p, right)
		}
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	cfg := DefaultGeneratorConfig(30)
	a, err := newTestGenerator(t, constraints2D(), []float64{1, 1, 1, 1, 1}, cfg).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	b, err := newTestGenerator(t, constraints2D(), []float64{1, 1, 1, 1, 1}, cfg).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	if a.Seed != b.Seed || len(a.Assignments) != len(b.Assignments) {
		t.Fatalf("runs differ: seed %d/%d, %d/%d cells", a.Seed, b.Seed, len(a.Assignments), len(b.Assignments))
	}
	for i := range a.Assignments {
		if a.Assignments[i] != b.Assignments[i] {
			t.Errorf("Assignments[%d] = %v vs %v", i, a.Assignments[i], b.Assignments[i])
		}
	}
}

func TestGenerateGivesUp(t *testing.T) {
	cfg := GeneratorConfig{Seed: 1, Steps: 5, MaxRetries: 3}
	g := newTestGenerator(t, []Constraint{
		{0, 0, 1, 1},
		{1, 0, -1, 1},
		{1, 0, 1, 0},
		{0, 0, -1, 0},
	}, []float64{1, 1}, cfg)

	_, err := g.Generate(context.Background())
	if !errors.Is(err, ErrNoSolution) {
		t.Errorf("Generate() error = %v, want ErrNoSolution", err)
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestGenerator(t, simpleConstraints(), []float64{1, 1, 1}, DefaultGeneratorConfig(10))
	if _, err := g.Generate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
}

func TestAttemptSeed(t *testing.T) {
	g := &Generator{config: GeneratorConfig{Seed: 7}}

	if got := g.attemptSeed(0); got != 7 {
		t.Errorf("attemptSeed(0) = %d, want 7", got)
	}
	if got := g.attemptSeed(3); got != 3007 {
		t.Errorf("attemptSeed(3) = %d, want 3007", got)
	}
}
