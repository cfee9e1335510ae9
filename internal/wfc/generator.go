package wfc

import (
	"context"
	"fmt"
)

// GeneratorConfig contains parameters for a bounded generation run
type GeneratorConfig struct {
	Seed       uint32 // Seed of the first attempt
	Steps      int    // Successful steps required
	MaxRetries int    // Fresh instances to try before giving up
}

// DefaultGeneratorConfig returns reasonable defaults for a run of steps steps
func DefaultGeneratorConfig(steps int) GeneratorConfig {
	return GeneratorConfig{
		Seed:       DefaultSeed,
		Steps:      steps,
		MaxRetries: 50,
	}
}

// Result is the output of a successful generation run
type Result struct {
	Seed        uint32 // Seed of the attempt that succeeded
	Attempts    int
	Steps       int
	Assignments []Assignment
	Wavefront   int
}

// Generator runs solvers to a step budget. A solver that hits a contradiction
// is discarded and a fresh one is started with a derived seed.
type Generator struct {
	rules   *Rules
	weights Weights
	config  GeneratorConfig
}

// NewGenerator creates a generator over a fixed rule set
func NewGenerator(rules *Rules, weights Weights, config GeneratorConfig) *Generator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	return &Generator{
		rules:   rules,
		weights: weights,
		config:  config,
	}
}

// attemptSeed derives the seed for an attempt; attempt 0 uses the configured seed
func (g *Generator) attemptSeed(attempt int) uint32 {
	return g.config.Seed + uint32(attempt*1000)
}

// Generate runs attempts until one completes the step budget. Cancellation is
// checked between steps.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		seed := g.attemptSeed(attempt)
		solver, err := NewSolver(g.rules, g.weights, seed)
		if err != nil {
			return nil, err
		}

		ok := true
		for i := 0; i < g.config.Steps; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !solver.Step() {
				ok = false
				break
			}
		}

		if !ok {
			lastErr = fmt.Errorf("seed %d stuck after %d steps: %w", seed, solver.Steps(), solver.Contradiction())
			continue
		}

		return &Result{
			Seed:        seed,
			Attempts:    attempt + 1,
			Steps:       solver.Steps(),
			Assignments: solver.Collapsed(),
			Wavefront:   solver.WavefrontLen(),
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed after %d attempts: %w (last: %v)", g.config.MaxRetries, ErrNoSolution, lastErr)
	}
	return nil, ErrNoSolution
}
