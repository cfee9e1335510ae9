// Command wfcgen runs a rule set offline to a fixed number of steps and
// prints the collapsed cells.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/wavefront/internal/session"
	"github.com/lawnchairsociety/wavefront/internal/wfc"
)

// Output is the YAML document written by -format yaml.
type Output struct {
	Fingerprint string    `yaml:"fingerprint"`
	Seed        uint32    `yaml:"seed"`
	Attempts    int       `yaml:"attempts"`
	Steps       int       `yaml:"steps"`
	Wavefront   int       `yaml:"wavefront"`
	Cells       [][]int64 `yaml:"cells,flow"`
}

func main() {
	rulesFile := flag.String("rules", "data/rules/strip.yaml", "Path to rule set YAML or JSON file")
	steps := flag.Int("steps", 20, "Number of cells to collapse")
	seed := flag.Int64("seed", -1, "Seed of the first attempt (-1 uses the rule file's seed)")
	retries := flag.Int("retries", 50, "Attempts before giving up")
	format := flag.String("format", "table", "Output format: table or yaml")
	outputFile := flag.String("output", "", "Output file (empty for stdout)")
	flag.Parse()

	if err := run(*rulesFile, *steps, *seed, *retries, *format, *outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(rulesFile string, steps int, seed int64, retries int, format, outputFile string) error {
	if format != "table" && format != "yaml" {
		return fmt.Errorf("unknown format %q", format)
	}
	if seed > math.MaxUint32 {
		return fmt.Errorf("seed %d does not fit in 32 bits", seed)
	}

	data, err := os.ReadFile(rulesFile)
	if err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}
	payload, err := session.DecodePayload(data)
	if err != nil {
		return err
	}
	if seed >= 0 {
		payload.Seed = uint32(seed)
	}

	rules, weights, err := payload.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := wfc.DefaultGeneratorConfig(steps)
	cfg.Seed = payload.Seed
	cfg.MaxRetries = retries

	start := time.Now()
	result, err := wfc.NewGenerator(rules, weights, cfg).Generate(ctx)
	if err != nil {
		return err
	}

	out := &Output{
		Fingerprint: session.Fingerprint(payload.Constraints, weights),
		Seed:        result.Seed,
		Attempts:    result.Attempts,
		Steps:       result.Steps,
		Wavefront:   result.Wavefront,
		Cells:       sortedCells(result.Assignments),
	}

	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	}

	if err := writeTable(w, out); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s cells collapsed from %s rules in %s (seed %d, %s)\n",
		humanize.Comma(int64(len(out.Cells))),
		humanize.Comma(int64(rules.Len())),
		time.Since(start).Round(time.Microsecond),
		out.Seed,
		attempts(out.Attempts))
	return nil
}

func attempts(n int) string {
	if n == 1 {
		return "first attempt"
	}
	return humanize.Ordinal(n) + " attempt"
}

// sortedCells returns one [x, y, z, w, tile] row per assignment, ordered by
// position.
func sortedCells(assignments []wfc.Assignment) [][]int64 {
	sorted := make([]wfc.Assignment, len(assignments))
	copy(sorted, assignments)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Pos, sorted[j].Pos
		for k := wfc.Dims - 1; k >= 0; k-- {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	cells := make([][]int64, len(sorted))
	for i, a := range sorted {
		row := make([]int64, 0, wfc.Dims+1)
		row = append(row, a.Pos[:]...)
		cells[i] = append(row, int64(a.Tile))
	}
	return cells
}

const glyphs = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// renderStrip draws cells that all lie on the x axis as a row of tile glyphs,
// with '.' for gaps. It returns false for anything else.
func renderStrip(cells [][]int64) (string, bool) {
	if len(cells) == 0 {
		return "", false
	}
	for _, c := range cells {
		if c[1] != 0 || c[2] != 0 || c[3] != 0 || c[4] >= int64(len(glyphs)) {
			return "", false
		}
	}

	var sb strings.Builder
	next := cells[0][0]
	for _, c := range cells {
		for ; next < c[0]; next++ {
			sb.WriteByte('.')
		}
		sb.WriteByte(glyphs[c[4]])
		next = c[0] + 1
	}
	return sb.String(), true
}

func writeTable(w io.Writer, out *Output) error {
	if strip, ok := renderStrip(out.Cells); ok {
		fmt.Fprintf(w, "x=%d  %s\n\n", out.Cells[0][0], strip)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "x\ty\tz\tw\ttile\t")
	for _, c := range out.Cells {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t\n", c[0], c[1], c[2], c[3], c[4])
	}
	return tw.Flush()
}
