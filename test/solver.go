package test

import (
	"fmt"
	"sync"

	"github.com/lawnchairsociety/wavefront/internal/server"
	"github.com/lawnchairsociety/wavefront/internal/testclient"
)

// =============================================================================
// Group 3: Solver
// =============================================================================

const simplePayload = `{
  "constraints": [[0,0,-1,2],[0,0,1,1],[0,0,1,2],[1,0,-1,0],[1,0,-1,1],
                  [1,0,1,1],[1,0,1,2],[2,0,-1,0],[2,0,-1,1],[2,0,1,0]],
  "weights": [1, 1, 1]
}`

const stuckPayload = `{"constraints": [[0,0,1,1],[1,0,-1,1],[1,0,1,0],[0,0,-1,0]], "weights": [1, 1]}`

const stripPayload = `constraints:
  - [0, 0, -1, 1]
  - [0, 0, -1, 0]
  - [0, 0, 1, 0]
  - [0, 0, 1, 3]
  - [1, 0, -1, 2]
  - [1, 0, 1, 0]
  - [1, 0, -1, 3]
  - [1, 0, 1, 3]
  - [2, 0, -1, 2]
  - [2, 0, 1, 1]
  - [2, 0, 1, 2]
  - [2, 0, -1, 3]
  - [3, 0, -1, 0]
  - [3, 0, -1, 1]
  - [3, 0, 1, 1]
  - [3, 0, 1, 2]
weights: [1, 1, 1, 10]
seed: 41
`

// stripRight lists the tiles allowed to the right of each strip tile.
var stripRight = map[int64][]int64{
	0: {0, 3},
	1: {0, 3},
	2: {1, 2},
	3: {1, 2},
}

// referenceTrace is the collapse order of the simple rules at the default seed.
var referenceTrace = [][]int64{
	{0, 0, 0, 0, 0},
	{-1, 0, 0, 0, 2},
	{1, 0, 0, 0, 1},
	{2, 0, 0, 0, 2},
	{3, 0, 0, 0, 0},
	{-2, 0, 0, 0, 0},
	{-3, 0, 0, 0, 2},
	{4, 0, 0, 0, 1},
}

func serverRequest(op string) server.Request {
	return server.Request{Op: server.Op(op)}
}

// run constructs payload on a fresh session, steps it and returns its cells.
func run(serverAddr, name, payload string, steps int) ([][]int64, *server.Response, error) {
	client, err := testclient.NewTestClient(uniqueName(name), serverAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	resp, err := client.Construct([]byte(payload))
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK {
		return nil, resp, fmt.Errorf("construct rejected: %s", resp.Error)
	}

	stepResp, err := client.Step(steps)
	if err != nil {
		return nil, nil, err
	}
	cells, err := client.ReadState()
	return cells, stepResp, err
}

func sameRow(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestReferenceTrace checks five steps of the simple rules reproduce the
// known collapse order
func TestReferenceTrace(serverAddr string) TestResult {
	const testName = "Reference Trace"

	logAction(testName, "Running simple rules for 5 steps")
	cells, resp, err := run(serverAddr, "trace", simplePayload, 5)
	if err != nil {
		return fail(testName, "%v", err)
	}
	if !resp.OK || resp.Wavefront != 2 {
		return fail(testName, "step response %+v", resp)
	}
	if len(cells) != len(referenceTrace) {
		return fail(testName, "got %d cells, want %d", len(cells), len(referenceTrace))
	}
	for i, want := range referenceTrace {
		logResult(testName, sameRow(cells[i], want), fmt.Sprint(cells[i]))
		if !sameRow(cells[i], want) {
			return fail(testName, "cell %d = %v, want %v", i, cells[i], want)
		}
	}
	return pass(testName, "%d cells in the expected order", len(cells))
}

// TestDeterministicSessions checks two sessions with the same rules and seed
// agree cell for cell
func TestDeterministicSessions(serverAddr string) TestResult {
	const testName = "Deterministic Sessions"

	a, _, err := run(serverAddr, "det", stripPayload, 30)
	if err != nil {
		return fail(testName, "first session: %v", err)
	}
	b, _, err := run(serverAddr, "det", stripPayload, 30)
	if err != nil {
		return fail(testName, "second session: %v", err)
	}

	if len(a) != len(b) {
		return fail(testName, "sessions collapsed %d and %d cells", len(a), len(b))
	}
	for i := range a {
		if !sameRow(a[i], b[i]) {
			return fail(testName, "cell %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	return pass(testName, "both sessions collapsed the same %d cells", len(a))
}

// TestStripNeighbors checks every collapsed pair in the strip obeys the rules
func TestStripNeighbors(serverAddr string) TestResult {
	const testName = "Strip Neighbors"

	cells, resp, err := run(serverAddr, "strip", stripPayload, 20)
	if err != nil {
		return fail(testName, "%v", err)
	}
	if !resp.OK {
		return fail(testName, "strip got stuck: %s", resp.Error)
	}

	tiles := make(map[int64]int64, len(cells))
	for _, c := range cells {
		tiles[c[0]] = c[4]
	}
	checked := 0
	for x, tile := range tiles {
		right, ok := tiles[x+1]
		if !ok {
			continue
		}
		allowed := false
		for _, n := range stripRight[tile] {
			if n == right {
				allowed = true
			}
		}
		if !allowed {
			return fail(testName, "tile %d at x=%d has illegal right neighbor %d", tile, x, right)
		}
		checked++
	}
	return pass(testName, "%d neighbor pairs legal", checked)
}

// TestContradiction checks a session that cannot be completed reports stuck
// and stays stuck
func TestContradiction(serverAddr string) TestResult {
	const testName = "Contradiction"

	client, err := testclient.NewTestClient(uniqueName("stuck"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	if resp, err := client.Construct([]byte(stuckPayload)); err != nil || !resp.OK {
		return fail(testName, "construct failed: %v %+v", err, resp)
	}

	for i := 0; i < 2; i++ {
		resp, err := client.Step(3)
		if err != nil {
			return fail(testName, "step failed: %v", err)
		}
		logResult(testName, resp.Stuck, fmt.Sprintf("step %d ok=%v stuck=%v", i, resp.OK, resp.Stuck))
		if resp.OK || !resp.Stuck {
			return fail(testName, "step %d: expected stuck, got %+v", i, resp)
		}
	}
	return pass(testName, "session reported stuck")
}

// TestConcurrentSessions runs several sessions at once and checks they agree
func TestConcurrentSessions(serverAddr string) TestResult {
	const testName = "Concurrent Sessions"
	const sessions = 4

	results := make([][][]int64, sessions)
	errs := make([]error, sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = run(serverAddr, "concurrent", simplePayload, 5)
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		if errs[i] != nil {
			return fail(testName, "session %d: %v", i, errs[i])
		}
		if len(results[i]) != len(referenceTrace) {
			return fail(testName, "session %d collapsed %d cells", i, len(results[i]))
		}
		for j := range referenceTrace {
			if !sameRow(results[i][j], referenceTrace[j]) {
				return fail(testName, "session %d cell %d = %v", i, j, results[i][j])
			}
		}
	}
	return pass(testName, "%d sessions matched the reference trace", sessions)
}
