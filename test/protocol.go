package test

import (
	"strings"

	"github.com/lawnchairsociety/wavefront/internal/session"
	"github.com/lawnchairsociety/wavefront/internal/testclient"
)

// =============================================================================
// Group 2: Session Protocol
// =============================================================================

// TestConstructOnce checks a second construct is ignored
func TestConstructOnce(serverAddr string) TestResult {
	const testName = "Construct Once"

	client, err := testclient.NewTestClient(uniqueName("once"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	logAction(testName, "Constructing simple rules")
	resp, err := client.Construct([]byte(simplePayload))
	if err != nil {
		return fail(testName, "construct failed: %v", err)
	}
	if resp.Status != session.StatusOK {
		return fail(testName, "first construct status %q, error %q", resp.Status, resp.Error)
	}

	logAction(testName, "Constructing again with different rules")
	resp, err = client.Construct([]byte(stuckPayload))
	if err != nil {
		return fail(testName, "construct failed: %v", err)
	}
	logResult(testName, resp.Status == session.StatusAlreadyInitialized, string(resp.Status))
	if resp.Status != session.StatusAlreadyInitialized {
		return fail(testName, "second construct status %q", resp.Status)
	}

	st, err := client.Stats()
	if err != nil {
		return fail(testName, "stats failed: %v", err)
	}
	if st.Tiles != 3 {
		return fail(testName, "rules were replaced: %d tiles", st.Tiles)
	}
	return pass(testName, "second construct reported %q", resp.Status)
}

// TestStepBeforeConstruct checks an empty session refuses to step
func TestStepBeforeConstruct(serverAddr string) TestResult {
	const testName = "Step Before Construct"

	client, err := testclient.NewTestClient(uniqueName("early"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	resp, err := client.Step(1)
	if err != nil {
		return fail(testName, "step failed: %v", err)
	}
	if resp.OK || resp.Steps == nil || *resp.Steps != 0 {
		return fail(testName, "expected a refused step, got %+v", resp)
	}

	cells, err := client.ReadState()
	if err != nil {
		return fail(testName, "read_state failed: %v", err)
	}
	if len(cells) != 0 {
		return fail(testName, "expected no cells, got %d", len(cells))
	}
	return pass(testName, "step refused: %s", resp.Error)
}

// TestRejectedPayload checks a bad payload names its field and the session
// stays usable
func TestRejectedPayload(serverAddr string) TestResult {
	const testName = "Rejected Payload"

	client, err := testclient.NewTestClient(uniqueName("reject"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	logAction(testName, "Sending payload with a negative weight")
	resp, err := client.Construct([]byte(`{"constraints": [[0, 0, 1, 0]], "weights": [-1]}`))
	if err != nil {
		return fail(testName, "construct failed: %v", err)
	}
	logResult(testName, resp.Field == "weights", resp.Error)
	if resp.OK || resp.Field != "weights" {
		return fail(testName, "expected weights rejection, got %+v", resp)
	}

	resp, err = client.Construct([]byte(simplePayload))
	if err != nil || !resp.OK {
		return fail(testName, "valid construct after rejection failed: %v %+v", err, resp)
	}
	return pass(testName, "rejected with %q", resp.Error)
}

// TestUnknownOp checks unknown operations are answered, not dropped
func TestUnknownOp(serverAddr string) TestResult {
	const testName = "Unknown Op"

	client, err := testclient.NewTestClient(uniqueName("unknown"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(serverRequest("collapse_all"))
	if err != nil {
		return fail(testName, "request failed: %v", err)
	}
	if resp.OK || !strings.Contains(resp.Error, "unknown op") {
		return fail(testName, "expected unknown op error, got %+v", resp)
	}
	return pass(testName, "answered with %q", resp.Error)
}
