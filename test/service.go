package test

import (
	"net/http"

	"github.com/lawnchairsociety/wavefront/internal/database"
	"github.com/lawnchairsociety/wavefront/internal/testclient"
)

// =============================================================================
// Group 1: Service
// =============================================================================

// TestHealth checks the health endpoint answers
func TestHealth(serverAddr string) TestResult {
	const testName = "Health"

	var body struct {
		Status   string `json:"status"`
		Started  string `json:"started"`
		Sessions int    `json:"sessions"`
	}
	logAction(testName, "GET /healthz")
	code, err := testclient.GetJSON(serverAddr, "/healthz", &body)
	if err != nil {
		return fail(testName, "request failed: %v", err)
	}
	logResult(testName, code == http.StatusOK, body.Status)

	if code != http.StatusOK || body.Status != "ok" {
		return fail(testName, "got HTTP %d status %q", code, body.Status)
	}
	return pass(testName, "server up, started %s, %d live sessions", body.Started, body.Sessions)
}

// TestSessionRegistry checks a constructed session shows up in the registry
// listing. A server running without a registry passes with a note.
func TestSessionRegistry(serverAddr string) TestResult {
	const testName = "Session Registry"

	client, err := testclient.NewTestClient(uniqueName("registry"), serverAddr)
	if err != nil {
		return fail(testName, "connection failed: %v", err)
	}
	defer client.Close()

	if resp, err := client.Construct([]byte(simplePayload)); err != nil || !resp.OK {
		return fail(testName, "construct failed: %v %+v", err, resp)
	}
	st, err := client.Stats()
	if err != nil {
		return fail(testName, "stats failed: %v", err)
	}

	var body struct {
		Sessions []database.Session `json:"sessions"`
	}
	logAction(testName, "GET /api/v1/sessions")
	code, err := testclient.GetJSON(serverAddr, "/api/v1/sessions?limit=500", &body)
	if code == http.StatusServiceUnavailable {
		return pass(testName, "registry disabled on this server")
	}
	if err != nil {
		return fail(testName, "request failed: %v", err)
	}

	for _, s := range body.Sessions {
		if s.ID == st.ID {
			logResult(testName, true, "found "+s.ID)
			return pass(testName, "session %s listed as %s", s.ID, s.Status)
		}
	}
	return fail(testName, "session %s not in %d listed sessions", st.ID, len(body.Sessions))
}
