//go:build e2e

// Package e2e contains end-to-end tests that launch the real server binary
// and exercise realistic scenarios: synchronous analysis, background tickets
// for oversized texts, batch jobs, and the SSE streaming endpoint.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type runningServer struct {
	cmd       *exec.Cmd
	baseURL   string
	logLinesC chan string
}

// buildAndStartServer builds the cmd/leselix-server binary into a temp dir,
// launches it on a random free port with the provided flags, and waits until
// it is ready to accept HTTP requests.
// Purpose: provide a hermetic, real-binary harness for E2E tests without
// relying on the current working directory or long-lived processes.
// Expectations:
//   - Returns only after both the readiness log appears and an HTTP probe
//     against /health succeeds.
//   - The test cleanup will terminate the child process.
func buildAndStartServer(t *testing.T, extraEnv ...string) *runningServer {
	t.Helper()

	// Determine an available TCP port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	_, port, _ := net.SplitHostPort(addr)

	// Build the server binary to a temp location.
	tmpDir := t.TempDir()
	exe := filepath.Join(tmpDir, exeName("leselix-server"))
	build := exec.Command("go", "build", "-o", exe, "leselix/cmd/leselix-server")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	cmd := exec.Command(exe, "--http_addr=:"+port, "--log_level=info")
	cmd.Env = append(os.Environ(), extraEnv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("StderrPipe: %v", err)
	}

	logC := make(chan string, 1024)
	go scanLines(stdout, logC)
	go scanLines(stderr, logC)

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Wait for readiness line and then verify HTTP readiness.
	_ = waitForReady(t, logC, "leselix listening")
	base := fmt.Sprintf("http://127.0.0.1:%s", port)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok := false
	for ctx.Err() == nil {
		resp, err := client.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			ok = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !ok {
		_ = cmd.Process.Kill()
		t.Fatalf("server did not become ready (HTTP check failed)")
	}

	rs := &runningServer{cmd: cmd, baseURL: base, logLinesC: logC}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return rs
}

// scanLines copies lines from the given reader (stdout/stderr of the child
// process) into a channel so tests can observe server logs in near real-time.
func scanLines(r io.ReadCloser, out chan<- string) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		out <- s.Text()
	}
}

// waitForReady blocks until a log line containing the given needle appears or
// a short timeout elapses. It is used as a first readiness signal before
// probing the HTTP port.
func waitForReady(t *testing.T, logC <-chan string, needle string) bool {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case line := <-logC:
			if strings.Contains(line, needle) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// exeName returns the executable name for the current OS (adds .exe on Windows).
func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func postJSON(t *testing.T, client *http.Client, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return resp, m
}

// --- Tests ---

// TestE2E_AnalyzeRoundTrip sends a short Norwegian text and verifies the
// complete analysis record shape on the wire: scores, classification in
// Norwegian, statistics, and recommendations.
func TestE2E_AnalyzeRoundTrip(t *testing.T) {
	rs := buildAndStartServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, m := postJSON(t, client, rs.baseURL+"/analyze", map[string]any{
		"text": "Dette er en enkel tekst. Den har korte setninger og vanlige ord.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, m)
	}
	lix, ok := m["lix"].(map[string]any)
	if !ok {
		t.Fatalf("missing lix block: %v", m)
	}
	if _, ok := lix["score"]; !ok {
		t.Fatalf("lix block missing score: %v", lix)
	}
	if cat, _ := lix["category"].(string); cat == "" {
		t.Fatalf("lix block missing category: %v", lix)
	}
	if _, ok := m["statistics"]; !ok {
		t.Fatalf("missing statistics block: %v", m)
	}
	if _, ok := m["recommendations"]; !ok {
		t.Fatalf("missing recommendations block: %v", m)
	}
}

// TestE2E_EmptyTextRejected verifies the InvalidInput wire contract.
func TestE2E_EmptyTextRejected(t *testing.T) {
	rs := buildAndStartServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, m := postJSON(t, client, rs.baseURL+"/analyze", map[string]any{"text": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if m["kind"] != "invalid_input" {
		t.Fatalf("kind = %v", m["kind"])
	}
}

// TestE2E_BackgroundTicketAndPoll lowers the background threshold via the
// environment, submits an oversized text, and polls the ticket endpoint
// until the task completes with an inline record.
func TestE2E_BackgroundTicketAndPoll(t *testing.T) {
	rs := buildAndStartServer(t, "BACKGROUND_PROCESSING_THRESHOLD=100")
	client := &http.Client{Timeout: 5 * time.Second}

	long := strings.Repeat("Dette er en setning som gjentas for aa fylle opp teksten. ", 5)
	resp, ticket := postJSON(t, client, rs.baseURL+"/analyze", map[string]any{"text": long})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %v)", resp.StatusCode, ticket)
	}
	endpoint, _ := ticket["polling_endpoint"].(string)
	if endpoint == "" {
		t.Fatalf("ticket missing polling_endpoint: %v", ticket)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		r, err := client.Get(rs.baseURL + endpoint)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		var state map[string]any
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		r.Body.Close()
		if state["status"] == "completed" {
			if _, ok := state["result"]; !ok {
				t.Fatalf("completed task missing inline result: %v", state)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed: %v", state)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestE2E_StreamChunks exercises the SSE endpoint with a multi-paragraph
// text and checks progress monotonicity plus the terminal event.
func TestE2E_StreamChunks(t *testing.T) {
	rs := buildAndStartServer(t)
	client := &http.Client{Timeout: 30 * time.Second}

	paragraphs := make([]string, 8)
	for i := range paragraphs {
		paragraphs[i] = "Her er et avsnitt som skal analyseres i sin egen del av strømmen."
	}
	raw, _ := json.Marshal(map[string]any{"text": strings.Join(paragraphs, "\n\n")})

	resp, err := client.Post(rs.baseURL+"/analyze/stream", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lastProgress := -1.0
	sawTerminal := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev["processing_completed"] == true {
			sawTerminal = true
			continue
		}
		if p, ok := ev["progress"].(float64); ok {
			if p < lastProgress {
				t.Fatalf("progress went backwards: %v -> %v", lastProgress, p)
			}
			lastProgress = p
		}
	}
	if lastProgress != 100 {
		t.Fatalf("final progress = %v, want 100", lastProgress)
	}
	if !sawTerminal {
		t.Fatalf("terminal completion event never arrived")
	}
}

// TestE2E_MetricsEndpoint validates the /metrics endpoint for proper status,
// content-type, and presence of the service counters.
func TestE2E_MetricsEndpoint(t *testing.T) {
	rs := buildAndStartServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	// Generate one request so the counter exists before scraping.
	_, _ = postJSON(t, client, rs.baseURL+"/analyze", map[string]any{"text": "Hei på deg."})

	resp, err := client.Get(rs.baseURL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content-type: %q", ct)
	}
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte("lix_requests_total")) {
		t.Fatalf("expected lix_requests_total in /metrics output")
	}
}
