package k6runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/beacon/internal/domain"
)

func writeSummary(t *testing.T, dir string, metrics map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, "summary.json")
	raw, err := json.Marshal(map[string]any{"metrics": metrics})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	return path
}

func TestComputeVerdictTimedOutAlwaysFails(t *testing.T) {
	passed, _ := computeVerdict(true, 0, "")
	if passed {
		t.Error("expected timed-out run to fail regardless of exit code")
	}
}

func TestComputeVerdictExitCode99IsThresholdFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeSummary(t, dir, map[string]any{
		"http_req_duration": map[string]any{
			"thresholds": map[string]any{"p(95)<500": map[string]any{"ok": false}},
			"values":     map[string]any{"avg": 120.0, "p(95)": 900.0, "p(99)": 1200.0},
		},
	})
	passed, headline := computeVerdict(false, domain.ExitK6ThresholdFail, path)
	if passed {
		t.Error("expected exit code 99 to always fail the verdict")
	}
	if headline.p95Ms != 900 {
		t.Errorf("expected p95Ms=900 extracted even on threshold failure, got %d", headline.p95Ms)
	}
}

func TestComputeVerdictNoSummaryFallsBackToExitCode(t *testing.T) {
	passed, _ := computeVerdict(false, 0, "/nonexistent/summary.json")
	if !passed {
		t.Error("expected missing summary with exit 0 to pass")
	}
	passed, _ = computeVerdict(false, 1, "/nonexistent/summary.json")
	if passed {
		t.Error("expected missing summary with nonzero exit to fail")
	}
}

func TestComputeVerdictThresholdPassButChecksFail(t *testing.T) {
	dir := t.TempDir()
	path := writeSummary(t, dir, map[string]any{
		"http_req_duration": map[string]any{
			"thresholds": map[string]any{"p(95)<500": map[string]any{"ok": true}},
			"values":     map[string]any{"avg": 50.0, "p(95)": 200.0, "p(99)": 300.0},
		},
		"checks": map[string]any{
			"fails": 3,
		},
	})
	passed, _ := computeVerdict(false, 0, path)
	if passed {
		t.Error("expected nonzero checks.fails to fail the overall verdict even when thresholds pass")
	}
}

func TestComputeVerdictAllThresholdsPass(t *testing.T) {
	dir := t.TempDir()
	path := writeSummary(t, dir, map[string]any{
		"http_req_duration": map[string]any{
			"thresholds": map[string]any{"p(95)<500": map[string]any{"ok": true}},
			"values":     map[string]any{"avg": 50.0, "p(95)": 200.0, "p(99)": 300.0},
		},
		"http_reqs": map[string]any{
			"values": map[string]any{"count": 1000.0, "rate": 33.3},
		},
		"checks": map[string]any{
			"fails": 0,
		},
	})
	passed, headline := computeVerdict(false, 0, path)
	if !passed {
		t.Error("expected all-passing summary to pass")
	}
	if headline.totalRequests != 1000 {
		t.Errorf("expected totalRequests=1000, got %d", headline.totalRequests)
	}
}

func TestPortPoolNoRangeReturnsEphemeralPort(t *testing.T) {
	pool := NewPortPool("127.0.0.1", 0, 0)
	port, release, err := pool.Acquire()
	if err != nil {
		t.Fatalf("acquire with no range configured: %v", err)
	}
	if port != 0 {
		t.Errorf("expected ephemeral port 0 with no range configured, got %d", port)
	}
	release()
}
