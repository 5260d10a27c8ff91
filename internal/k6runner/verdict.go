package k6runner

import (
	"encoding/json"
	"os"

	"github.com/oriys/beacon/internal/domain"
)

// verdict is the resolved pass/fail outcome of a completed k6 invocation,
// before it is folded into a domain.K6Result.
type verdict struct {
	thresholdsPassed bool
	headline         headlineMetrics
}

type headlineMetrics struct {
	totalRequests     int64
	failedRequests    int64
	requestRateX100   int64
	avgResponseTimeMs int64
	p95Ms             int64
	p99Ms             int64
	maxVUs            int64
}

// computeVerdict applies the verdict rules in priority order:
//  1. timedOut always fails.
//  2. exit code 99 is k6's canonical "thresholds failed" signal.
//  3. if summary.json has no metrics, fall back to exitCode == 0.
//  4. otherwise scan every metric's thresholds for any ok == false.
//  5. a nonzero checks.fails always fails, even if thresholds passed.
func computeVerdict(timedOut bool, exitCode int, summaryPath string) (bool, headlineMetrics) {
	if timedOut {
		return false, headlineMetrics{}
	}
	if exitCode == domain.ExitK6ThresholdFail {
		summary, err := readSummary(summaryPath)
		metrics := headlineMetrics{}
		if err == nil {
			metrics = extractHeadline(summary)
		}
		return false, metrics
	}

	summary, err := readSummary(summaryPath)
	if err != nil || len(summary.Metrics) == 0 {
		return exitCode == 0, headlineMetrics{}
	}

	metrics := extractHeadline(summary)

	passed := true
	for _, raw := range summary.Metrics {
		var m domain.K6Metric
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		for _, th := range m.Thresholds {
			if !th.OK {
				passed = false
			}
		}
	}

	if checks, ok := summary.Metrics["checks"]; ok {
		var cm domain.K6ChecksMetric
		if err := json.Unmarshal(checks, &cm); err == nil && cm.Fails > 0 {
			passed = false
		}
	}

	return passed, metrics
}

func readSummary(path string) (domain.K6Summary, error) {
	var s domain.K6Summary
	if path == "" {
		return s, os.ErrNotExist
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	return s, nil
}

func extractHeadline(summary domain.K6Summary) headlineMetrics {
	var out headlineMetrics

	if raw, ok := summary.Metrics["http_reqs"]; ok {
		var m domain.K6Metric
		if json.Unmarshal(raw, &m) == nil {
			out.totalRequests = int64(m.Values["count"])
			out.requestRateX100 = int64(m.Values["rate"] * 100)
		}
	}
	if raw, ok := summary.Metrics["http_req_failed"]; ok {
		var m domain.K6Metric
		if json.Unmarshal(raw, &m) == nil {
			out.failedRequests = int64(m.Values["fails"])
		}
	}
	if raw, ok := summary.Metrics["http_req_duration"]; ok {
		var m domain.K6Metric
		if json.Unmarshal(raw, &m) == nil {
			out.avgResponseTimeMs = int64(m.Values["avg"])
			out.p95Ms = int64(m.Values["p(95)"])
			out.p99Ms = int64(m.Values["p(99)"])
		}
	}
	if raw, ok := summary.Metrics["vus_max"]; ok {
		var m domain.K6Metric
		if json.Unmarshal(raw, &m) == nil {
			out.maxVUs = int64(m.Values["value"])
		}
	}

	return out
}
