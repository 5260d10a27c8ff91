package domain

import "encoding/json"

// K6Artifact lists the files k6 produces inside the container under
// /tmp/report, extracted to the host after the run completes.
type K6Artifact struct {
	SummaryJSON string `json:"summary_json,omitempty"` // path, host-relative
	IndexHTML   string                                                        `json:"index_html,omitempty"`
	MetricsJSON string                                                        `json:"metrics_json,omitempty"`
	ConsoleLog  string                                                        `json:"console_log,omitempty"`
	ReportHTML  string                                                        `json:"report_html,omitempty"`
}

// K6Threshold is one declared assertion's pass/fail outcome from summary.json.
type K6Threshold struct {
	OK bool `json:"ok"`
}

// K6Metric is one metric entry within summary.json, carrying zero or more
// named thresholds.
type K6Metric struct {
	Thresholds map[string]K6Threshold `json:"thresholds,omitempty"`
	Values     map[string]float64     `json:"values,omitempty"`
}

// K6ChecksMetric is the special "checks" metric, which additionally reports
// failed-check counts independent of threshold pass/fail.
type K6ChecksMetric struct {
	K6Metric
	Fails int64 `json:"fails"`
}

// K6Summary is the subset of k6's --summary-export JSON this module reads.
type K6Summary struct {
	Metrics map[string]json.RawMessage `json:"metrics"`
}

// K6Task is the input to runK6.
type K6Task struct {
	RunID    string       `json:"run_id"`
	Script   string       `json:"script"`
	TestID   string       `json:"test_id,omitempty"`
	Location LocationCode `json:"location"`
}

// K6Result is the output of runK6.
type K6Result struct {
	Success          bool   `json:"success"`
	TimedOut         bool   `json:"timed_out"`
	RunID            string `json:"run_id"`
	DurationMs       int64  `json:"duration_ms"`
	ThresholdsPassed bool   `json:"thresholds_passed"`
	ReportURL        string `json:"report_url,omitempty"`
	SummaryURL       string `json:"summary_url,omitempty"`
	ConsoleURL       string `json:"console_url,omitempty"`
	Error            string `json:"error,omitempty"`
	ConsoleOutput    string `json:"console_output,omitempty"`

	TotalRequests     int64 `json:"total_requests,omitempty"`
	FailedRequests    int64 `json:"failed_requests,omitempty"`
	RequestRateX100   int64 `json:"request_rate_x100,omitempty"`
	AvgResponseTimeMs int64 `json:"avg_response_time_ms,omitempty"`
	P95Ms             int64 `json:"p95_ms,omitempty"`
	P99Ms             int64 `json:"p99_ms,omitempty"`
	MaxVUs            int64 `json:"max_vus,omitempty"`
}
