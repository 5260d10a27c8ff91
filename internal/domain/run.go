package domain

import "time"

// RunStatus is the lifecycle of a single RunRecord.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
	RunBlocked RunStatus = "blocked"
)

// RunRecord is created by the dispatcher before enqueue and mutated only by
// the worker that owns its execution.
type RunRecord struct {
	RunID        string            `json:"run_id"`
	JobID        string            `json:"job_id,omitempty"`
	Location     LocationCode      `json:"location"`
	Status       RunStatus         `json:"status"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMs   int64             `json:"duration_ms,omitempty"`
	ReportURL    string            `json:"report_url,omitempty"`
	LogsURL      string            `json:"logs_url,omitempty"`
	ErrorDetails string            `json:"error_details,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ResultStatus is the outcome of a single-location probe/execution.
type ResultStatus string

const (
	ResultUp      ResultStatus = "up"
	ResultDown    ResultStatus = "down"
	ResultTimeout ResultStatus = "timeout"
	ResultError   ResultStatus = "error"
)

// MonitorResultRecord is append-only per (MonitorID, Location) series.
type MonitorResultRecord struct {
	MonitorID               string         `json:"monitor_id"`
	Location                LocationCode   `json:"location"`
	CheckedAt               time.Time      `json:"checked_at"`
	Status                  ResultStatus   `json:"status"`
	IsUp                    bool           `json:"is_up"`
	ResponseTimeMs          *int64         `json:"response_time_ms,omitempty"`
	Details                 map[string]any `json:"details,omitempty"`
	ExecutionGroupID        string         `json:"execution_group_id,omitempty"`
	ConsecutiveFailureCount int            `json:"consecutive_failure_count"`
	ConsecutiveSuccessCount int            `json:"consecutive_success_count"`
	AlertsSentForFailure    int            `json:"alerts_sent_for_failure"`
	AlertsSentForRecovery   int            `json:"alerts_sent_for_recovery"`
	IsStatusChange          bool           `json:"is_status_change"`
}

// NextCounters computes the updated consecutive-run counters for a new
// result, given the previous result in the same (monitorId, location)
// series. Counters reset on an isUp flip.
func NextCounters(prev *MonitorResultRecord, isUp bool) (failureCount, successCount int) {
	if prev == nil {
		if isUp {
			return 0, 1
		}
		return 1, 0
	}
	if isUp {
		if prev.IsUp {
			return 0, prev.ConsecutiveSuccessCount + 1
		}
		return 0, 1
	}
	if !prev.IsUp {
		return prev.ConsecutiveFailureCount + 1, 0
	}
	return 1, 0
}
