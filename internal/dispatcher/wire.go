package dispatcher

import (
	"encoding/json"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/observability"
	"github.com/oriys/beacon/internal/secrets"
)

// MonitorJob is the wire shape enqueued to monitor-{location}.
type MonitorJob struct {
	MonitorID         string                `json:"monitorId"`
	Type              domain.MonitorKind    `json:"type"`
	Target            string                `json:"target"`
	Config            json.RawMessage       `json:"config,omitempty"`
	ExecutionLocation domain.LocationCode   `json:"executionLocation"`
	ExecutionGroupID  string                `json:"executionGroupId"`
	ExpectedLocations []domain.LocationCode `json:"expectedLocations"`
	RetryLimit        int                   `json:"retryLimit,omitempty"`

	Trace observability.TraceContext `json:"trace,omitempty"`
}

// PlaywrightJob is the wire shape enqueued to playwright-global.
type PlaywrightJob struct {
	RunID          string                    `json:"runId"`
	JobID          string                    `json:"jobId"`
	TestScripts    []domain.TestScript       `json:"testScripts"`
	Trigger        string                    `json:"trigger"` // "schedule" | "manual"
	OrganizationID string                    `json:"organizationId"`
	ProjectID      string                    `json:"projectId"`
	Variables      map[string]string         `json:"variables,omitempty"`
	Secrets        map[string]secrets.Masked `json:"secrets,omitempty"`
	JobType        domain.JobType            `json:"jobType"`

	Trace observability.TraceContext `json:"trace,omitempty"`
}

// K6Job is the wire shape enqueued to k6-{location} / k6-global.
type K6Job struct {
	RunID          string              `json:"runId"`
	JobID          string              `json:"jobId,omitempty"`
	TestID         string              `json:"testId"`
	Script         string              `json:"script"`
	Tests          []domain.TestScript `json:"tests,omitempty"`
	OrganizationID string              `json:"organizationId"`
	ProjectID      string              `json:"projectId"`
	Location       domain.LocationCode `json:"location"`
	JobType        domain.JobType      `json:"jobType"`

	Trace observability.TraceContext `json:"trace,omitempty"`
}
