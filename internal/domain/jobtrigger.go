package domain

import "github.com/oriys/beacon/internal/secrets"

// JobType distinguishes the two non-monitor execution kinds the dispatcher
// routes: Playwright synthetic-test suites and k6 load tests.
type JobType string

const (
	JobTypePlaywright JobType = "playwright"
	JobTypeK6         JobType = "k6"
)

// TestScript is one script within a Playwright job's test suite.
type TestScript struct {
	ID     string `json:"id"`
	Script string `json:"script"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// JobTrigger carries pre-resolved variables/secrets from the (external)
// trigger source. The core never re-reads resolvedVariables/resolvedSecrets
// from any other source of truth; ResolvedSecrets values are secrets.Masked
// so any incidental log or JSON dump of the trigger cannot leak plaintext —
// only the container executor's env-injection path calls Reveal.
type JobTrigger struct {
	JobID             string                    `json:"job_id"`
	RunID             string                    `json:"run_id"`
	JobType           JobType                   `json:"job_type"`
	OrganizationID    string                    `json:"organization_id"`
	ProjectID         string                    `json:"project_id"`
	TestScripts       []TestScript              `json:"test_scripts,omitempty"`
	ResolvedVariables map[string]string         `json:"resolved_variables,omitempty"`
	ResolvedSecrets   map[string]secrets.Masked `json:"resolved_secrets,omitempty"`
	Location          string                    `json:"location"`
	RetryLimit        int                       `json:"retry_limit,omitempty"`
}
