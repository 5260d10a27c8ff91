package domain

import (
	"encoding/json"
	"time"
)

// MonitorKind enumerates the checks a MonitorSpec can run.
type MonitorKind string

const (
	MonitorHTTP      MonitorKind = "http"
	MonitorWebsite   MonitorKind = "website"
	MonitorPing      MonitorKind = "ping"
	MonitorPort      MonitorKind = "port"
	MonitorSSL       MonitorKind = "ssl"
	MonitorSynthetic MonitorKind = "synthetic"
)

// MonitorStatus is the aggregate status maintained exclusively by the
// aggregator.
type MonitorStatus string

const (
	MonitorPending MonitorStatus = "pending"
	MonitorPaused  MonitorStatus = "paused"
	MonitorUp      MonitorStatus = "up"
	MonitorDown    MonitorStatus = "down"
	MonitorError   MonitorStatus = "error"
)

// AggregateStrategy controls how per-location results combine into the
// monitor's aggregate status.
type AggregateStrategy string

const (
	StrategyAll      AggregateStrategy = "all"
	StrategyAny      AggregateStrategy = "any"
	StrategyMajority AggregateStrategy = "majority"
)

// LocationConfig controls which regions a monitor runs from and how their
// results combine.
type LocationConfig struct {
	Enabled   bool                                                                         `json:"enabled"`
	Locations []LocationCode                                                               `json:"locations,omitempty"`
	Threshold int               `json:"threshold,omitempty"` // 0..100, used by "majority"
	Strategy  AggregateStrategy                                                            `json:"strategy,omitempty"`
}

// EffectiveLocations resolves the set of locations a monitor tick must fan
// out to. Disabled location filtering collapses to the single implicit
// primary location.
func (lc LocationConfig) EffectiveLocations() []LocationCode {
	if !lc.Enabled || len(lc.Locations) == 0 {
		return []LocationCode{DefaultLocation}
	}
	out := make([]LocationCode, 0, len(lc.Locations))
	seen := make(map[LocationCode]bool, len(lc.Locations))
	for _, l := range lc.Locations {
		if !l.IsValid() || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	if len(out) == 0 {
		return []LocationCode{DefaultLocation}
	}
	return out
}

func (lc LocationConfig) EffectiveStrategy() AggregateStrategy {
	switch lc.Strategy {
	case StrategyAll, StrategyAny, StrategyMajority:
		return lc.Strategy
	default:
		return StrategyMajority
	}
}

func (lc LocationConfig) EffectiveThreshold() int {
	if lc.Threshold <= 0 || lc.Threshold > 100 {
		return 50
	}
	return lc.Threshold
}

// AlertConfig controls alert-gate debounce behavior for a monitor.
type AlertConfig struct {
	Enabled              bool `json:"enabled"`
	AlertOnFailure       bool `json:"alert_on_failure"`
	AlertOnRecovery      bool `json:"alert_on_recovery"`
	AlertOnSslExpiration bool `json:"alert_on_ssl_expiration"`
	FailureThreshold     int  `json:"failure_threshold"`
	RecoveryThreshold    int  `json:"recovery_threshold"`
}

func (ac AlertConfig) EffectiveFailureThreshold() int {
	if ac.FailureThreshold <= 0 {
		return 1
	}
	return ac.FailureThreshold
}

func (ac AlertConfig) EffectiveRecoveryThreshold() int {
	if ac.RecoveryThreshold <= 0 {
		return 1
	}
	return ac.RecoveryThreshold
}

// MonitorSpec is owned by the (external) REST surface. The core only reads
// target/kind/config fields and mutates Status/LastCheckAt/LastStatusChangeAt/
// NextRunAt.
type MonitorSpec struct {
	ID             string                                                                `json:"id"`
	OrganizationID string                                                                `json:"organization_id,omitempty"`
	ProjectID      string                                                                `json:"project_id,omitempty"`
	Name           string                                                                `json:"name"`
	Kind           MonitorKind                                                           `json:"kind"`
	Target         string                                                                `json:"target"`
	Config         json.RawMessage `json:"config,omitempty"` // kind-specific parameters
	Location       LocationConfig                                                        `json:"location_config"`
	Alert          AlertConfig                                                           `json:"alert_config"`
	CronExpr       string                                                                `json:"cron_expression,omitempty"`

	Status             MonitorStatus                                                                     `json:"status"`
	LastCheckAt        *time.Time                                                                        `json:"last_check_at,omitempty"`
	LastStatusChangeAt *time.Time                                                                        `json:"last_status_change_at,omitempty"`
	LastRunAt          *time.Time                                                                        `json:"last_run_at,omitempty"`
	NextRunAt          *time.Time    `json:"next_run_at,omitempty"` // informational only, see Non-goals

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HTTPMonitorConfig is the kind-specific Config payload for http/website monitors.
type HTTPMonitorConfig struct {
	Method                       string            `json:"method,omitempty"`
	ExpectedStatus               string            `json:"expected_status,omitempty"`
	Body                         string            `json:"body,omitempty"`
	Headers                      map[string]string `json:"headers,omitempty"`
	TimeoutSeconds               int               `json:"timeout_seconds,omitempty"`
	KeywordInBody                string            `json:"keyword_in_body,omitempty"`
	KeywordInBodyShouldBePresent *bool             `json:"keyword_in_body_should_be_present,omitempty"`
	AllowInternalTargets         bool              `json:"allow_internal_targets,omitempty"`
	EnableSslCheck               bool              `json:"enable_ssl_check,omitempty"`
	SslWarningThresholdDays      int               `json:"ssl_warning_threshold_days,omitempty"`
	SslCheckFrequencyHours       int               `json:"ssl_check_frequency_hours,omitempty"`
}

// PortMonitorConfig is the kind-specific Config payload for port monitors.
type PortMonitorConfig struct {
	Port           int                                           `json:"port"`
	Protocol       string `json:"protocol,omitempty"` // tcp|udp
	ExpectClosed   bool                                          `json:"expect_closed,omitempty"`
	TimeoutSeconds int                                           `json:"timeout_seconds,omitempty"`
}

// SSLMonitorConfig is the kind-specific Config payload for standalone ssl monitors.
type SSLMonitorConfig struct {
	Port                 int `json:"port,omitempty"`
	WarningThresholdDays int `json:"warning_threshold_days,omitempty"`
	CheckFrequencyHours  int `json:"check_frequency_hours,omitempty"`
}

// SyntheticMonitorConfig is the kind-specific Config payload for synthetic monitors.
type SyntheticMonitorConfig struct {
	TestID string `json:"test_id"`
}
