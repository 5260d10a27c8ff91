package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/oriys/beacon/internal/cache"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/probes"
)

// probeOutcome is the kind-agnostic result of running a single monitor
// probe, ready to be folded into a domain.MonitorResultRecord.
type probeOutcome struct {
	IsUp           bool
	ResponseTimeMs *int64
	ErrorDetails   string
	Details        map[string]any
}

// runProbe dispatches m.Kind to the matching probe implementation.
// synthetic is nil-able: a synthetic monitor tick with no SyntheticRunner
// wired reports an error outcome rather than panicking.
func runProbe(ctx context.Context, m *domain.MonitorSpec, allowInternalTargets bool, c cache.Cache, synthetic probes.SyntheticRunner) probeOutcome {
	switch m.Kind {
	case domain.MonitorHTTP, domain.MonitorWebsite:
		return runHTTPProbe(ctx, m, allowInternalTargets, c)
	case domain.MonitorPing:
		return runPingProbe(ctx, m)
	case domain.MonitorPort:
		return runPortProbe(ctx, m)
	case domain.MonitorSSL:
		return runSSLProbe(ctx, m, c)
	case domain.MonitorSynthetic:
		return runSyntheticProbe(ctx, m, synthetic)
	default:
		return probeOutcome{IsUp: false, ErrorDetails: fmt.Sprintf("unknown monitor kind %q", m.Kind)}
	}
}

func runHTTPProbe(ctx context.Context, m *domain.MonitorSpec, allowInternalTargets bool, c cache.Cache) probeOutcome {
	var cfg domain.HTTPMonitorConfig
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &cfg); err != nil {
			return probeOutcome{IsUp: false, ErrorDetails: fmt.Sprintf("invalid http monitor config: %v", err)}
		}
	}
	cfg.AllowInternalTargets = cfg.AllowInternalTargets || allowInternalTargets

	result := probes.RunHTTP(ctx, m.Target, cfg)
	outcome := probeOutcome{
		IsUp:         result.IsUp,
		ErrorDetails: result.Error,
		Details: map[string]any{
			"status_code":  result.StatusCode,
			"body_snippet": result.BodySnippet,
		},
	}
	if result.ResponseTimeMs > 0 {
		rt := result.ResponseTimeMs
		outcome.ResponseTimeMs = &rt
	}

	if cfg.EnableSslCheck && strings.HasPrefix(strings.ToLower(m.Target), "https://") {
		if host := hostOf(m.Target); host != "" {
			ssl := probes.RunSSL(ctx, c, host, 443, cfg.SslWarningThresholdDays, cfg.SslCheckFrequencyHours)
			outcome.Details["ssl_warning"] = ssl.Warning
			outcome.Details["ssl_expired"] = !ssl.IsUp
			outcome.Details["ssl_days_until_expiry"] = ssl.DaysUntilExpiry
			if !ssl.IsUp {
				outcome.IsUp = false
				if outcome.ErrorDetails == "" {
					outcome.ErrorDetails = ssl.Error
				}
			}
		}
	}
	return outcome
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return target
	}
	return u.Hostname()
}

func runPingProbe(ctx context.Context, m *domain.MonitorSpec) probeOutcome {
	result := probes.RunPing(ctx, m.Target, 0)
	outcome := probeOutcome{IsUp: result.IsUp, ErrorDetails: result.Error}
	if result.ResponseTimeMs > 0 {
		rt := result.ResponseTimeMs
		outcome.ResponseTimeMs = &rt
	}
	return outcome
}

func runPortProbe(ctx context.Context, m *domain.MonitorSpec) probeOutcome {
	var cfg domain.PortMonitorConfig
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &cfg); err != nil {
			return probeOutcome{IsUp: false, ErrorDetails: fmt.Sprintf("invalid port monitor config: %v", err)}
		}
	}
	result := probes.RunPort(ctx, m.Target, cfg.Port, cfg.Protocol, cfg.ExpectClosed, cfg.TimeoutSeconds)
	outcome := probeOutcome{IsUp: result.IsUp, ErrorDetails: result.Error}
	if result.ResponseTimeMs > 0 {
		rt := result.ResponseTimeMs
		outcome.ResponseTimeMs = &rt
	}
	return outcome
}

func runSSLProbe(ctx context.Context, m *domain.MonitorSpec, c cache.Cache) probeOutcome {
	var cfg domain.SSLMonitorConfig
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &cfg); err != nil {
			return probeOutcome{IsUp: false, ErrorDetails: fmt.Sprintf("invalid ssl monitor config: %v", err)}
		}
	}
	result := probes.RunSSL(ctx, c, m.Target, cfg.Port, cfg.WarningThresholdDays, cfg.CheckFrequencyHours)
	outcome := probeOutcome{
		IsUp:         result.IsUp,
		ErrorDetails: result.Error,
		Details: map[string]any{
			"ssl_warning":           result.Warning,
			"ssl_expired":           !result.IsUp,
			"ssl_days_until_expiry": result.DaysUntilExpiry,
			"ssl_issuer":            result.Issuer,
		},
	}
	if result.ResponseTimeMs > 0 {
		rt := result.ResponseTimeMs
		outcome.ResponseTimeMs = &rt
	}
	return outcome
}

func runSyntheticProbe(ctx context.Context, m *domain.MonitorSpec, synthetic probes.SyntheticRunner) probeOutcome {
	if synthetic == nil {
		return probeOutcome{IsUp: false, ErrorDetails: "no synthetic runner configured for this worker"}
	}
	var cfg domain.SyntheticMonitorConfig
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &cfg); err != nil {
			return probeOutcome{IsUp: false, ErrorDetails: fmt.Sprintf("invalid synthetic monitor config: %v", err)}
		}
	}
	testID := cfg.TestID
	if testID == "" {
		testID = m.Target
	}
	result := probes.RunSynthetic(ctx, synthetic, testID)
	outcome := probeOutcome{
		IsUp:         result.IsUp,
		ErrorDetails: result.ErrorDetails,
		Details:      map[string]any{"report_url": result.ReportURL},
	}
	if result.ResponseTimeMs > 0 {
		rt := result.ResponseTimeMs
		outcome.ResponseTimeMs = &rt
	}
	return outcome
}
