// Package billing defines the pre-flight billing gate the regional worker
// consults before launching any job or probe. The concrete accounting
// logic (usage metering, plan limits) lives in the external billing
// system; this package only defines the contract and a permissive default
// so the worker functions correctly with no billing system configured.
package billing

import "context"

// Gate decides whether a run is allowed to execute.
type Gate interface {
	// Allow reports whether organizationID is permitted to run another
	// job/probe right now. A false result with a non-empty reason is
	// surfaced as the run's blocked errorDetails.
	Allow(ctx context.Context, organizationID string) (allowed bool, reason string, err error)
}

// AllowAll is the zero-configuration default: every organization is always
// allowed to run. Used when no external billing system is wired up.
type AllowAll struct{}

func (AllowAll) Allow(ctx context.Context, organizationID string) (bool, string, error) {
	return true, "", nil
}
