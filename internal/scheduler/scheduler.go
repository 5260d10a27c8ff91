// Package scheduler computes cron next-run times for monitor bookkeeping.
// There is no internal ticker here: scheduling decisions (what's due, when
// to enqueue next) are an external responsibility per the Non-goals; this
// package only answers "given a cron expression and a point in time, when
// does it next fire" so the dispatcher can stamp the monitor's informational
// nextRunAt field.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRunAt parses cronExpr and returns the next fire time strictly after
// after. It is pure bookkeeping: the dispatcher calls this after every
// dispatch to refresh nextRunAt, never to drive an internal timer.
func NextRunAt(cronExpr string, after time.Time) (time.Time, error) {
	if cronExpr == "" {
		return time.Time{}, fmt.Errorf("cron expression is required")
	}
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(after), nil
}
