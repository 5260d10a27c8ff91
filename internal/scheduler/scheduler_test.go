package scheduler

import (
	"testing"
	"time"
)

func TestNextRunAtEveryMinute(t *testing.T) {
	after := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	next, err := NextRunAt("* * * * *", after)
	if err != nil {
		t.Fatalf("NextRunAt: %v", err)
	}
	want := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", next, want)
	}
}

func TestNextRunAtInvalidExpression(t *testing.T) {
	if _, err := NextRunAt("not a cron expression", time.Now()); err == nil {
		t.Error("expected an error for an invalid cron expression")
	}
}

func TestNextRunAtEmptyExpression(t *testing.T) {
	if _, err := NextRunAt("", time.Now()); err == nil {
		t.Error("expected an error for an empty cron expression")
	}
}
