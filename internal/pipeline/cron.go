package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// errNoNextRun is returned when a schedule never fires, e.g. "0 0 31 2 *".
var errNoNextRun = errors.New("schedule has no future run")

// ParseCron parses a standard 5-field cron expression ("minute hour
// day-of-month month day-of-week") or a descriptor such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// ValidateCron reports whether expr is a valid cron expression.
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}

func nextRun(sched cron.Schedule, after time.Time) (time.Time, error) {
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, errNoNextRun
	}
	return next, nil
}
