package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is returned when a schedule's cron expression does not
// parse as a classic 5-field expression.
var ErrInvalidCron = errors.New("invalid cron expression")

var cronParser = cron.ParseStandard

// ValidateCronExpr checks a 5-field cron expression (minute, hour,
// day-of-month, month, day-of-week). Seconds fields and descriptors like
// @hourly are rejected so every stored expression has one canonical form.
func ValidateCronExpr(expr string) error {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" || strings.HasPrefix(trimmed, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	if len(strings.Fields(trimmed)) != 5 {
		return fmt.Errorf("%w: %q, expected 5 fields", ErrInvalidCron, expr)
	}
	if _, err := cronParser(trimmed); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return nil
}

// NextRun computes the next fire time of a cron expression after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return sched.Next(from), nil
}
