package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParsePollingPeriod resolves the runner's fixed period from either field.
//
// Accepted forms for raw:
//   - Go duration: "30s", "5m"
//   - cron interval descriptor: "@every 1m30s" (whole seconds, as robfig/cron rounds)
//
// Calendar specs ("*/5 * * * *", "@daily") are rejected: they do not define a
// fixed period.
func ParsePollingPeriod(raw string, seconds float64) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s != "" && seconds != 0 {
		return 0, fmt.Errorf("runner: set only one of polling_period and polling_period_seconds")
	}
	if s == "" {
		// NaN fails the first test.
		if !(seconds > 0) {
			return 0, fmt.Errorf("runner.polling_period_seconds: must be > 0")
		}
		if seconds >= float64(math.MaxInt64)/float64(time.Second) {
			return 0, fmt.Errorf("runner.polling_period_seconds: %g is too large", seconds)
		}
		d := time.Duration(seconds * float64(time.Second))
		if d <= 0 {
			return 0, fmt.Errorf("runner.polling_period_seconds: %g rounds to zero", seconds)
		}
		return d, nil
	}

	var d time.Duration
	if strings.HasPrefix(s, "@") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, fmt.Errorf("runner.polling_period: invalid descriptor %q: %w", raw, err)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("runner.polling_period: %q is a calendar schedule; use @every <duration>", raw)
		}
		d = every.Delay
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("runner.polling_period: invalid duration %q: %w", raw, err)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("runner.polling_period: must be > 0")
	}
	return d, nil
}
