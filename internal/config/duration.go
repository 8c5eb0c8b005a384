package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Millis converts a millisecond field. Negative values and values that do
// not fit a time.Duration are rejected.
func Millis(path string, ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", path)
	}
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return 0, fmt.Errorf("%s: %d is too large", path, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
