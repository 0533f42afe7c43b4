package secrets

import (
	"fmt"
	"time"
)

const (
	TenMinutes = 10 * time.Minute
	OneDay     = 24 * time.Hour
	SevenDays  = 7 * 24 * time.Hour
)

// durations maps every accepted token to its lifetime. ISO 8601 forms are
// accepted alongside the short ones.
var durations = map[string]time.Duration{
	"10m":   TenMinutes,
	"PT10M": TenMinutes,
	"24h":   OneDay,
	"PT24H": OneDay,
	"7d":    SevenDays,
	"P7D":   SevenDays,
}

// ParseDuration resolves a duration token. The empty token is not accepted
// here; callers substitute their default first.
func ParseDuration(token string) (time.Duration, error) {
	d, ok := durations[token]
	if !ok {
		return 0, fmt.Errorf("%w: %q must be one of 10m, 24h, 7d", ErrInvalidDuration, token)
	}
	return d, nil
}
