package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseQuotaResetDelay parses compound duration strings of the shape
// upstream quota headers actually emit, e.g. "2h21m25.8s", "45s", "3m", or a
// bare "90" (seconds). time.ParseDuration rejects some of these forms (a
// unitless trailing number, or fractional seconds mixed with integer
// minutes in certain upstream builds), so this is a small dedicated parser
// rather than a reuse of the standard one.
func ParseQuotaResetDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("ratelimit: empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(v * float64(time.Second)), nil
	}

	var total time.Duration
	i := 0
	consumed := false
	for i < len(s) {
		start := i
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("ratelimit: invalid duration %q", s)
		}
		numStr := s[start:i]
		unitStart := i
		for i < len(s) && !(s[i] >= '0' && s[i] <= '9') {
			i++
		}
		unit := s[unitStart:i]
		v, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("ratelimit: invalid duration %q: %w", s, err)
		}
		switch unit {
		case "h":
			total += time.Duration(v * float64(time.Hour))
		case "m":
			total += time.Duration(v * float64(time.Minute))
		case "s":
			total += time.Duration(v * float64(time.Second))
		case "ms":
			total += time.Duration(v * float64(time.Millisecond))
		default:
			return 0, fmt.Errorf("ratelimit: unknown unit %q in %q", unit, s)
		}
		consumed = true
	}
	if !consumed {
		return 0, fmt.Errorf("ratelimit: invalid duration %q", s)
	}
	return total, nil
}
