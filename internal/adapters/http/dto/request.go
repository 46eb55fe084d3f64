package dto

import (
	"strconv"
	"strings"
	"time"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// TimeoutParam is the query parameter that overrides the bus send timeout.
const TimeoutParam = "timeout"

// ParseTimeout parses the timeout query parameter. Both Go durations ("45s",
// "1m30s") and bare integers, read as milliseconds, are accepted. An empty
// value returns zero.
func ParseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	var d time.Duration
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return 0, &domain.ValidationError{
				Fields: map[string]string{TimeoutParam: "must be a duration or milliseconds"},
			}
		}
		d = parsed
	}

	if d <= 0 {
		return 0, &domain.ValidationError{
			Fields: map[string]string{TimeoutParam: "must be positive"},
		}
	}
	return d, nil
}

// EffectiveTimeout returns the send timeout for a request: the override when
// it exceeds the default, capped at maxTimeout, and the default otherwise.
func EffectiveTimeout(override, def, maxTimeout time.Duration) time.Duration {
	if override <= def {
		return def
	}
	if maxTimeout > 0 && override > maxTimeout {
		return maxTimeout
	}
	return override
}
