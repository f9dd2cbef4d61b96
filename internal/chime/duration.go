package chime

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrDuration is returned for unparseable duration values.
var ErrDuration = errors.New("invalid duration")

// ParseDuration reads a media length given as seconds (number or string),
// "MM:SS", "HH:MM:SS" (each optionally with fractional seconds), or a Go
// duration string such as "2.5s". nil yields zero.
func ParseDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case int:
		return seconds(float64(v))
	case int64:
		return seconds(float64(v))
	case float64:
		return seconds(v)
	case string:
		return parseDurationString(v)
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrDuration, raw)
}

func parseDurationString(s string) (time.Duration, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return 0, nil
	}

	if strings.Contains(text, ":") {
		parts := strings.Split(text, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("%w: %q", ErrDuration, s)
		}
		var total float64
		for i, part := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("%w: %q", ErrDuration, s)
			}
			// only the last component may be fractional
			if i < len(parts)-1 && n != math.Trunc(n) {
				return 0, fmt.Errorf("%w: %q", ErrDuration, s)
			}
			total = total*60 + n
		}
		return seconds(total)
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return seconds(n)
	}
	d, err := time.ParseDuration(text)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrDuration, s)
	}
	return d, nil
}

func seconds(n float64) (time.Duration, error) {
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %v", ErrDuration, n)
	}
	return time.Duration(n * float64(time.Second)), nil
}
