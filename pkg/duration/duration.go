// Package duration provides duration parsing that extends Go's standard
// format with day and week units, used for retention windows like "14d".
package duration

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// Parse parses a duration string. In addition to everything
// time.ParseDuration accepts, the units "d" (days) and "w" (weeks) are
// recognised, and segments may be mixed: "1w2d12h".
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	// Fast path: plain Go syntax.
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, nil
	}

	neg := false
	if strings.HasPrefix(trimmed, "-") {
		neg = true
		trimmed = trimmed[1:]
	}

	var total time.Duration
	rest := trimmed
	for rest != "" {
		numEnd := 0
		for numEnd < len(rest) && (unicode.IsDigit(rune(rest[numEnd])) || rest[numEnd] == '.') {
			numEnd++
		}
		unitEnd := numEnd
		for unitEnd < len(rest) && unicode.IsLetter(rune(rest[unitEnd])) {
			unitEnd++
		}
		if numEnd == 0 || unitEnd == numEnd {
			return 0, fmt.Errorf("duration: invalid format %q", s)
		}

		num := rest[:numEnd]
		unit := rest[numEnd:unitEnd]
		rest = rest[unitEnd:]

		var seg time.Duration
		switch strings.ToLower(unit) {
		case "d", "day", "days":
			parsed, err := time.ParseDuration(num + "h")
			if err != nil {
				return 0, fmt.Errorf("duration: invalid value %q: %w", num, err)
			}
			seg = parsed * 24
		case "w", "wk", "week", "weeks":
			parsed, err := time.ParseDuration(num + "h")
			if err != nil {
				return 0, fmt.Errorf("duration: invalid value %q: %w", num, err)
			}
			seg = parsed * 24 * 7
		default:
			parsed, err := time.ParseDuration(num + strings.ToLower(unit))
			if err != nil {
				return 0, fmt.Errorf("duration: unknown unit %q in %q", unit, s)
			}
			seg = parsed
		}
		total += seg
	}

	if neg {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration compactly, preferring day/week units for large
// values: 36h → "1d12h", 14 days → "2w".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}

	var b strings.Builder
	if w := d / Week; w > 0 {
		fmt.Fprintf(&b, "%dw", w)
		d -= w * Week
	}
	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if d > 0 {
		b.WriteString(d.String())
	}
	return neg + b.String()
}
