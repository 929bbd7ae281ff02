// Package bytesize provides human-readable byte size parsing and formatting.
// Units are binary (1024-based) regardless of spelling: "5MB", "5MiB" and
// "5 mb" all mean 5*1024*1024 bytes. A bare number means bytes.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size represents a byte count.
type Size int64

// Common size constants (binary base).
const (
	B   Size = 1
	KiB Size = 1024
	MiB Size = 1024 * KiB
	GiB Size = 1024 * MiB
	TiB Size = 1024 * GiB
)

// Parse parses a human-readable byte size string. Integer and floating-point
// values are accepted, with an optional unit suffix; no unit means bytes.
//
//	Parse("64KiB") → 65536
//	Parse("1.5 GB") → 1610612736
//	Parse("1048576") → 1048576
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split the trailing unit from the numeric part.
	i := len(trimmed)
	for i > 0 {
		c := trimmed[i-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		i--
	}
	numPart := strings.TrimSpace(trimmed[:i])
	unitPart := strings.TrimSpace(trimmed[i:])

	if numPart == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", numPart, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("bytesize: negative size %q", s)
	}

	mult, err := unitMultiplier(unitPart)
	if err != nil {
		return 0, err
	}
	return Size(value * float64(mult)), nil
}

func unitMultiplier(unit string) (Size, error) {
	switch strings.ToLower(unit) {
	case "", "b", "byte", "bytes":
		return B, nil
	case "k", "kb", "kib":
		return KiB, nil
	case "m", "mb", "mib":
		return MiB, nil
	case "g", "gb", "gib":
		return GiB, nil
	case "t", "tb", "tib":
		return TiB, nil
	default:
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format converts a byte size to a human-readable string using the largest
// unit that keeps the value >= 1.
func Format(s Size) string {
	neg := ""
	if s < 0 {
		neg = "-"
		s = -s
	}

	switch {
	case s >= TiB:
		return neg + trimZeros(float64(s)/float64(TiB)) + "TB"
	case s >= GiB:
		return neg + trimZeros(float64(s)/float64(GiB)) + "GB"
	case s >= MiB:
		return neg + trimZeros(float64(s)/float64(MiB)) + "MB"
	case s >= KiB:
		return neg + trimZeros(float64(s)/float64(KiB)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", neg, int64(s))
	}
}

func trimZeros(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable string representation.
func (s Size) String() string {
	return Format(s)
}
