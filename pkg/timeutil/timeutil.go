// Package timeutil provides timestamp and duration rendering for chapter
// sidecars and human-readable output.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CHAPTER TIMESTAMP FORMATTING
// =============================================================================

// VTTTimestamp renders a duration as a WebVTT cue timestamp.
// Example: VTTTimestamp(90*time.Second + 500*time.Millisecond) => "00:01:30.500"
func VTTTimestamp(d time.Duration) string {
	return clockTimestamp(d, '.')
}

// SRTTimestamp renders a duration as a SubRip cue timestamp.
// Example: SRTTimestamp(90*time.Second + 500*time.Millisecond) => "00:01:30,500"
func SRTTimestamp(d time.Duration) string {
	return clockTimestamp(d, ',')
}

func clockTimestamp(d time.Duration, msSep byte) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	frac := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, msSep, frac)
}

// Ticks converts a duration to 100-nanosecond ticks, the unit Emby and
// Jellyfin use for chapter positions in XML metadata.
func Ticks(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Nanoseconds() / 100
}

// =============================================================================
// HUMAN-READABLE DURATIONS
// =============================================================================

// Duration formats a duration compactly for logs and status payloads.
// Example: Duration(3*time.Hour + 25*time.Minute) => "3h25m"
func Duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 || h > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if h == 0 && (s > 0 || b.Len() == 0) {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}

// RelativeTime formats a time relative to now.
// Example: "5m ago", "in 2h", "just now".
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d > -time.Second && d < time.Second:
		return "just now"
	case d > 0:
		return Duration(d) + " ago"
	default:
		return "in " + Duration(-d)
	}
}
