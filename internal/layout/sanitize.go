package layout

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxSegmentBytes is the portable per-component length limit. Most
// filesystems (ext4, NTFS, APFS) cap names at 255 bytes.
const maxSegmentBytes = 255

// reservedDeviceNames are NTFS device names that cannot be used as file
// names on Windows shares, with or without an extension.
var reservedDeviceNames = func() map[string]struct{} {
	names := []string{"CON", "PRN", "AUX", "NUL"}
	for i := 1; i <= 9; i++ {
		names = append(names, fmt.Sprintf("COM%d", i), fmt.Sprintf("LPT%d", i))
	}
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}()

// SafeName sanitises a single path component so it is legal on both POSIX
// and NTFS filesystems:
//   - Unicode NFC normalisation, so "é" composed and decomposed produce the
//     same file name
//   - characters illegal on either filesystem family become "_"
//   - runs of "_" collapse to one
//   - leading/trailing separators, dots, and spaces are trimmed
//   - NTFS reserved device names (CON, NUL, COM1, ...) are prefixed with "_"
//   - the result is truncated to 255 bytes on a rune boundary
//
// The result is never empty; unusable input degrades to "_".
func SafeName(name string) string {
	s := norm.NFC.String(name)
	s = replaceIllegal(s)
	s = collapseUnderscores(s)
	s = strings.Trim(s, "._ ")
	if isReservedDeviceName(s) {
		s = "_" + s
	}
	s = truncateBytes(s, maxSegmentBytes)
	s = strings.TrimRight(s, "._ ")
	if s == "" {
		return "_"
	}
	return s
}

// replaceIllegal maps characters that are invalid in file names on POSIX
// (NUL, "/") or NTFS (control characters, <>:"/\|?*) to "_".
func replaceIllegal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return '_'
		case r == '/' || r == '\\':
			return '_'
		case r == '<' || r == '>' || r == ':' || r == '"' || r == '|' || r == '?' || r == '*':
			return '_'
		}
		return r
	}, s)
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// isReservedDeviceName reports whether the component, up to its first dot,
// is an NTFS device name ("con", "CON.txt", "lpt1.log" are all reserved).
func isReservedDeviceName(s string) bool {
	base := s
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	_, ok := reservedDeviceNames[strings.ToUpper(base)]
	return ok
}

// truncateBytes shortens s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
