package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Template rendering errors.
var (
	// ErrUnknownVariable is returned when a template references a variable
	// outside the supported set.
	ErrUnknownVariable = errors.New("unknown template variable")
	// ErrBadTemplate is returned for syntactically broken templates
	// (unterminated variables, padding on text variables).
	ErrBadTemplate = errors.New("malformed filename template")
	// ErrEmptyTemplate is returned when a template renders to nothing.
	ErrEmptyTemplate = errors.New("template renders to an empty path")
	// ErrUnknownPreset is returned for a preset name outside Presets().
	ErrUnknownPreset = errors.New("unknown layout preset")
)

// Filename preset names. A preset is a known-safe template tuned for a
// media-server's episode naming convention.
const (
	PresetDefault       = "default"
	PresetPlex          = "plex"
	PresetEmby          = "emby"
	PresetJellyfin      = "jellyfin"
	PresetKodi          = "kodi"
	PresetChronological = "chronological"
)

// presetTemplates maps preset names to templates. Seasons are year-month, so
// the SxxExx forms use S<year><month> (e.g. S202501E03). The chronological
// preset contains "/" and therefore controls its own directory tree under
// the streamer folder.
var presetTemplates = map[string]string{
	PresetDefault:       "{streamer} - S{year}{month}E{episode:02d} - {title}",
	PresetPlex:          "{streamer} - s{year}{month}e{episode:02d} - {title}",
	PresetEmby:          "{streamer} S{year}{month}E{episode:02d} {title}",
	PresetJellyfin:      "{streamer} S{year}{month}E{episode:02d} - {title}",
	PresetKodi:          "{streamer} - {year}-{month}-{day} - {title}",
	PresetChronological: "{streamer}/{year}/{month}/{year}-{month}-{day} {hour}{minute} - {title}",
}

// PresetTemplate returns the template for a preset name. The empty name
// selects the default preset.
func PresetTemplate(name string) (string, error) {
	if name == "" {
		name = PresetDefault
	}
	tmpl, ok := presetTemplates[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return tmpl, nil
}

// Presets returns the known preset names, sorted.
func Presets() []string {
	names := make([]string, 0, len(presetTemplates))
	for name := range presetTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Vars holds the values substituted into a filename template.
type Vars struct {
	// Streamer is the broadcaster login or display name.
	Streamer string
	// Title is the stream title at session start.
	Title string
	// Game is the category/game name at session start.
	Game string
	// Episode is the per-streamer, per-month episode number.
	Episode int
	// When is the session start time; callers pass UTC so rendered dates
	// match season folders and episode numbering.
	When time.Time
}

// defaultWidths gives each numeric variable its calendar-style zero padding
// when the template does not specify one. Episode is unpadded by default.
var defaultWidths = map[string]int{
	"year":    4,
	"month":   2,
	"day":     2,
	"hour":    2,
	"minute":  2,
	"episode": 0,
}

// Render substitutes {streamer}, {title}, {game}, {year}, {month}, {day},
// {hour}, {minute}, and {episode} into the template and returns a sanitised
// relative path. Numeric variables accept printf-style zero padding, e.g.
// {episode:02d}. "/" splits the template into path segments; each segment is
// sanitised independently, so a "/" inside a substituted title cannot create
// a directory.
func Render(tmpl string, v Vars) (string, error) {
	segments := strings.Split(tmpl, "/")
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		rendered, err := renderSegment(seg, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, SafeName(rendered))
	}
	if len(parts) == 0 {
		return "", ErrEmptyTemplate
	}
	return filepath.Join(parts...), nil
}

// ValidateTemplate reports whether a template renders cleanly. Settings
// writes call this so a broken template is rejected before any capture
// tries to use it.
func ValidateTemplate(tmpl string) error {
	probe := Vars{
		Streamer: "streamer",
		Title:    "title",
		Game:     "game",
		Episode:  1,
		When:     time.Date(2000, time.January, 2, 3, 4, 0, 0, time.UTC),
	}
	_, err := Render(tmpl, probe)
	return err
}

func renderSegment(seg string, v Vars) (string, error) {
	var b strings.Builder
	for {
		i := strings.IndexByte(seg, '{')
		if i < 0 {
			b.WriteString(seg)
			break
		}
		b.WriteString(seg[:i])
		seg = seg[i+1:]

		j := strings.IndexByte(seg, '}')
		if j < 0 {
			return "", fmt.Errorf("%w: unterminated variable", ErrBadTemplate)
		}
		val, err := expand(seg[:j], v)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		seg = seg[j+1:]
	}
	return b.String(), nil
}

// expand resolves one variable token (the text between braces), applying
// zero padding for numeric variables.
func expand(token string, v Vars) (string, error) {
	name, pad, hasPad := strings.Cut(token, ":")

	width := -1
	if hasPad {
		digits, ok := strings.CutSuffix(pad, "d")
		if !ok {
			return "", fmt.Errorf("%w: bad padding %q", ErrBadTemplate, token)
		}
		w, err := strconv.Atoi(digits)
		if err != nil || w < 0 {
			return "", fmt.Errorf("%w: bad padding %q", ErrBadTemplate, token)
		}
		width = w
	}

	var text string
	var num int
	numeric := true
	switch name {
	case "streamer":
		text, numeric = v.Streamer, false
	case "title":
		text, numeric = v.Title, false
	case "game":
		text, numeric = v.Game, false
	case "year":
		num = v.When.Year()
	case "month":
		num = int(v.When.Month())
	case "day":
		num = v.When.Day()
	case "hour":
		num = v.When.Hour()
	case "minute":
		num = v.When.Minute()
	case "episode":
		num = v.Episode
	default:
		return "", fmt.Errorf("%w: {%s}", ErrUnknownVariable, name)
	}

	if !numeric {
		if hasPad {
			return "", fmt.Errorf("%w: padding on text variable {%s}", ErrBadTemplate, name)
		}
		return text, nil
	}
	if width < 0 {
		width = defaultWidths[name]
	}
	return fmt.Sprintf("%0*d", width, num), nil
}
