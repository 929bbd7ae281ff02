package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"720h", 720 * time.Hour, false},
		{"1d", Day, false},
		{"14d", 14 * Day, false},
		{"2w", 2 * Week, false},
		{"1w2d12h", Week + 2*Day + 12*time.Hour, false},
		{"1.5d", 36 * time.Hour, false},
		{"-2d", -2 * Day, false},
		{"", 0, true},
		{"5x", 0, true},
		{"d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{90 * time.Second, "1m30s"},
		{36 * time.Hour, "1d12h0m0s"},
		{14 * Day, "2w"},
		{Week + Day, "1w1d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{30 * time.Second, Day, 14 * Day, Week + 2*Day} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}
