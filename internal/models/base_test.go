package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolVal(t *testing.T) {
	tests := []struct {
		name     string
		input    *bool
		expected bool
	}{
		{"nil defaults to true", nil, true},
		{"true pointer", BoolPtr(true), true},
		{"false pointer", BoolPtr(false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BoolVal(tt.input))
		})
	}
}

func TestULID_Roundtrips(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		original := NewULID()
		s := original.String()
		assert.Len(t, s, 26)

		parsed, err := ParseULID(s)
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid string", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		assert.Error(t, err)
	})

	t.Run("json", func(t *testing.T) {
		original := NewULID()
		data, err := json.Marshal(original)
		require.NoError(t, err)
		assert.Equal(t, `"`+original.String()+`"`, string(data))

		var decoded ULID
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original, decoded)
	})

	t.Run("zero json is null", func(t *testing.T) {
		var zero ULID
		data, err := json.Marshal(zero)
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))

		var decoded ULID
		require.NoError(t, json.Unmarshal([]byte("null"), &decoded))
		assert.True(t, decoded.IsZero())
	})
}

func TestULID_SQL(t *testing.T) {
	t.Run("value of zero is nil", func(t *testing.T) {
		var zero ULID
		val, err := zero.Value()
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("scan variants", func(t *testing.T) {
		validID := NewULID()
		validStr := validID.String()

		tests := []struct {
			name      string
			input     any
			expected  ULID
			expectErr bool
		}{
			{"nil sets zero", nil, ULID{}, false},
			{"valid string", validStr, validID, false},
			{"empty string sets zero", "", ULID{}, false},
			{"valid bytes", []byte(validStr), validID, false},
			{"invalid string", "bad-ulid", ULID{}, true},
			{"unsupported type", 12345, ULID{}, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var u ULID
				err := u.Scan(tt.input)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					require.NoError(t, err)
					assert.Equal(t, tt.expected, u)
				}
			})
		}
	})
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	t.Run("generates ID when zero", func(t *testing.T) {
		m := &BaseModel{}
		require.NoError(t, m.BeforeCreate(nil))
		assert.False(t, m.ID.IsZero())
	})

	t.Run("preserves existing ID", func(t *testing.T) {
		existing := NewULID()
		m := &BaseModel{ID: existing}
		require.NoError(t, m.BeforeCreate(nil))
		assert.Equal(t, existing, m.ID)
	})
}

func TestNow_UTC(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
}
