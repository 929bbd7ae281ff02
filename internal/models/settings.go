package models

import (
	"encoding/json"

	"gorm.io/gorm"
)

// SettingsScopeGlobal is the scope value of the single global settings row.
const SettingsScopeGlobal = "global"

// Settings holds the global recording defaults. Streamer-level overrides
// layer on top of these, and these layer on top of compiled defaults.
// A unique scope column keeps it to one row.
type Settings struct {
	BaseModel

	// Scope partitions settings rows; only "global" is used today.
	Scope string `gorm:"not null;uniqueIndex;size:50;default:'global'" json:"scope"`

	// Enabled toggles recording globally. Nil means unset (inherit default).
	Enabled *bool `json:"enabled,omitempty"`

	// Quality is the streamlink quality selector (e.g. "best", "720p60").
	Quality string `gorm:"size:50" json:"quality,omitempty"`

	// SupportedCodecs is a JSON array of codec names in preference order.
	SupportedCodecs string `gorm:"size:512" json:"supported_codecs,omitempty"`

	// FilenameTemplate is the recording filename pattern.
	FilenameTemplate string `gorm:"size:512" json:"filename_template,omitempty"`

	// LayoutPreset selects the media-server directory layout.
	LayoutPreset string `gorm:"size:50" json:"layout_preset,omitempty"`

	// ProxyHTTP and ProxyHTTPS route capture traffic through a proxy.
	ProxyHTTP  string `gorm:"size:512" json:"proxy_http,omitempty"`
	ProxyHTTPS string `gorm:"size:512" json:"proxy_https,omitempty"`

	// MaxStreams bounds retained streams per streamer. Nil or 0 = unbounded.
	MaxStreams *int `json:"max_streams,omitempty"`
}

// TableName returns the table name for Settings.
func (Settings) TableName() string {
	return "settings"
}

// Codecs parses SupportedCodecs into an ordered list.
func (s *Settings) Codecs() ([]string, error) {
	if s.SupportedCodecs == "" {
		return nil, nil
	}
	var codecs []string
	if err := json.Unmarshal([]byte(s.SupportedCodecs), &codecs); err != nil {
		return nil, err
	}
	return codecs, nil
}

// SetCodecs encodes the ordered codec list into SupportedCodecs.
func (s *Settings) SetCodecs(codecs []string) error {
	if len(codecs) == 0 {
		s.SupportedCodecs = ""
		return nil
	}
	data, err := json.Marshal(codecs)
	if err != nil {
		return err
	}
	s.SupportedCodecs = string(data)
	return nil
}

// BeforeCreate is a GORM hook that defaults the scope and generates a ULID.
func (s *Settings) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.Scope == "" {
		s.Scope = SettingsScopeGlobal
	}
	return nil
}
