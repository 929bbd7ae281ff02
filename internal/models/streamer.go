package models

import (
	"strings"

	"gorm.io/gorm"
)

// Streamer represents a broadcaster being watched for live sessions.
type Streamer struct {
	BaseModel

	// TwitchID is the broadcaster's numeric Twitch user id.
	// Must be unique across all streamers.
	TwitchID string `gorm:"uniqueIndex;not null;size:64" json:"twitch_id"`

	// Login is the broadcaster's Twitch login name (lowercase).
	Login string `gorm:"uniqueIndex;not null;size:255" json:"login"`

	// DisplayName is the broadcaster's display name as shown on Twitch.
	DisplayName string `gorm:"size:255" json:"display_name"`

	// ProfileImageURL is the cached avatar reference.
	ProfileImageURL string `gorm:"size:2048" json:"profile_image_url,omitempty"`

	// OfflineImageURL is the cached offline banner reference.
	OfflineImageURL string `gorm:"size:2048" json:"offline_image_url,omitempty"`

	// LastTitle is the most recent known stream title.
	LastTitle string `gorm:"size:512" json:"last_title,omitempty"`

	// LastCategory is the most recent known category/game name.
	LastCategory string `gorm:"size:255" json:"last_category,omitempty"`

	// LastCategoryID is the Twitch id of LastCategory.
	LastCategoryID string `gorm:"size:64" json:"last_category_id,omitempty"`

	// LastLanguage is the most recent known broadcast language code.
	LastLanguage string `gorm:"size:16" json:"last_language,omitempty"`

	// IsLive mirrors the broadcaster's live state as last observed.
	IsLive bool `gorm:"default:false" json:"is_live"`

	// Enabled indicates whether online events start recordings.
	// Using pointer to distinguish "not set" (nil->default true) from "explicitly false".
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// EventSubOnlineID/OfflineID/UpdateID hold the EventSub subscription ids
	// created for this streamer, so removal can delete them.
	EventSubOnlineID  string `gorm:"size:64" json:"eventsub_online_id,omitempty"`
	EventSubOfflineID string `gorm:"size:64" json:"eventsub_offline_id,omitempty"`
	EventSubUpdateID  string `gorm:"size:64" json:"eventsub_update_id,omitempty"`

	// Per-streamer recording overrides. Empty/zero means inherit from the
	// global settings row, then compiled defaults.
	Quality          string `gorm:"size:64" json:"quality,omitempty"`
	FilenameTemplate string `gorm:"size:512" json:"filename_template,omitempty"`
	ProxyHTTP        string `gorm:"size:2048" json:"proxy_http,omitempty"`
	ProxyHTTPS       string `gorm:"size:2048" json:"proxy_https,omitempty"`
	MaxStreams       *int   `json:"max_streams,omitempty"`

	// OAuthToken optionally unlocks authenticated quality/codec tiers for
	// this streamer's captures.
	OAuthToken string `gorm:"size:512" json:"-" masq:"secret"`

	// Streams is the relationship to live sessions of this streamer.
	Streams []Stream `gorm:"foreignKey:StreamerID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Streamer.
func (Streamer) TableName() string {
	return "streamers"
}

// RecordingEnabled reports whether online events should start recordings.
func (s *Streamer) RecordingEnabled() bool {
	return BoolVal(s.Enabled)
}

// Sanitize trims whitespace from user-provided fields and lowercases login.
func (s *Streamer) Sanitize() {
	s.TwitchID = strings.TrimSpace(s.TwitchID)
	s.Login = strings.ToLower(strings.TrimSpace(s.Login))
	s.DisplayName = strings.TrimSpace(s.DisplayName)
	s.Quality = strings.TrimSpace(s.Quality)
	s.ProxyHTTP = strings.TrimSpace(s.ProxyHTTP)
	s.ProxyHTTPS = strings.TrimSpace(s.ProxyHTTPS)
}

// Validate performs basic validation on the streamer.
func (s *Streamer) Validate() error {
	s.Sanitize()

	if s.Login == "" {
		return ErrLoginRequired
	}
	if s.TwitchID == "" {
		return ErrTwitchIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the streamer and generates a ULID.
func (s *Streamer) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the streamer before update.
func (s *Streamer) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
