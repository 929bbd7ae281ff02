package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Stream represents one contiguous live session of a streamer.
type Stream struct {
	BaseModel

	// StreamerID references the owning streamer.
	StreamerID ULID `gorm:"not null;index;type:varchar(26)" json:"streamer_id"`

	// TwitchStreamID is Twitch's id for the live session. Force-started
	// sessions have a synthetic "force_<unix>" id instead.
	TwitchStreamID string `gorm:"size:64;index" json:"twitch_stream_id,omitempty"`

	// StartedAt is when the live session began (UTC).
	StartedAt Time `gorm:"not null;index" json:"started_at"`

	// EndedAt is when the live session ended; nil while live.
	// Once set it never changes.
	EndedAt *Time `json:"ended_at,omitempty"`

	// Title is the stream title at session start (updated on channel.update).
	Title string `gorm:"size:512" json:"title,omitempty"`

	// Category is the game/category name at session start.
	Category string `gorm:"size:255" json:"category,omitempty"`

	// CategoryID is the Twitch id of Category.
	CategoryID string `gorm:"size:64" json:"category_id,omitempty"`

	// Language is the broadcast language code.
	Language string `gorm:"size:16" json:"language,omitempty"`

	// RecordingPath is the final MP4 path; nil-equivalent empty until the
	// remux step completes.
	RecordingPath string `gorm:"size:2048" json:"recording_path,omitempty"`

	// Episode is the monthly episode number assigned at recording start.
	Episode int `gorm:"default:0" json:"episode"`

	// Relationships. The session owns its recording attempts, events,
	// processing state and metadata; all are removed with it.
	Recordings []Recording   `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"recordings,omitempty"`
	Events     []StreamEvent `gorm:"foreignKey:StreamID;constraint:OnDelete:CASCADE" json:"events,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsLive reports whether the session has not ended yet.
func (s *Stream) IsLive() bool {
	return s.EndedAt == nil
}

// IsForced reports whether this session was operator-initiated rather than
// EventSub-initiated.
func (s *Stream) IsForced() bool {
	return len(s.TwitchStreamID) > 6 && s.TwitchStreamID[:6] == "force_"
}

// SeasonLabel returns the media-server season folder label for this session,
// e.g. "Season 2025-01".
func (s *Stream) SeasonLabel() string {
	return fmt.Sprintf("Season %04d-%02d", s.StartedAt.Year(), int(s.StartedAt.Month()))
}

// SeasonNumber returns the numeric season used in NFO sidecars, e.g. 202501.
func (s *Stream) SeasonNumber() int {
	return s.StartedAt.Year()*100 + int(s.StartedAt.Month())
}

// End sets EndedAt, enforcing write-once semantics and time ordering.
func (s *Stream) End(at Time) error {
	if s.EndedAt != nil {
		return ErrEndedStreamImmutable
	}
	if at.Before(s.StartedAt) {
		return ErrInvalidTimeRange
	}
	s.EndedAt = &at
	return nil
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.StreamerID.IsZero() {
		return ErrStreamerIDRequired
	}
	if s.StartedAt.IsZero() {
		return ErrStartTimeRequired
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates a ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}
