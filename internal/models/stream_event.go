package models

import "gorm.io/gorm"

// StreamEventType represents the kind of timestamped fact recorded about a
// stream.
type StreamEventType string

const (
	// StreamEventOnline marks the session going live.
	StreamEventOnline StreamEventType = "online"
	// StreamEventOffline marks the session ending.
	StreamEventOffline StreamEventType = "offline"
	// StreamEventUpdate marks a title/category change mid-session.
	StreamEventUpdate StreamEventType = "channel.update"
)

// StreamEvent is a timestamped fact about a Stream. Events are the source of
// chapter boundaries and are strictly ordered by timestamp within a stream.
type StreamEvent struct {
	BaseModel

	// StreamID references the owning stream.
	StreamID ULID `gorm:"not null;index;type:varchar(26)" json:"stream_id"`

	// Type is the event kind.
	Type StreamEventType `gorm:"not null;size:32" json:"type"`

	// Timestamp is when the event occurred (UTC). Events observed before
	// the stream started clamp to the stream start for chapter rendering,
	// but the original timestamp is preserved here.
	Timestamp Time `gorm:"not null;index" json:"timestamp"`

	// Title is the stream title carried by the event, if any.
	Title string `gorm:"size:512" json:"title,omitempty"`

	// Category is the category/game name carried by the event, if any.
	Category string `gorm:"size:255" json:"category,omitempty"`

	// CategoryID is the Twitch id of Category.
	CategoryID string `gorm:"size:64" json:"category_id,omitempty"`
}

// TableName returns the table name for StreamEvent.
func (StreamEvent) TableName() string {
	return "stream_events"
}

// Validate performs basic validation on the event.
func (e *StreamEvent) Validate() error {
	if e.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	switch e.Type {
	case StreamEventOnline, StreamEventOffline, StreamEventUpdate:
	default:
		return ErrInvalidEventType
	}
	if e.Timestamp.IsZero() {
		return ErrStartTimeRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the event and generates a ULID.
func (e *StreamEvent) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}
