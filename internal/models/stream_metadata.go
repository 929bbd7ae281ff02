package models

import "gorm.io/gorm"

// StreamMetadata records the sidecar artifacts written for a recording.
// All paths are absolute; empty means the artifact was not produced.
type StreamMetadata struct {
	BaseModel

	// RecordingID references the owning recording; one metadata row each.
	RecordingID ULID `gorm:"not null;uniqueIndex;type:varchar(26)" json:"recording_id"`

	// JSONPath is the machine-readable stream info sidecar.
	JSONPath string `gorm:"size:1024" json:"json_path,omitempty"`
	// NFOPath is the per-episode Kodi/Jellyfin NFO sidecar.
	NFOPath string `gorm:"size:1024" json:"nfo_path,omitempty"`
	// TVShowNFOPath is the per-streamer tvshow.nfo at the show root.
	TVShowNFOPath string `gorm:"size:1024" json:"tvshow_nfo_path,omitempty"`

	// Chapter sidecars in their four emitted formats.
	ChaptersVTTPath  string `gorm:"size:1024" json:"chapters_vtt_path,omitempty"`
	ChaptersSRTPath  string `gorm:"size:1024" json:"chapters_srt_path,omitempty"`
	ChaptersFFPath   string `gorm:"size:1024" json:"chapters_ff_path,omitempty"`
	ChaptersXMLPath  string `gorm:"size:1024" json:"chapters_xml_path,omitempty"`

	// ThumbnailPath is the episode thumbnail image.
	ThumbnailPath string `gorm:"size:1024" json:"thumbnail_path,omitempty"`

	// MetadataEmbedded is set once chapter markers were muxed into the MP4.
	MetadataEmbedded bool `gorm:"not null;default:false" json:"metadata_embedded"`
}

// TableName returns the table name for StreamMetadata.
func (StreamMetadata) TableName() string {
	return "stream_metadata"
}

// HasChapters reports whether any chapter sidecar was written.
func (m *StreamMetadata) HasChapters() bool {
	return m.ChaptersVTTPath != "" || m.ChaptersSRTPath != "" || m.ChaptersFFPath != "" || m.ChaptersXMLPath != ""
}

// Validate performs basic validation on the metadata row.
func (m *StreamMetadata) Validate() error {
	if m.RecordingID.IsZero() {
		return ErrRecordingIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the row and generates a ULID.
func (m *StreamMetadata) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
