package media

import "time"

// Tags are the container metadata stamped into the MP4 during remux. They
// feed media-server library scans: Artist carries the streamer, Genre the
// category, Date the broadcast date.
type Tags struct {
	Title  string
	Artist string
	Date   string
	Genre  string
}

// BuildRemux assembles the TS→MP4 remux: pure stream copy (no re-encode)
// with the ADTS AAC payload rewritten for the MP4 container, corrupt capture
// packets dropped, and the index moved up front for instant playback.
//
// The caller passes a temporary output path and renames it into place after
// validation, so an interrupted remux never leaves a half-written .mp4.
func BuildRemux(ffmpegPath, input, output string, tags Tags) *Command {
	return NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite().
		DiscardCorrupt().
		Input(input).
		StreamCopy().
		AudioBitstreamFilter("aac_adtstoasc").
		Faststart().
		Metadata("title", tags.Title).
		Metadata("artist", tags.Artist).
		Metadata("date", tags.Date).
		Metadata("genre", tags.Genre).
		Output(output).
		Build()
}

// BuildFrameExtract assembles a single-frame JPEG grab at the given offset,
// used for fallback thumbnails when no live preview image was captured.
func BuildFrameExtract(ffmpegPath, input, output string, offset time.Duration) *Command {
	return NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite().
		SeekTo(offset).
		Input(input).
		VideoFrames(1).
		FrameQuality(2).
		NoAudio().
		Output(output).
		Build()
}
