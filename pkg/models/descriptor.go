package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Second is the number of ticks in one second. Descriptor and scenario
// durations are expressed in ticks.
const Second int64 = 1_000_000_000

// TicksToDuration converts a tick count to a time.Duration
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * (time.Second / time.Duration(Second))
}

// TrackType is the media type of a single track
type TrackType string

// TrackType constants
const (
	TrackAudio    TrackType = "audio"
	TrackVideo    TrackType = "video"
	TrackSubtitle TrackType = "subtitle"
)

// TrackCaps pairs a track type with its capability string
type TrackCaps struct {
	Type TrackType `json:"type"`
	Caps string    `json:"caps"`
}

// MediaDescriptor is read-only metadata about one media asset
type MediaDescriptor interface {
	// Path is the location of the descriptor file backing this asset, if any
	Path() string
	// MediaFilePath is the local media file the descriptor describes
	MediaFilePath() string
	URI() string
	Protocol() Protocol
	Caps() string
	// Duration in ticks
	Duration() int64
	IsSeekable() bool
	IsImage() bool
	IsLive() bool
	CanPlayReverse() bool
	Prerolls() bool
	NeedsClockSync() bool
	SkipParsers() bool
	TracksCaps() []TrackCaps
	NumTracks(t TrackType) int
}

// Descriptor file extensions
const (
	MediaInfoExt        = "media_info"
	PushMediaInfoExt    = "media_info.push"
	SkippedMediaInfoExt = "media_info.skipped"
	StreamInfoExt       = "stream_info"
)

// CleanName turns an asset location into a name usable as a classname segment.
// The descriptor file name is preferred, with its extension stripped.
func CleanName(d MediaDescriptor) string {
	name := d.Path()
	if name == "" {
		name = d.MediaFilePath()
	}
	if name == "" {
		name = d.URI()
	}
	name = filepath.Base(strings.TrimRight(name, "/"))
	for _, ext := range []string{SkippedMediaInfoExt, PushMediaInfoExt, MediaInfoExt, StreamInfoExt} {
		if trimmed := strings.TrimSuffix(name, "."+ext); trimmed != name {
			name = trimmed
			break
		}
	}
	return strings.NewReplacer(".", "_", " ", "_").Replace(name)
}

// Asset pairs a discovered URI with its descriptor and the scenarios written
// specifically for it.
type Asset struct {
	URI              string
	InfoPath         string
	Descriptor       MediaDescriptor
	SpecialScenarios []Scenario
}
