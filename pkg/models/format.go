package models

import "fmt"

// formatCaps maps short format names to caps understood by the encoding profiles
var formatCaps = map[string]string{
	// Audio
	"aac":      "audio/mpeg,mpegversion=4",
	"ac3":      "audio/x-ac3",
	"vorbis":   "audio/x-vorbis",
	"mp3":      "audio/mpeg,mpegversion=1,layer=3",
	"opus":     "audio/x-opus",
	"rawaudio": "audio/x-raw",

	// Video
	"h264":   "video/x-h264",
	"h265":   "video/x-h265",
	"vp8":    "video/x-vp8",
	"vp9":    "video/x-vp9",
	"theora": "video/x-theora",
	"prores": "video/x-prores",
	"jpeg":   "image/jpeg",

	// Containers
	"webm":      "video/webm",
	"ogg":       "application/ogg",
	"mkv":       "video/x-matroska",
	"mp4":       "video/quicktime,variant=iso;",
	"quicktime": "video/quicktime;",
}

// FormatCombination is one transcoding output target
type FormatCombination struct {
	Container        string `json:"container" yaml:"container"`
	Audio            string `json:"audio" yaml:"audio"`
	Video            string `json:"video" yaml:"video"`
	VideoRestriction string `json:"video_restriction,omitempty" yaml:"video_restriction,omitempty"`
	AudioRestriction string `json:"audio_restriction,omitempty" yaml:"audio_restriction,omitempty"`
}

// String implements fmt.Stringer
func (f FormatCombination) String() string {
	return fmt.Sprintf("%s and %s in %s", f.Audio, f.Video, f.Container)
}

// ContainerCaps returns the muxer caps, or the raw name when unknown
func (f FormatCombination) ContainerCaps() string { return lookupCaps(f.Container) }

// AudioCaps returns the audio encoder caps
func (f FormatCombination) AudioCaps() string { return lookupCaps(f.Audio) }

// VideoCaps returns the video encoder caps
func (f FormatCombination) VideoCaps() string { return lookupCaps(f.Video) }

func lookupCaps(name string) string {
	if c, ok := formatCaps[name]; ok {
		return c
	}
	return name
}
