package media

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// FakeInfo declares the properties of an asset that was never introspected,
// typically the media behind a hand-written pipeline. Duration is in seconds.
type FakeInfo struct {
	Path            string                   `yaml:"path"`
	MediaFilePath   string                   `yaml:"media-filepath"`
	URI             string                   `yaml:"uri"`
	Caps            string                   `yaml:"caps"`
	DurationSeconds int64                    `yaml:"duration"`
	Protocol        models.Protocol          `yaml:"protocol"`
	Seekable        *bool                    `yaml:"is-seekable"`
	Image           bool                     `yaml:"is-image"`
	Live            bool                     `yaml:"is-live"`
	PlaysReverse    bool                     `yaml:"plays-reverse"`
	NumTracks       map[models.TrackType]int `yaml:"num-tracks"`
	TracksCaps      []models.TrackCaps       `yaml:"tracks-caps"`
}

// FakeDescriptor answers descriptor queries from declared values and,
// for track counts, from the sinks present in the pipeline.
type FakeDescriptor struct {
	info     FakeInfo
	pipeline string
}

// NewFake creates a fake descriptor for pipeline
func NewFake(info FakeInfo, pipeline string) *FakeDescriptor {
	return &FakeDescriptor{info: info, pipeline: pipeline}
}

// Path implements models.MediaDescriptor
func (f *FakeDescriptor) Path() string { return f.info.Path }

// MediaFilePath implements models.MediaDescriptor
func (f *FakeDescriptor) MediaFilePath() string { return f.info.MediaFilePath }

// URI implements models.MediaDescriptor
func (f *FakeDescriptor) URI() string { return f.info.URI }

// Caps implements models.MediaDescriptor
func (f *FakeDescriptor) Caps() string { return f.info.Caps }

// Duration implements models.MediaDescriptor
func (f *FakeDescriptor) Duration() int64 { return f.info.DurationSeconds * models.Second }

// Protocol implements models.MediaDescriptor
func (f *FakeDescriptor) Protocol() models.Protocol {
	if f.info.Protocol == "" {
		return models.ProtocolLaunchPipeline
	}
	return f.info.Protocol
}

// IsSeekable implements models.MediaDescriptor
func (f *FakeDescriptor) IsSeekable() bool {
	if f.info.Seekable == nil {
		return true
	}
	return *f.info.Seekable
}

// IsImage implements models.MediaDescriptor
func (f *FakeDescriptor) IsImage() bool { return f.info.Image }

// IsLive implements models.MediaDescriptor
func (f *FakeDescriptor) IsLive() bool { return f.info.Live }

// CanPlayReverse implements models.MediaDescriptor
func (f *FakeDescriptor) CanPlayReverse() bool { return f.info.PlaysReverse }

// Prerolls implements models.MediaDescriptor
func (f *FakeDescriptor) Prerolls() bool { return true }

// NeedsClockSync implements models.MediaDescriptor
func (f *FakeDescriptor) NeedsClockSync() bool { return protocolNeedsClockSync(f.Protocol()) }

// SkipParsers implements models.MediaDescriptor
func (f *FakeDescriptor) SkipParsers() bool { return false }

// TracksCaps implements models.MediaDescriptor
func (f *FakeDescriptor) TracksCaps() []models.TrackCaps { return f.info.TracksCaps }

// NumTracks implements models.MediaDescriptor
func (f *FakeDescriptor) NumTracks(t models.TrackType) int {
	if n, ok := f.info.NumTracks[t]; ok {
		return n
	}
	return strings.Count(f.pipeline, string(t)+"sink")
}
