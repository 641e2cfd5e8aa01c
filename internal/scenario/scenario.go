package scenario

import (
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// FileExtension is the extension of scenario files
const FileExtension = "scenario"

// Properties are the flags a scenario declares in its description line
type Properties struct {
	Summary             string
	Duration            int64
	Seek                bool
	ReversePlayback     bool
	NeedsClockSync      bool
	LiveContentRequired bool
	NeedsPreroll        bool
	HandlesStates       bool
	MinMediaDuration    int64
	MinAudioTracks      int
	MinVideoTracks      int
	MinSubtitleTracks   int
	NeedsHTTPServer     bool
}

// Scenario implements models.Scenario
type Scenario struct {
	name  string
	path  string
	props Properties
}

var _ models.Scenario = (*Scenario)(nil)

// New creates a built-in scenario, selected by name when executed
func New(name string, props Properties) *Scenario {
	return &Scenario{name: name, props: props}
}

// NewFromFile creates a scenario backed by a file, selected by path when executed
func NewFromFile(name, path string, props Properties) *Scenario {
	return &Scenario{name: name, path: path, props: props}
}

// Name implements models.Scenario
func (s *Scenario) Name() string { return s.name }

// Path implements models.Scenario
func (s *Scenario) Path() string { return s.path }

// Duration implements models.Scenario
func (s *Scenario) Duration() int64 { return s.props.Duration }

// NeedsClockSync implements models.Scenario
func (s *Scenario) NeedsClockSync() bool { return s.props.NeedsClockSync }

// DoesReversePlayback implements models.Scenario
func (s *Scenario) DoesReversePlayback() bool { return s.props.ReversePlayback }

// DoesSeek reports whether the scenario issues seeks
func (s *Scenario) DoesSeek() bool { return s.props.Seek }

// Properties returns the declared flags
func (s *Scenario) Properties() Properties { return s.props }

// NeedsHTTPServer reports whether the scenario reads media from the local HTTP server
func (s *Scenario) NeedsHTTPServer() bool { return s.props.NeedsHTTPServer }

// IsCompatible implements models.Scenario
func (s *Scenario) IsCompatible(d models.MediaDescriptor) bool {
	return Incompatibility(d, s.props) == ""
}

// Incompatibility returns why d cannot run a scenario declaring p, or "" when it can
func Incompatibility(d models.MediaDescriptor, p Properties) string {
	switch {
	case p.Seek && !d.IsSeekable():
		return "media is not seekable"
	case p.Seek && d.IsImage():
		return "media is an image"
	case p.NeedsClockSync && d.IsImage():
		return "clock sync is not possible on images"
	case p.ReversePlayback && !d.CanPlayReverse():
		return "media does not support reverse playback"
	case p.LiveContentRequired && !d.IsLive():
		return "scenario requires live content"
	case p.NeedsPreroll && !d.Prerolls():
		return "scenario requires preroll"
	// Whole seconds, and an unknown duration never disqualifies
	case p.MinMediaDuration > 0 && d.Duration() > 0 && d.Duration()/models.Second < p.MinMediaDuration/models.Second:
		return "media is too short"
	case d.NumTracks(models.TrackAudio) < p.MinAudioTracks:
		return "not enough audio tracks"
	case d.NumTracks(models.TrackVideo) < p.MinVideoTracks:
		return "not enough video tracks"
	case d.NumTracks(models.TrackSubtitle) < p.MinSubtitleTracks:
		return "not enough subtitle tracks"
	}
	return ""
}
