package media

import (
	"errors"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/caps"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

var (
	// ErrNoDescriptor is returned when an asset could not be introspected
	ErrNoDescriptor = errors.New("could not introspect media")
	// ErrAlreadyClassified is returned when a protocol is reclassified twice or after generation started
	ErrAlreadyClassified = errors.New("descriptor protocol can no longer be reclassified")
)

// Info is the serializable content of a discovered descriptor
type Info struct {
	URI          string             `json:"uri"`
	InfoPath     string             `json:"info_path"`
	Caps         string             `json:"caps"`
	Duration     int64              `json:"duration"`
	Seekable     bool               `json:"seekable"`
	Live         bool               `json:"live"`
	PlaysReverse bool               `json:"plays_reverse"`
	SkipParsers  bool               `json:"skip_parsers"`
	Tracks       []models.TrackCaps `json:"tracks"`
}

// Descriptor is a media descriptor produced by introspection
type Descriptor struct {
	info Info

	mu           sync.Mutex
	protocol     models.Protocol
	reclassified bool
	frozen       bool
}

// New creates a descriptor from introspected info
func New(info Info) *Descriptor {
	return &Descriptor{info: info}
}

// Info returns a copy of the underlying info
func (d *Descriptor) Info() Info {
	info := d.info
	info.Tracks = append([]models.TrackCaps(nil), d.info.Tracks...)
	return info
}

// Reclassify overrides the protocol. It is allowed once, before Freeze.
func (d *Descriptor) Reclassify(p models.Protocol) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reclassified || d.frozen {
		return ErrAlreadyClassified
	}
	d.protocol = p
	d.reclassified = true
	return nil
}

// Freeze forbids any further reclassification. Called before generation.
func (d *Descriptor) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Path implements models.MediaDescriptor
func (d *Descriptor) Path() string { return d.info.InfoPath }

// MediaFilePath implements models.MediaDescriptor
func (d *Descriptor) MediaFilePath() string {
	return StripInfoExt(d.info.InfoPath)
}

// URI implements models.MediaDescriptor
func (d *Descriptor) URI() string { return d.info.URI }

// Protocol implements models.MediaDescriptor
func (d *Descriptor) Protocol() models.Protocol {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.protocol != "" {
		return d.protocol
	}
	return models.ProtocolFromURI(d.info.URI)
}

// Caps implements models.MediaDescriptor
func (d *Descriptor) Caps() string { return d.info.Caps }

// Duration implements models.MediaDescriptor
func (d *Descriptor) Duration() int64 { return d.info.Duration }

// IsSeekable implements models.MediaDescriptor
func (d *Descriptor) IsSeekable() bool { return d.info.Seekable }

// IsLive implements models.MediaDescriptor
func (d *Descriptor) IsLive() bool { return d.info.Live }

// CanPlayReverse implements models.MediaDescriptor
func (d *Descriptor) CanPlayReverse() bool { return d.info.PlaysReverse }

// SkipParsers implements models.MediaDescriptor
func (d *Descriptor) SkipParsers() bool { return d.info.SkipParsers }

// Prerolls implements models.MediaDescriptor
func (d *Descriptor) Prerolls() bool { return true }

// NeedsClockSync implements models.MediaDescriptor
func (d *Descriptor) NeedsClockSync() bool { return protocolNeedsClockSync(d.Protocol()) }

// IsImage implements models.MediaDescriptor
func (d *Descriptor) IsImage() bool {
	for _, t := range d.info.Tracks {
		if t.Type == "image" {
			return true
		}
	}
	return false
}

// TracksCaps implements models.MediaDescriptor
func (d *Descriptor) TracksCaps() []models.TrackCaps { return d.info.Tracks }

// NumTracks implements models.MediaDescriptor
func (d *Descriptor) NumTracks(t models.TrackType) int {
	n := 0
	for _, tr := range d.info.Tracks {
		if tr.Type == t {
			n++
		}
	}
	return n
}

func protocolNeedsClockSync(p models.Protocol) bool {
	return p == models.ProtocolHLS || p == models.ProtocolDASH
}

// StripInfoExt removes a descriptor file extension from path
func StripInfoExt(path string) string {
	for _, ext := range []string{
		models.SkippedMediaInfoExt,
		models.PushMediaInfoExt,
		models.MediaInfoExt,
		models.StreamInfoExt,
	} {
		if trimmed := strings.TrimSuffix(path, "."+ext); trimmed != path {
			return trimmed
		}
	}
	return path
}

// VideoFramerate returns the framerate of the first video track that declares one
func VideoFramerate(d models.MediaDescriptor) (caps.Fraction, bool) {
	for _, t := range d.TracksCaps() {
		if t.Type != models.TrackVideo {
			continue
		}
		parsed, err := caps.Parse(t.Caps)
		if err != nil {
			continue
		}
		for _, st := range parsed {
			if fr, ok := st.Fraction("framerate"); ok {
				return fr, true
			}
		}
	}
	return caps.Fraction{}, false
}
