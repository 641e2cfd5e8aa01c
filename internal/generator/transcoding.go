package generator

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/caps"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// AudioOnlyTranscodingRatio divides the expected duration of audio-only assets,
// which encode proportionally faster
const AudioOnlyTranscodingRatio = 5

// EOSStallLimit is how long a pipeline may keep running after EOS was sent
const EOSStallLimit = 30 * time.Second

// TranscodingOptions configures the transcode generator
type TranscodingOptions struct {
	// Formats are the output targets; DefaultFormats when empty
	Formats []models.FormatCombination
	// Dest is the directory outputs are written under
	Dest string
	// AudioOnlyRatio defaults to AudioOnlyTranscodingRatio
	AudioOnlyRatio int
	// HardTimeoutFactor defaults to 10
	HardTimeoutFactor int
	Timeout           time.Duration
}

func (o *TranscodingOptions) setDefaults() {
	if len(o.Formats) == 0 {
		o.Formats = DefaultFormats()
	}
	if o.AudioOnlyRatio <= 0 {
		o.AudioOnlyRatio = AudioOnlyTranscodingRatio
	}
	if o.HardTimeoutFactor <= 0 {
		o.HardTimeoutFactor = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = models.DefaultTimeout
	}
}

// DefaultFormats returns the standard output targets
func DefaultFormats() []models.FormatCombination {
	return []models.FormatCombination{
		{Container: "ogg", Audio: "vorbis", Video: "theora"},
		{Container: "webm", Audio: "vorbis", Video: "vp8"},
		{Container: "webm", Audio: "vorbis", Video: "vp9", VideoRestriction: "video/x-raw,width=160,height=120"},
		{Container: "mp4", Audio: "mp3", Video: "h264"},
		{Container: "mkv", Audio: "vorbis", Video: "h264"},
	}
}

// Transcoding re-encodes every asset to every declared format
type Transcoding struct {
	Base
	command string
	opts    TranscodingOptions
}

// NewTranscoding creates the transcode generator
func NewTranscoding(tools Tools, opts TranscodingOptions, logger *logging.Logger) *Transcoding {
	opts.setDefaults()
	return &Transcoding{
		Base:    NewBase("transcode", ScenarioFilter{Mode: NoScenario}, logger),
		command: tools.Transcoding,
		opts:    opts,
	}
}

// Generate implements Generator
func (g *Transcoding) Generate(ctx context.Context, assets []models.Asset, _ []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	var tests []*models.Test
	skipped := 0

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := a.Descriptor
		if d == nil {
			skipped++
			continue
		}
		if d.IsImage() {
			g.skipAsset(a.URI, "images are not transcoded")
			skipped++
			continue
		}
		protocol := d.Protocol()
		if protocol == models.ProtocolRTSP {
			g.skipAsset(a.URI, "RTSP streams are not transcoded")
			skipped++
			continue
		}

		duration := g.Duration(d)
		for _, comb := range g.opts.Formats {
			classname := models.JoinClassname(string(protocol), g.name,
				"to_"+strings.ReplaceAll(comb.String(), " ", "_"), models.CleanName(d))

			dest, err := g.destination(classname)
			if err != nil {
				return nil, err
			}

			tests = append(tests, &models.Test{
				Classname:   classname,
				Kind:        models.TestKindTranscoding,
				Generator:   g.name,
				Command:     g.command,
				Args:        []string{"-o", Profile(comb, d), a.URI, dest},
				Timeout:     g.opts.Timeout,
				HardTimeout: hardTimeout(duration, g.opts.HardTimeoutFactor),
				Duration:    duration,
				URI:         a.URI,
				Descriptor:  d,
			})
		}
	}

	return g.finish(tests, skipped, started), nil
}

// Duration is the expected run time, shortened for audio-only assets
func (g *Transcoding) Duration(d models.MediaDescriptor) time.Duration {
	dur := models.TicksToDuration(d.Duration())
	if d.NumTracks(models.TrackVideo) == 0 {
		return dur / time.Duration(g.opts.AudioOnlyRatio)
	}
	return dur
}

// destination maps "<proto>.transcode.<a>.<b>" to the file URI "<dest>/<proto>/<a>/<b>"
func (g *Transcoding) destination(classname string) (string, error) {
	rel := strings.ReplaceAll(strings.Replace(classname, ".transcode.", "/", 1), ".", "/")
	dest := filepath.Join(g.opts.Dest, filepath.FromSlash(rel))

	if u, err := url.Parse(g.opts.Dest); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return strings.TrimRight(g.opts.Dest, "/") + "/" + rel, nil
	}
	uri, err := media.PathToURI(dest)
	if err != nil {
		return "", fmt.Errorf("invalid transcoding destination %s: %w", dest, err)
	}
	return uri, nil
}

// Profile builds the encoding profile passed with -o
func Profile(comb models.FormatCombination, d models.MediaDescriptor) string {
	vcaps := comb.VideoCaps()
	acaps := comb.AudioCaps()
	vrestriction := comb.VideoRestriction
	arestriction := comb.AudioRestriction

	videoPresence := 0
	audioPresence := 0
	variableFramerate := false

	if d != nil {
		videoPresence = d.NumTracks(models.TrackVideo)
		audioPresence = d.NumTracks(models.TrackAudio)

		fr, hasFramerate := media.VideoFramerate(d)
		variable := hasFramerate && fr.Num == 0 && fr.Den == 1

		if comb.Video == "theora" && variable {
			// theoraenc cannot encode a variable framerate
			vrestriction = fixedFramerate(vrestriction, caps.Fraction{Num: 30, Den: 1})
			variable = false
		}
		if variable && videoPresence == 1 && !strings.Contains(vrestriction, "framerate") {
			variableFramerate = true
		}

		if videoPresence == 0 {
			vcaps = ""
		}
		if audioPresence == 0 {
			acaps = ""
		}
	}

	var b strings.Builder
	b.WriteString(comb.ContainerCaps())
	b.WriteString(":")
	if vcaps != "" {
		if vrestriction != "" {
			b.WriteString(vrestriction + "->")
		}
		b.WriteString(vcaps)
		var props []string
		if videoPresence > 0 {
			props = append(props, fmt.Sprintf("presence=%d", videoPresence))
		}
		if variableFramerate {
			props = append(props, "variable-framerate=true")
		}
		if len(props) > 0 {
			b.WriteString("|" + strings.Join(props, "|"))
		}
	}
	if acaps != "" {
		b.WriteString(":")
		if arestriction != "" {
			b.WriteString(arestriction + "->")
		}
		b.WriteString(acaps)
		if audioPresence > 0 {
			fmt.Fprintf(&b, "|%d", audioPresence)
		}
	}

	return strings.ReplaceAll(b.String(), "::", ":")
}

func fixedFramerate(restriction string, fr caps.Fraction) string {
	if restriction == "" {
		restriction = "video/x-raw"
	}
	parsed, err := caps.Parse(restriction)
	if err != nil {
		return restriction
	}
	for _, st := range parsed {
		if _, ok := st.Get("framerate"); !ok {
			st.Set("framerate", "fraction", fr.String())
		}
	}
	return parsed.String()
}

// StallVerdict is the outcome of a transcoding test that kept running after EOS
type StallVerdict string

// StallVerdict constants
const (
	StallNone       StallVerdict = ""
	StallKnownError StallVerdict = "known_error"
	StallFailed     StallVerdict = "failed"
)

// CheckEOSStall decides what to report for a transcoding test still running
// sinceEOS after its scenario sent EOS. HLS sources are known to stall.
func CheckEOSStall(protocol models.Protocol, sinceEOS time.Duration) (StallVerdict, string) {
	if sinceEOS <= EOSStallLimit {
		return StallNone, ""
	}
	if protocol == models.ProtocolHLS {
		return StallKnownError, "Got no EOS 30 seconds after sending EOS, in HLS known and tolerated issue: " +
			"https://gitlab.freedesktop.org/gstreamer/gst-plugins-bad/issues/132"
	}
	return StallFailed, "Pipeline did not stop 30 Seconds after sending EOS"
}
