package generator

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/caps"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// AccurateSeekScenario is the name of the generated frame-by-frame seek scenario
const AccurateSeekScenario = "check_accurate_seek"

// framesPerLongLimitSecond bounds the scenario length, seeks take about 0.2s per frame
const framesPerLongLimitSecond = 5

// SeekMedia is one asset to check, with the directory holding its reference frames
type SeekMedia struct {
	Descriptor         models.MediaDescriptor
	ReferenceFramesDir string
}

// AccurateSeekOptions configures the accurate seeking generator
type AccurateSeekOptions struct {
	// Source decodes the asset, "uridecodebin" by default. Any other source prefixes test names.
	Source string
	// LongLimit is the time budget in seconds a test should fit in
	LongLimit int
	// GenerateReference dumps reference frames instead of checking seeks
	GenerateReference bool
	Media             []SeekMedia
}

// NewAccurateSeeking builds a pipeline generator seeking to every frame of
// each asset and comparing the result with reference images.
func NewAccurateSeeking(name string, opts AccurateSeekOptions, popts PipelineOptions, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.LongLimit <= 0 {
		opts.LongLimit = 300
	}
	if popts.Scenarios == nil {
		popts.Scenarios = scenario.NewRegistry(logger)
	}
	log := logger.WithGenerator(name)

	var defs []TestDefinition
	for _, m := range opts.Media {
		d := m.Descriptor
		switch {
		case d.IsImage():
			log.LogSkippedAsset(name, d.URI(), "image, can't run accurate seeking tests")
			continue
		case d.NumTracks(models.TrackVideo) < 1:
			log.LogSkippedAsset(name, d.URI(), "no video track, can't run accurate seeking tests")
			continue
		}

		def := TestDefinition{Descriptor: d}
		if opts.GenerateReference {
			def.Name = models.CleanName(d) + ".generate_reference_files"
			def.Config = ConfigRef{Lines: []string{
				fmt.Sprintf(`validatessim, element-name="videoconvert", output-dir="%s"`, m.ReferenceFramesDir),
			}}
		} else {
			fr, ok := media.VideoFramerate(d)
			if !ok || fr.Num <= 0 || fr.Den <= 0 {
				log.LogSkippedAsset(name, d.URI(), "could not determine the video framerate")
				continue
			}
			def.Name = models.CleanName(d)
			def.Scenarios = []ScenarioRef{{
				Name:    AccurateSeekScenario,
				Actions: SeekActions(FrameTimestamps(d.Duration(), fr, opts.LongLimit)),
			}}
			def.Config = ConfigRef{Lines: []string{
				fmt.Sprintf(`%%(ssim)s, element-name="videoconvert", reference-images-dir="%s", framerate=%s`,
					m.ReferenceFramesDir, fr),
			}}
		}

		source := opts.Source
		if source == "" {
			source = "uridecodebin"
		} else {
			def.Name = source + "." + def.Name
		}
		def.Pipeline = source + " uri=" + d.URI() +
			" ! deinterlace ! videoconvert ! video/x-raw,interlace-mode=progressive,format=I420" +
			" ! videoconvert name=videoconvert ! %(videosink)s"

		defs = append(defs, def)
	}

	return NewPipeline(name, defs, ScenarioFilter{Mode: NoScenario}, popts, logger)
}

// FrameTimestamps returns the presentation time of every frame in duration
// ticks at framerate fr. When there are more frames than longLimit allows, only
// the first, middle and last thirds of the allowed count are kept.
func FrameTimestamps(duration int64, fr caps.Fraction, longLimit int) []int64 {
	if fr.Num <= 0 || fr.Den <= 0 {
		return nil
	}

	n := int(duration * fr.Num / (models.Second * fr.Den))
	ts := make([]int64, n)
	for i := range ts {
		// ceil(i * den * second / num)
		ts[i] = (int64(i)*fr.Den*models.Second + fr.Num - 1) / fr.Num
	}

	acceptable := longLimit * framesPerLongLimitSecond
	if n <= acceptable {
		return ts
	}

	per := acceptable / 3
	mid := ts[n/2-per/2 : n/2+per/2]

	out := make([]int64, 0, 2*per+len(mid))
	out = append(out, ts[:per]...)
	out = append(out, mid...)
	return append(out, ts[n-per:]...)
}

// SeekActions builds the scenario pausing then seeking accurately to each timestamp
func SeekActions(timestamps []int64) []string {
	actions := make([]string, 0, len(timestamps)+3)
	actions = append(actions,
		"description, seek=true, handles-states=true, needs_preroll=true",
		"pause",
	)
	for _, ts := range timestamps {
		actions = append(actions, fmt.Sprintf("seek, flags=flush+accurate, start=(guint64)%d", ts))
	}
	return append(actions, "stop")
}
