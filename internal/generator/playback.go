package generator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/ports"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ReverseRingBufferSize lets HTTP sources buffer enough to play backwards
const ReverseRingBufferSize = 10485760

// PlaybackOptions configures the playback generator
type PlaybackOptions struct {
	// Template is the playback element, "playbin" by default
	Template string
	Mute     bool
	Tools    Tools
	// DisableRTSP turns off the companion RTSP variants
	DisableRTSP bool
	// Ports reserves companion server ports; RTSP variants are skipped without it
	Ports *ports.Allocator
	// RTSPOverridesDir is prepended to the scenario search path of RTSP tests
	RTSPOverridesDir  string
	HardTimeoutFactor int
	Timeout           time.Duration
}

// Playback plays every asset with every compatible scenario
type Playback struct {
	Base
	opts PlaybackOptions
}

// NewPlayback creates the playback generator
func NewPlayback(opts PlaybackOptions, logger *logging.Logger) *Playback {
	if opts.Template == "" {
		opts.Template = "playbin"
	}
	if opts.Tools.Validate == "" {
		opts.Tools = DefaultTools()
	}
	if opts.HardTimeoutFactor <= 0 {
		opts.HardTimeoutFactor = DefaultHardTimeoutFactor
	}
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultTimeout
	}

	g := &Playback{
		Base: NewBase("playback", ScenarioFilter{Mode: AllScenarios}, logger),
		opts: opts,
	}
	switch {
	case opts.DisableRTSP:
		g.logger.Info("RTSP tests are disabled")
	case opts.Tools.RTSPServer == "" || opts.Ports == nil:
		g.logger.Warn("RTSP server not available, RTSP tests will not be generated")
	}
	return g
}

func (g *Playback) rtspEnabled() bool {
	return !g.opts.DisableRTSP && g.opts.Tools.RTSPServer != "" && g.opts.Ports != nil
}

// Generate implements Generator
func (g *Playback) Generate(ctx context.Context, assets []models.Asset, scenarios []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	scenarios = g.Scenarios(scenarios)

	var tests []*models.Test
	skipped := 0

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			g.releaseAll(tests)
			return nil, err
		}
		d := a.Descriptor
		if d == nil {
			skipped++
			continue
		}
		protocol := d.Protocol()
		if protocol == models.ProtocolRTSP {
			g.logger.WithAsset(a.URI).Debug("Skipping RTSP stream")
			skipped++
			continue
		}

		pipe := g.opts.Template + " uri=" + a.URI
		withRTSP := g.rtspEnabled() && protocol == models.ProtocolFile && !d.IsImage()
		var rtspDesc models.MediaDescriptor
		if withRTSP {
			rtspDesc = media.NewRTSP(d)
		}

		all := make([]models.Scenario, 0, len(a.SpecialScenarios)+len(scenarios))
		all = append(all, a.SpecialScenarios...)
		all = append(all, scenarios...)

		for _, s := range all {
			fname := g.testName(s, protocol, d)
			if !models.IsCompatible(d, s) {
				g.skipCombination(fname)
				skipped++
				continue
			}

			cpipe := g.setSinks(pipe, s, d)
			if s != nil && s.DoesReversePlayback() && protocol == models.ProtocolHTTP {
				cpipe += fmt.Sprintf(" ring-buffer-max-size=%d", ReverseRingBufferSize)
			}
			tests = append(tests, g.launchTest(fname, models.NewPipeline(cpipe), a.URI, d, s))

			if !withRTSP {
				continue
			}
			if !models.IsCompatible(rtspDesc, s) {
				g.skipCombination(g.testName(s, models.ProtocolRTSP, rtspDesc))
				skipped++
				continue
			}

			rpipe := g.setSinks(g.opts.Template+" uri=rtsp://127.0.0.1:"+models.PortPlaceholder+"/test", s, rtspDesc)
			tests = append(tests,
				g.rtspTest(g.testName(s, models.ProtocolRTSP, rtspDesc), rpipe, a.URI, rtspDesc, s, false),
				g.rtspTest(g.testName(s, models.ProtocolRTSP+"2", rtspDesc), rpipe, a.URI, rtspDesc, s, true),
			)
		}
	}

	return g.finish(tests, skipped, started), nil
}

func (g *Playback) testName(s models.Scenario, protocol models.Protocol, d models.MediaDescriptor) string {
	return models.JoinClassname(g.FName(s, protocol, ""), models.CleanName(d))
}

func (g *Playback) setSinks(pipe string, s models.Scenario, d models.MediaDescriptor) string {
	if !g.opts.Mute {
		return pipe
	}
	needsClock := needsClockSync(s) || d.NeedsClockSync()
	return pipe + " audio-sink='" + FakeSink(models.TrackAudio, needsClock) +
		"' video-sink='" + FakeSink(models.TrackVideo, needsClock) + "'"
}

func (g *Playback) launchTest(fname string, pipe *models.Pipeline, uri string, d models.MediaDescriptor, s models.Scenario) *models.Test {
	duration := expectedDuration(s, d)
	return &models.Test{
		Classname:   fname,
		Kind:        models.TestKindLaunch,
		Generator:   g.name,
		Command:     g.opts.Tools.Validate,
		Pipeline:    pipe,
		Args:        mediaInfoArgs(d),
		Timeout:     g.opts.Timeout,
		HardTimeout: hardTimeout(duration, g.opts.HardTimeoutFactor),
		Duration:    duration,
		URI:         uri,
		Descriptor:  d,
		Scenario:    s,
	}
}

// rtspTest reserves a companion port now so that concurrently running
// companion servers never share one. The port goes back on teardown.
func (g *Playback) rtspTest(fname, pipe, localURI string, d models.MediaDescriptor, s models.Scenario, rtsp2 bool) *models.Test {
	t := g.launchTest(fname, models.NewPipelineTemplate(pipe), d.URI(), d, s)
	t.Kind = models.TestKindRTSP
	t.Companion = &models.Companion{
		Command:  g.opts.Tools.RTSPServer,
		LocalURI: localURI,
		Port:     g.opts.Ports.Acquire(),
		RTSP2:    rtsp2,
	}

	if g.opts.RTSPOverridesDir != "" {
		path := g.opts.RTSPOverridesDir
		if cur := os.Getenv("GST_VALIDATE_SCENARIOS_PATH"); cur != "" {
			path += string(os.PathListSeparator) + cur
		}
		t.SetEnv("GST_VALIDATE_SCENARIOS_PATH", path)
	}
	if rtsp2 {
		t.SetEnv("GST_VALIDATE_SCENARIO", strings.TrimPrefix(os.Getenv("GST_VALIDATE_SCENARIO")+":force_rtsp2", ":"))
	}
	return t
}

// releaseAll gives back the ports of tests that will never run
func (g *Playback) releaseAll(tests []*models.Test) {
	for _, t := range tests {
		if t.Companion != nil {
			g.opts.Ports.Release(t.Companion.Port)
		}
	}
}
