package generator

import (
	"context"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/expand"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// MixedSources is one explicit set of branches fed to the mixer
type MixedSources struct {
	Name string
	// MixerProps are appended to the mixer element
	MixerProps string
	Sources    []string

	// descriptors of grouped assets, checked against each scenario
	descriptors []models.MediaDescriptor
}

// MixerOptions configures a mixer generator
type MixerOptions struct {
	// Mixer is the mixing element, e.g. "compositor" or "audiomixer"
	Mixer     string
	MediaType models.TrackType
	Converter string
	// NumSources is the batch size when grouping assets, 3 by default
	NumSources int
	// Sources are used as is; when empty assets are grouped automatically
	Sources []MixedSources
	Filter  ScenarioFilter
	Mute    bool
	Tools   Tools
	// ExplicitURIs disables the generator, mixing only makes sense over a media collection
	ExplicitURIs      bool
	HardTimeoutFactor int
	Timeout           time.Duration
}

// Mixer feeds several sources into one mixing element
type Mixer struct {
	Base
	opts     MixerOptions
	template string
}

// NewMixer creates a mixer generator
func NewMixer(name string, opts MixerOptions, logger *logging.Logger) *Mixer {
	if opts.NumSources <= 0 {
		opts.NumSources = 3
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
	return &Mixer{
		Base:     NewBase(name, opts.Filter, logger),
		opts:     opts,
		template: "%(mixer)s name=_mixer !  " + opts.Converter + " ! %(sink)s ",
	}
}

// Generate implements Generator
func (g *Mixer) Generate(ctx context.Context, assets []models.Asset, scenarios []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	if g.opts.ExplicitURIs {
		return nil, nil
	}

	groups := g.opts.Sources
	if len(groups) == 0 {
		groups = g.group(assets)
		if len(groups) == 0 {
			g.logger.Debug("No assets to mix")
			return nil, nil
		}
	}

	var tests []*models.Test
	skipped := 0
	for _, group := range groups {
		mixer := g.opts.Mixer
		if group.MixerProps != "" {
			mixer += " " + group.MixerProps
		}

		for _, s := range g.Scenarios(scenarios) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			sink := "auto" + string(g.opts.MediaType) + "sink"
			if g.opts.Mute {
				sink = FakeSink(g.opts.MediaType, needsClockSync(s))
			}

			pipe, err := expand.Expand(g.template, expand.Vars{"mixer": mixer, "sink": sink})
			if err != nil {
				return nil, err
			}
			for _, src := range group.Sources {
				pipe += src + " ! _mixer. "
			}

			classname := models.JoinClassname(g.FName(s, models.ProtocolFile, ""), group.Name)
			if !g.compatible(group, s) {
				g.skipCombination(classname)
				skipped++
				continue
			}

			duration := expectedDuration(s, nil)
			tests = append(tests, &models.Test{
				Classname:   classname,
				Kind:        models.TestKindLaunch,
				Generator:   g.name,
				Command:     g.opts.Tools.Validate,
				Pipeline:    models.NewPipeline(pipe),
				Timeout:     g.opts.Timeout,
				HardTimeout: hardTimeout(duration, g.opts.HardTimeoutFactor),
				Duration:    duration,
				Scenario:    s,
			})
		}
	}

	return g.finish(tests, skipped, started), nil
}

// compatible reports whether every grouped asset can run s
func (g *Mixer) compatible(group MixedSources, s models.Scenario) bool {
	for _, d := range group.descriptors {
		if !models.IsCompatible(d, s) {
			return false
		}
	}
	return true
}

// group batches local assets carrying the mixed media type
func (g *Mixer) group(assets []models.Asset) []MixedSources {
	var wanted []models.Asset
	for _, a := range assets {
		d := a.Descriptor
		if d != nil && d.Protocol() == models.ProtocolFile && d.NumTracks(g.opts.MediaType) > 0 {
			wanted = append(wanted, a)
		}
	}

	var groups []MixedSources
	for start := 0; start+g.opts.NumSources <= len(wanted); start += g.opts.NumSources {
		var group MixedSources
		names := make([]string, 0, g.opts.NumSources)
		for _, a := range wanted[start : start+g.opts.NumSources] {
			group.Sources = append(group.Sources, "uridecodebin uri="+a.URI+" ! "+g.opts.Converter)
			names = append(names, uriBaseName(a.URI))
			group.descriptors = append(group.descriptors, a.Descriptor)
		}
		group.Name = strings.Join(names, "+")
		groups = append(groups, group)
	}
	return groups
}
