package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

var (
	// ErrMissingPipeline is returned for a test definition without a pipeline
	ErrMissingPipeline = errors.New("test definition has no pipeline")
	// ErrUnknownScenario is returned when a definition references a scenario that cannot be found
	ErrUnknownScenario = errors.New("unknown scenario")
)

// DefaultHardTimeoutFactor multiplies the expected duration to get the hard timeout
const DefaultHardTimeoutFactor = 5

// Generator turns assets and scenarios into tests
type Generator interface {
	Name() string
	// Generate returns the tests in a deterministic order: asset order, then scenario order.
	Generate(ctx context.Context, assets []models.Asset, scenarios []models.Scenario) ([]*models.Test, error)
}

// Tools holds the validation binaries tests are run with
type Tools struct {
	Validate    string
	Transcoding string
	MediaCheck  string
	RTSPServer  string
}

// DefaultTools returns the standard binary names
func DefaultTools() Tools {
	return Tools{
		Validate:    "gst-validate-1.0",
		Transcoding: "gst-validate-transcoding-1.0",
		MediaCheck:  "gst-validate-media-check-1.0",
		RTSPServer:  "gst-validate-rtsp-server-1.0",
	}
}

// FilterMode selects how a generator narrows the scenario set it is given
type FilterMode int

// FilterMode constants
const (
	// AllScenarios keeps every scenario
	AllScenarios FilterMode = iota
	// NoScenario ignores the scenario set and generates scenario-less tests
	NoScenario
	// OnlyScenarios keeps the named scenarios
	OnlyScenarios
)

// ScenarioFilter restricts the scenarios a generator iterates
type ScenarioFilter struct {
	Mode  FilterMode
	Names []string
}

// Only returns a filter keeping the named scenarios. With no names every scenario is kept.
func Only(names ...string) ScenarioFilter {
	if len(names) == 0 {
		return ScenarioFilter{Mode: AllScenarios}
	}
	return ScenarioFilter{Mode: OnlyScenarios, Names: names}
}

// Apply narrows scenarios. A nil entry in the result stands for "no scenario".
func (f ScenarioFilter) Apply(scenarios []models.Scenario) []models.Scenario {
	switch f.Mode {
	case NoScenario:
		return []models.Scenario{nil}
	case OnlyScenarios:
		keep := make(map[string]bool, len(f.Names))
		for _, n := range f.Names {
			keep[n] = true
		}
		var out []models.Scenario
		for _, s := range scenarios {
			if s != nil && keep[s.Name()] {
				out = append(out, s)
			}
		}
		return out
	default:
		return scenarios
	}
}

// Base carries what every generator shares: its name, scenario filter and logger
type Base struct {
	name   string
	filter ScenarioFilter
	logger *logging.Logger
}

// NewBase creates the shared part of a generator
func NewBase(name string, filter ScenarioFilter, logger *logging.Logger) Base {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return Base{name: name, filter: filter, logger: logger.WithGenerator(name)}
}

// Name implements Generator
func (b *Base) Name() string { return b.name }

// Scenarios applies the generator filter
func (b *Base) Scenarios(scenarios []models.Scenario) []models.Scenario {
	return b.filter.Apply(scenarios)
}

// FName builds "<protocol>.<name>.<scenario>" when a scenario is set, and
// "<protocol>.<generator>.<name>" otherwise. The name defaults to the
// generator name. Empty segments are dropped.
func (b *Base) FName(s models.Scenario, protocol models.Protocol, name string) string {
	if name == "" {
		name = b.name
	}
	if s != nil && !isNone(s) {
		return models.JoinClassname(string(protocol), name, s.Name())
	}
	return models.JoinClassname(string(protocol), b.name, name)
}

func isNone(s models.Scenario) bool {
	return strings.EqualFold(s.Name(), "none")
}

// skipAsset logs an asset that cannot be used by this generator
func (b *Base) skipAsset(uri, reason string) {
	b.logger.LogSkippedAsset(b.name, uri, reason)
}

// skipCombination logs an incompatible asset and scenario pair
func (b *Base) skipCombination(classname string) {
	b.logger.WithTest(classname).Debug("Skipping: media descriptor is not compatible")
}

// finish logs the generation outcome
func (b *Base) finish(tests []*models.Test, skipped int, started time.Time) []*models.Test {
	b.logger.LogGeneration(b.name, len(tests), skipped, time.Since(started))
	return tests
}

// expectedDuration is the scenario duration, or the media duration without a scenario
func expectedDuration(s models.Scenario, d models.MediaDescriptor) time.Duration {
	if s != nil {
		return models.TicksToDuration(s.Duration())
	}
	if d != nil {
		return models.TicksToDuration(d.Duration())
	}
	return 0
}

// hardTimeout derives a hard timeout from the expected duration
func hardTimeout(duration time.Duration, factor int) time.Duration {
	if duration <= 0 || factor <= 0 {
		return 0
	}
	return duration * time.Duration(factor)
}

// FakeSink returns a deterministic sink for mediaType. Clock-synced sinks
// drop late video buffers.
func FakeSink(mediaType models.TrackType, needsClock bool) string {
	sink := fmt.Sprintf("fake%ssink sync=%t", mediaType, needsClock)
	if mediaType == models.TrackVideo && needsClock {
		sink += " max-lateness=20000000"
	}
	return sink
}

// sinks picks the audio and video sinks for a test
func sinks(mute, needsClock bool) (audio, video string) {
	if !mute {
		return "autoaudiosink", "autovideosink"
	}
	return FakeSink(models.TrackAudio, needsClock), FakeSink(models.TrackVideo, needsClock)
}

func needsClockSync(s models.Scenario) bool {
	return s != nil && s.NeedsClockSync()
}

// mediaInfoArgs points the validation tool at the descriptor file, when one exists
func mediaInfoArgs(d models.MediaDescriptor) []string {
	if d == nil || d.Path() == "" {
		return nil
	}
	return []string{"--set-media-info", d.Path()}
}
