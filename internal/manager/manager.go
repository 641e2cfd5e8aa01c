// Package manager assembles the test matrix: it discovers assets, selects
// scenarios, runs every registered generator in order and annotates the
// result with known issues.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/blacklist"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/generator"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/ports"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/tracing"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

var (
	// ErrToolNotFound is returned by Init when a validation binary is missing
	ErrToolNotFound = errors.New("command not found")
	// ErrNotInitialized is returned when tests are listed before Init
	ErrNotInitialized = errors.New("manager not initialized")
)

// AllTests is the wanted-tests token selecting every known scenario
const AllTests = "ALL"

// DefaultConfigName is written to the logs dir when expectation generation is forced
const DefaultConfigName = "__validate_default.config"

// Manager owns the asset registry and the generators of one run
type Manager struct {
	cfg        config.LauncherConfig
	logger     *logging.Logger
	ports      *ports.Allocator
	scenarios  *scenario.Registry
	blacklist  *blacklist.Matcher
	discoverer *media.Discoverer
	cache      media.Cache
	lookPath   LookPathFunc

	mu                 sync.Mutex
	initialized        bool
	tools              generator.Tools
	runDefaults        bool
	wanted             []*regexp.Regexp
	defaultConfig      string
	populated          bool
	defaultsRegistered bool
	generators         []generator.Generator
	formats            []models.FormatCombination
	assets             []models.Asset
	assetsLoaded       bool
	tests              []*models.Test
	listed             bool
	duplicates         int
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPorts shares a port allocator with the companion servers
func WithPorts(a *ports.Allocator) Option {
	return func(m *Manager) { m.ports = a }
}

// WithScenarios replaces the scenario registry
func WithScenarios(r *scenario.Registry) Option {
	return func(m *Manager) { m.scenarios = r }
}

// WithBlacklist replaces the known issues matcher
func WithBlacklist(b *blacklist.Matcher) Option {
	return func(m *Manager) { m.blacklist = b }
}

// WithDescriptorCache caches parsed descriptors
func WithDescriptorCache(c media.Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLookPath replaces exec.LookPath when resolving tools
func WithLookPath(fn LookPathFunc) Option {
	return func(m *Manager) { m.lookPath = fn }
}

// New creates a manager. Init must be called before listing tests.
func New(cfg config.LauncherConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		lookPath:    exec.LookPath,
		runDefaults: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNopLogger()
	}
	if m.ports == nil {
		m.ports = ports.NewAllocator(ports.WithObserver(metrics.RecordPortEvent))
	}
	if m.scenarios == nil {
		m.scenarios = scenario.NewRegistry(m.logger)
	}
	if m.blacklist == nil {
		m.blacklist = blacklist.NewMatcher(m.logger)
	}
	if m.cfg.DiscoveryWorkers <= 0 {
		m.cfg.DiscoveryWorkers = 1
	}
	if m.cfg.HTTPServerPort == 0 {
		m.cfg.HTTPServerPort = DefaultHTTPServerPort
	}
	return m
}

// Init resolves the validation tools. A missing tool is fatal.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools, err := m.resolveTools()
	if err != nil {
		m.logger.WithError(err).Error("Validation tools missing")
		return err
	}
	m.tools = tools
	m.discoverer = media.NewDiscoverer(tools.MediaCheck, m.cache, m.logger)
	m.initialized = true
	return nil
}

// Tools returns the resolved validation tools
func (m *Manager) Tools() generator.Tools {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// Ports returns the allocator companion server ports are reserved from
func (m *Manager) Ports() *ports.Allocator { return m.ports }

// Blacklist returns the known issues matcher
func (m *Manager) Blacklist() *blacklist.Matcher { return m.blacklist }

// ApplySettings interprets the wanted tests and writes the default validate
// config when expectation generation is forced. It returns the default config
// path, empty when none was written.
func (m *Manager) ApplySettings() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wanted = nil
	m.runDefaults = true
	for _, w := range m.cfg.WantedTests {
		if strings.Contains(w, AllTests) {
			m.runDefaults = false
			w = strings.ReplaceAll(w, AllTests, "")
		}
		if w == "" {
			continue
		}
		re, err := regexp.Compile(w)
		if err != nil {
			return "", fmt.Errorf("invalid wanted test pattern %q: %w", w, err)
		}
		m.wanted = append(m.wanted, re)
	}

	m.defaultConfig = ""
	if m.cfg.GenerateExpectations == "" || m.cfg.GenerateExpectations == "auto" {
		return "", nil
	}

	val := "false"
	if m.cfg.GenerateExpectations == "enabled" {
		val = "true"
	}
	path := filepath.Join(m.cfg.LogsDir, DefaultConfigName)
	if err := os.MkdirAll(m.cfg.LogsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create logs dir: %w", err)
	}
	content := fmt.Sprintf("validateflow,generate-expectations=%s\n", val)
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	m.defaultConfig = path
	return path, nil
}

// RunsDefaults reports whether the curated scenario list is used
func (m *Manager) RunsDefaults() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runDefaults
}

// AddGenerators appends generators, run after the ones already registered
func (m *Manager) AddGenerators(gs ...generator.Generator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generators = append(m.generators, gs...)
}

// Generators returns the registered generator names in run order
func (m *Manager) Generators() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.generators))
	for _, g := range m.generators {
		names = append(names, g.Name())
	}
	return names
}

// PopulateTestsuite registers the defaults, definition files and optional
// generators. Only the first call has any effect.
func (m *Manager) PopulateTestsuite() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.populated {
		return nil
	}
	if !m.initialized {
		return ErrNotInitialized
	}

	if err := m.registerDefaultsLocked(); err != nil {
		return err
	}
	m.registerDefinitionsLocked()
	m.registerExtrasLocked()

	m.populated = true
	return nil
}

// RegisterDefaults registers the scenarios, encoding formats, known issues
// and generators every run uses. Only the first call has any effect.
func (m *Manager) RegisterDefaults() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	return m.registerDefaultsLocked()
}

func (m *Manager) registerDefaultsLocked() error {
	if m.defaultsRegistered {
		return nil
	}

	// scenarios
	m.scenarios.RegisterBuiltins()
	if len(m.cfg.ScenariosPaths) > 0 {
		if _, err := m.scenarios.Discover(m.cfg.ScenariosPaths); err != nil {
			return err
		}
	}

	// encoding formats
	m.formats = generator.DefaultFormats()
	for _, f := range m.cfg.EncodingFormats {
		m.formats = append(m.formats, models.FormatCombination{
			Container:        f.Container,
			Audio:            f.Audio,
			Video:            f.Video,
			VideoRestriction: f.VideoRestriction,
			AudioRestriction: f.AudioRestriction,
		})
	}

	// known issues
	if err := m.blacklist.LoadDefaults(); err != nil {
		return err
	}
	for _, f := range m.cfg.BlacklistFiles {
		if err := m.blacklist.LoadFile(f); err != nil {
			return err
		}
	}
	if m.cfg.SuppressionFile != "" {
		if err := m.blacklist.LoadSuppressions(m.cfg.SuppressionFile); err != nil {
			m.logger.WithError(err).Warn("Ignoring suppression file")
		}
	}

	// generators
	m.generators = append(m.generators,
		generator.NewPlayback(generator.PlaybackOptions{
			Mute:             m.cfg.Mute,
			Tools:            m.tools,
			DisableRTSP:      m.cfg.DisableRTSP,
			Ports:            m.ports,
			RTSPOverridesDir: m.cfg.RTSPOverridesDir,
		}, m.logger),
		generator.NewMediaCheck(m.tools, m.logger),
		generator.NewTranscoding(m.tools, generator.TranscodingOptions{
			Formats: m.formats,
			Dest:    m.cfg.Dest,
		}, m.logger),
	)

	m.defaultsRegistered = true
	return nil
}

func (m *Manager) pipelineOptions() generator.PipelineOptions {
	return generator.PipelineOptions{
		PrivateDir: m.cfg.PrivateDir,
		Mute:       m.cfg.Mute,
		Tools:      m.tools,
		Scenarios:  m.scenarios,
	}
}

// registerDefinitionsLocked adds one pipeline generator per definition file.
// A defective definition only loses its own tests.
func (m *Manager) registerDefinitionsLocked() {
	for _, path := range m.cfg.DefinitionFiles {
		f, err := generator.LoadDefinitionFile(path)
		if err != nil {
			m.logger.WithError(err).Errorf("Ignoring definition file %s", path)
			metrics.RecordGenerationError(filepath.Base(path))
			continue
		}

		g, err := generator.NewPipelineFromFile(f, m.pipelineOptions(), m.logger)
		if err != nil {
			metrics.RecordGenerationError(f.Generator)
		}
		if g != nil {
			m.generators = append(m.generators, g)
		}
	}
}

// registerExtrasLocked adds the generators that are enabled by configuration
func (m *Manager) registerExtrasLocked() {
	explicit := len(m.cfg.ValidateURIs) > 0

	if m.cfg.Mixers {
		m.generators = append(m.generators,
			generator.NewMixer("compose", generator.MixerOptions{
				Mixer:        "compositor",
				MediaType:    models.TrackVideo,
				Converter:    "videoconvert",
				Filter:       generator.Only("play_15s", "seek_forward", "seek_backward"),
				Mute:         m.cfg.Mute,
				Tools:        m.tools,
				ExplicitURIs: explicit,
			}, m.logger),
			generator.NewMixer("audiomix", generator.MixerOptions{
				Mixer:        "audiomixer",
				MediaType:    models.TrackAudio,
				Converter:    "audioconvert ! audioresample",
				Filter:       generator.Only("play_15s", "seek_forward", "seek_backward"),
				Mute:         m.cfg.Mute,
				Tools:        m.tools,
				ExplicitURIs: explicit,
			}, m.logger),
		)
	}

	if m.cfg.TestsDir != "" {
		m.generators = append(m.generators,
			generator.NewSimple("simple", m.cfg.TestsDir, m.tools, m.cfg.Mute, m.logger))
	}
}

// accurateSeeking builds the accurate seeking generator over the discovered
// file assets, or nil when it is not configured.
func (m *Manager) accurateSeeking(assets []models.Asset) generator.Generator {
	if m.cfg.AccurateSeekReferenceDir == "" {
		return nil
	}

	var seek []generator.SeekMedia
	for _, a := range assets {
		if a.Descriptor.Protocol() != models.ProtocolFile {
			continue
		}
		seek = append(seek, generator.SeekMedia{
			Descriptor:         a.Descriptor,
			ReferenceFramesDir: filepath.Join(m.cfg.AccurateSeekReferenceDir, models.CleanName(a.Descriptor)),
		})
	}
	if len(seek) == 0 {
		return nil
	}

	g, err := generator.NewAccurateSeeking("check_accurate_seek", generator.AccurateSeekOptions{
		LongLimit:         m.cfg.LongLimit,
		GenerateReference: m.cfg.GenerateSSIMReference,
		Media:             seek,
	}, m.pipelineOptions(), m.logger)
	if err != nil {
		metrics.RecordGenerationError("check_accurate_seek")
	}
	if g == nil {
		return nil
	}
	return g
}

// selectScenarios returns the curated list, or every known scenario when ALL was asked for
func (m *Manager) selectScenarios() ([]models.Scenario, error) {
	var selected []*scenario.Scenario
	if m.runDefaults {
		var err error
		selected, err = m.scenarios.Select(scenario.DefaultNames)
		if err != nil {
			return nil, err
		}
	} else {
		selected = m.scenarios.All()
	}

	out := make([]models.Scenario, 0, len(selected))
	for _, s := range selected {
		out = append(out, s)
	}
	return out, nil
}

// ListTests generates the test matrix. Generators run in registration order
// and the result is cached: later calls return the same tests.
func (m *Manager) ListTests(ctx context.Context) ([]*models.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listed {
		return m.tests, nil
	}
	if !m.initialized {
		return nil, ErrNotInitialized
	}

	span, ctx := tracing.StartSpan(ctx, "manager.list_tests")
	defer tracing.FinishSpan(span)

	scenarios, err := m.selectScenarios()
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	assets, err := m.assetsLocked(ctx)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	for _, a := range assets {
		if d, ok := a.Descriptor.(*media.Descriptor); ok {
			d.Freeze()
		}
	}

	generators := m.generators
	if g := m.accurateSeeking(assets); g != nil {
		generators = append(generators[:len(generators):len(generators)], g)
	}

	seen := make(map[string]bool)
	for _, g := range generators {
		if err := m.runGenerator(ctx, g, assets, scenarios, seen); err != nil {
			m.releaseAll()
			m.tests = nil
			tracing.LogError(span, err)
			return nil, err
		}
	}

	if len(m.tests) == 0 && len(assets) == 0 && len(m.wanted) == 0 {
		m.logger.Info("No valid uris present in the path. Check if media files and info files exist")
	}
	if m.duplicates > 0 {
		metrics.RecordDuplicates(m.duplicates)
	}
	m.blacklist.ReportPending()

	tracing.SetTag(span, "tests", len(m.tests))
	tracing.SetTag(span, "assets", len(assets))
	m.listed = true
	return m.tests, nil
}

// runGenerator collects the tests of one generator. Definition defects are
// logged; only cancellation aborts the run.
func (m *Manager) runGenerator(ctx context.Context, g generator.Generator, assets []models.Asset, scenarios []models.Scenario, seen map[string]bool) error {
	span, gctx := tracing.StartGeneratorSpan(ctx, g.Name())
	defer tracing.FinishSpan(span)

	started := time.Now()
	tests, err := g.Generate(gctx, assets, scenarios)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			releaseCompanions(m.ports, tests)
			return ctxErr
		}
		tracing.LogError(span, err)
		metrics.RecordGenerationError(g.Name())
		m.logger.WithGenerator(g.Name()).WithError(err).Error("Generator reported defects")
	}

	produced, skipped := 0, 0
	for _, t := range tests {
		if t.Generator == "" {
			t.Generator = g.Name()
		}
		switch m.addTest(t, seen) {
		case kept:
			produced++
		case keptSkipped:
			produced++
			skipped++
		}
	}

	tracing.TagGeneration(span, produced, skipped)
	metrics.RecordGeneration(g.Name(), produced, skipped, time.Since(started).Seconds())
	return nil
}

type addResult int

const (
	dropped addResult = iota
	kept
	keptSkipped
)

// addTest appends t unless its classname is taken or it is not wanted.
// Blacklisted tests are kept, marked as skipped. Tests that will never run
// give their companion port back.
func (m *Manager) addTest(t *models.Test, seen map[string]bool) addResult {
	if seen[t.Classname] {
		m.duplicates++
		m.logger.WithTest(t.Classname).WithGenerator(t.Generator).Warn("Dropping duplicate test")
		releaseCompanion(m.ports, t)
		return dropped
	}
	if !m.isWanted(t.Classname) {
		releaseCompanion(m.ports, t)
		return dropped
	}
	seen[t.Classname] = true

	t.AddValidateConfig(m.defaultConfig)
	if t.ReadsFromHTTP(m.cfg.HTTPServerPort) {
		t.NeedsHTTPServer = true
	}
	m.tests = append(m.tests, t)

	if skip, reason := m.blacklist.ShouldSkip(t.Classname); skip {
		t.Skip = true
		t.SkipReason = reason
		releaseCompanion(m.ports, t)
		return keptSkipped
	}
	return kept
}

func (m *Manager) isWanted(classname string) bool {
	if len(m.wanted) == 0 {
		return true
	}
	for _, re := range m.wanted {
		if re.MatchString(classname) {
			return true
		}
	}
	return false
}

func releaseCompanion(alloc *ports.Allocator, t *models.Test) {
	if t.Companion != nil && alloc != nil {
		alloc.Release(t.Companion.Port)
	}
}

func releaseCompanions(alloc *ports.Allocator, tests []*models.Test) {
	for _, t := range tests {
		releaseCompanion(alloc, t)
	}
}

func (m *Manager) releaseAll() {
	for _, t := range m.tests {
		if !t.Skip {
			releaseCompanion(m.ports, t)
		}
	}
}

// Duplicates returns how many tests were dropped for reusing a classname
func (m *Manager) Duplicates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duplicates
}

// NeedsHTTPServer reports whether a runnable test reads from the local HTTP server
func (m *Manager) NeedsHTTPServer(ctx context.Context) (bool, error) {
	tests, err := m.ListTests(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tests {
		if !t.Skip && t.NeedsHTTPServer {
			return true, nil
		}
	}
	return false, nil
}

// Manifest snapshots the generated tests
func (m *Manager) Manifest(ctx context.Context, runID string) (*models.Manifest, error) {
	tests, err := m.ListTests(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewManifest(runID, tests, m.blacklist.Pending()), nil
}
