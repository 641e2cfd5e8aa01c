package generator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/expand"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ScenarioSource resolves scenario names and paths
type ScenarioSource interface {
	Get(nameOrPath string) (*scenario.Scenario, error)
}

// PipelineOptions configures a templated pipeline generator
type PipelineOptions struct {
	// PrivateDir receives materialized configs and scenarios
	PrivateDir string
	Mute       bool
	Tools      Tools
	// Vars are available to pipelines, configs and inline scenario actions
	Vars              expand.Vars
	Scenarios         ScenarioSource
	HardTimeoutFactor int
}

type preparedTest struct {
	def       TestDefinition
	vars      expand.Vars
	env       map[string]string
	scenarios []string
	// configs maps a scenario name, or "" for none, to its config file
	configs map[string]string
	timeout time.Duration
	hard    time.Duration
}

// Pipeline generates tests from declarative pipeline definitions
type Pipeline struct {
	Base
	opts  PipelineOptions
	tests []preparedTest
}

// NewPipeline prepares definitions and writes their configs and inline
// scenarios under the private directory. A broken definition is left out and
// reported in the returned error; the generator still serves the others.
func NewPipeline(name string, defs []TestDefinition, filter ScenarioFilter, opts PipelineOptions, logger *logging.Logger) (*Pipeline, error) {
	if opts.HardTimeoutFactor <= 0 {
		opts.HardTimeoutFactor = DefaultHardTimeoutFactor
	}
	if opts.Tools.Validate == "" {
		opts.Tools = DefaultTools()
	}
	if opts.Vars == nil {
		opts.Vars = expand.Vars{}
	}

	g := &Pipeline{
		Base: NewBase(name, filter, logger),
		opts: opts,
	}

	var errs []error
	for _, def := range defs {
		p, err := g.prepare(def)
		if err != nil {
			g.logger.WithTest(def.Name).WithError(err).Error("Invalid test definition")
			errs = append(errs, fmt.Errorf("%s.%s: %w", name, def.Name, err))
			continue
		}
		g.tests = append(g.tests, *p)
	}
	return g, errors.Join(errs...)
}

// NewPipelineFromFile builds a generator from a loaded definition file
func NewPipelineFromFile(f *DefinitionFile, opts PipelineOptions, logger *logging.Logger) (*Pipeline, error) {
	opts.Vars = expand.Vars(f.Vars).Merge(opts.Vars)
	return NewPipeline(f.Generator, f.Tests, Only(f.ValidScenarios...), opts, logger)
}

func (g *Pipeline) prepare(def TestDefinition) (*preparedTest, error) {
	if def.Pipeline == "" {
		return nil, ErrMissingPipeline
	}

	privateDir := filepath.Join(g.opts.PrivateDir, g.name, def.Name)
	p := &preparedTest{
		def:     def,
		configs: make(map[string]string),
		timeout: seconds(def.Timeout, models.DefaultTimeout),
		hard:    seconds(def.HardTimeout, 0),
	}

	if len(def.Scenarios) == 0 && !def.Config.IsZero() {
		cfg, err := materializeConfig(def.Config, privateDir, def.Name, g.opts.Vars)
		if err != nil {
			return nil, err
		}
		p.configs[""] = cfg
	}

	for _, ref := range def.Scenarios {
		name := ref.scenarioName()
		dir := filepath.Join(privateDir, name)

		switch {
		case ref.Ref != "":
			p.scenarios = append(p.scenarios, ref.Ref)
		case len(ref.Actions) > 0:
			path, err := materializeScenario(name, ref.Actions, dir, g.opts.Vars)
			if err != nil {
				return nil, err
			}
			p.scenarios = append(p.scenarios, path)
		default:
			p.scenarios = append(p.scenarios, name)
		}

		if !def.Config.IsZero() {
			cfg, err := materializeConfig(def.Config, dir, def.Name+"."+name, g.opts.Vars)
			if err != nil {
				return nil, err
			}
			p.configs[name] = cfg
		}
	}

	vars, err := expand.ExpandDeep(expand.Vars(def.Vars), g.opts.Vars)
	if err != nil {
		return nil, fmt.Errorf("vars: %w", err)
	}
	p.vars = g.opts.Vars.Merge(vars.(expand.Vars))

	env, err := expand.ExpandDeep(def.ExtraEnvVars, g.opts.Vars)
	if err != nil {
		return nil, fmt.Errorf("extra_env_vars: %w", err)
	}
	p.env = env.(map[string]string)

	return p, nil
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// Generate implements Generator. Assets are ignored: every definition carries its own media.
func (g *Pipeline) Generate(ctx context.Context, _ []models.Asset, scenarios []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	inherited := g.Scenarios(scenarios)

	var tests []*models.Test
	skipped := 0

	for i := range g.tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &g.tests[i]

		toRun, err := g.scenariosFor(p, inherited)
		if err != nil {
			g.logger.WithTest(p.def.Name).WithError(err).Error("Skipping test definition")
			skipped++
			continue
		}

		desc := p.def.Descriptor
		if desc == nil {
			info := p.def.Media
			info.PlaysReverse = true
			desc = media.NewFake(info, p.def.Pipeline)
		}

		for _, s := range toRun {
			fname := g.FName(s, desc.Protocol(), p.def.Name)
			if !models.IsCompatible(desc, s) {
				g.skipCombination(fname)
				skipped++
				continue
			}

			t, err := g.buildTest(p, desc, s, fname)
			if err != nil {
				g.logger.WithTest(fname).WithError(err).Error("Failed to expand pipeline")
				skipped++
				continue
			}
			tests = append(tests, t)
		}
	}

	return g.finish(tests, skipped, started), nil
}

func (g *Pipeline) scenariosFor(p *preparedTest, inherited []models.Scenario) ([]models.Scenario, error) {
	if p.def.InheritScenarios {
		return inherited, nil
	}
	if len(p.scenarios) == 0 {
		return []models.Scenario{nil}, nil
	}
	if g.opts.Scenarios == nil {
		return nil, fmt.Errorf("%w: no scenario registry to resolve %v", ErrUnknownScenario, p.scenarios)
	}

	out := make([]models.Scenario, 0, len(p.scenarios))
	for _, ref := range p.scenarios {
		s, err := g.opts.Scenarios.Get(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownScenario, ref, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *Pipeline) buildTest(p *preparedTest, desc models.MediaDescriptor, s models.Scenario, fname string) (*models.Test, error) {
	audiosink, videosink := sinks(g.opts.Mute, needsClockSync(s))
	vars := p.vars.Merge(expand.Vars{"videosink": videosink, "audiosink": audiosink})

	pipeline, err := expand.Expand(p.def.Pipeline, vars)
	if err != nil {
		return nil, err
	}

	duration := expectedDuration(s, desc)
	hard := p.hard
	if hard == 0 {
		hard = hardTimeout(duration, g.opts.HardTimeoutFactor)
	}

	t := &models.Test{
		Classname:      fname,
		Kind:           models.TestKindLaunch,
		Generator:      g.name,
		Command:        g.opts.Tools.Validate,
		Pipeline:       models.NewPipeline(pipeline),
		Args:           mediaInfoArgs(desc),
		Timeout:        p.timeout,
		HardTimeout:    hard,
		Duration:       duration,
		URI:            desc.URI(),
		Descriptor:     desc,
		Scenario:       s,
		ExpectedIssues: p.def.ExpectedIssues,
	}
	for k, v := range p.env {
		t.SetEnv(k, v)
	}

	key := ""
	if s != nil {
		key = s.Name()
	}
	cfg, ok := p.configs[key]
	if !ok {
		// inherited scenarios share the definition config
		cfg = p.configs[""]
	}
	t.AddValidateConfig(cfg)

	return t, nil
}
