package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ScenarioRef names a registered scenario or a scenario file, or defines one inline
type ScenarioRef struct {
	// Ref is a scenario name or path
	Ref     string
	Name    string
	Actions []string
}

// UnmarshalYAML accepts either a string or a {name, actions} mapping
func (r *ScenarioRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Ref = node.Value
		return nil
	}

	var inline struct {
		Name    string   `yaml:"name"`
		Actions []string `yaml:"actions"`
	}
	if err := node.Decode(&inline); err != nil {
		return err
	}
	if inline.Name == "" {
		return fmt.Errorf("line %d: inline scenario needs a name", node.Line)
	}
	r.Name = inline.Name
	r.Actions = inline.Actions
	return nil
}

// scenarioName is the name the scenario will be registered under
func (r ScenarioRef) scenarioName() string {
	if r.Ref != "" {
		return strings.TrimSuffix(filepath.Base(r.Ref), "."+scenario.FileExtension)
	}
	return r.Name
}

// ConfigRef is either the path to a config file or inline config lines
type ConfigRef struct {
	Path  string
	Lines []string
}

// UnmarshalYAML accepts either a string or a list of lines
func (c *ConfigRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Path = node.Value
		return nil
	}
	return node.Decode(&c.Lines)
}

// IsZero reports whether no config was declared
func (c ConfigRef) IsZero() bool {
	return c.Path == "" && len(c.Lines) == 0
}

// TestDefinition declares one templated pipeline test
type TestDefinition struct {
	Name     string    `yaml:"-"`
	Pipeline string    `yaml:"pipeline"`
	Config   ConfigRef `yaml:"config"`
	// Timeout and HardTimeout are in seconds
	Timeout     float64 `yaml:"timeout"`
	HardTimeout float64 `yaml:"hard_timeout"`
	// Scenarios to run. An empty list generates a single scenario-less test.
	Scenarios []ScenarioRef `yaml:"scenarios"`
	// InheritScenarios runs the generator's scenario set instead of Scenarios
	InheritScenarios bool                   `yaml:"inherit-scenarios"`
	ExpectedIssues   []models.ExpectedIssue `yaml:"expected-issues"`
	ExtraEnvVars     map[string]string      `yaml:"extra_env_vars"`
	Vars             map[string]any         `yaml:"vars"`
	Media            media.FakeInfo         `yaml:",inline"`

	// Descriptor replaces the fake descriptor built from Media
	Descriptor models.MediaDescriptor `yaml:"-"`
}

// DefinitionFile is a YAML document declaring a pipeline generator
type DefinitionFile struct {
	Generator      string
	ValidScenarios []string
	Vars           map[string]any
	Tests          []TestDefinition
}

type rawDefinitionFile struct {
	Generator      string         `yaml:"generator"`
	ValidScenarios []string       `yaml:"valid-scenarios"`
	Vars           map[string]any `yaml:"vars"`
	Tests          yaml.Node      `yaml:"tests"`
}

// LoadDefinitionFile reads a definition file, keeping tests in declaration order
func LoadDefinitionFile(path string) (*DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	f, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Generator == "" {
		f.Generator = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// ParseDefinitions decodes a definition document
func ParseDefinitions(data []byte) (*DefinitionFile, error) {
	var raw rawDefinitionFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	f := &DefinitionFile{
		Generator:      raw.Generator,
		ValidScenarios: raw.ValidScenarios,
		Vars:           raw.Vars,
	}
	if raw.Tests.Kind == 0 {
		return f, nil
	}
	if raw.Tests.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: tests must be a mapping of test name to definition", raw.Tests.Line)
	}

	for i := 0; i+1 < len(raw.Tests.Content); i += 2 {
		name := raw.Tests.Content[i].Value
		var def TestDefinition
		if err := raw.Tests.Content[i+1].Decode(&def); err != nil {
			return nil, fmt.Errorf("test %s: %w", name, err)
		}
		def.Name = name
		f.Tests = append(f.Tests, def)
	}
	return f, nil
}
