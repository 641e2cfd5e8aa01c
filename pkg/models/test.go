package models

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
)

// TestKind identifies which validation tool runs a test
type TestKind string

// TestKind constants
const (
	TestKindLaunch      TestKind = "launch"
	TestKindRTSP        TestKind = "rtsp"
	TestKindMediaCheck  TestKind = "media_check"
	TestKindTranscoding TestKind = "transcoding"
	TestKindSimple      TestKind = "simple"
)

// DefaultTimeout is the per-test timeout used when nothing else is declared
const DefaultTimeout = 30 * time.Second

// ExpectedIssue describes a failure the test is known to hit
type ExpectedIssue struct {
	IssueID    string `json:"issue_id,omitempty" yaml:"issue-id,omitempty"`
	Summary    string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Details    string `json:"details,omitempty" yaml:"details,omitempty"`
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	ReturnCode *int   `json:"returncode,omitempty" yaml:"returncode,omitempty"`
	Timeout    bool   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Sometimes  bool   `json:"sometimes,omitempty" yaml:"sometimes,omitempty"`
}

// Companion describes the throwaway RTSP server an RTSP test needs
type Companion struct {
	Command  string `json:"command"`
	LocalURI string `json:"local_uri"`
	Port     int    `json:"port"`
	RTSP2    bool   `json:"rtsp2"`
}

// Args returns the server command line
func (c *Companion) Args() []string {
	return []string{c.Command, c.LocalURI, "--port", fmt.Sprint(c.Port)}
}

// Test is one generated, executable test specification
type Test struct {
	Classname   string
	Kind        TestKind
	Generator   string
	Command     string
	Pipeline    *Pipeline
	Args        []string
	Timeout     time.Duration
	HardTimeout time.Duration
	// Duration is the expected media playback time
	Duration       time.Duration
	URI            string
	Descriptor     MediaDescriptor
	Scenario       Scenario
	Env            map[string]string
	ExpectedIssues []ExpectedIssue
	Companion      *Companion

	// NeedsHTTPServer is set when the test reads from the local HTTP server
	NeedsHTTPServer bool

	Skip       bool
	SkipReason string
}

// SetEnv sets one environment override
func (t *Test) SetEnv(key, value string) {
	if t.Env == nil {
		t.Env = make(map[string]string)
	}
	t.Env[key] = value
}

// AddValidateConfig appends a config file to GST_VALIDATE_CONFIG
func (t *Test) AddValidateConfig(path string) {
	if path == "" {
		return
	}
	if cur := t.Env["GST_VALIDATE_CONFIG"]; cur != "" {
		path = cur + string(os.PathListSeparator) + path
	}
	t.SetEnv("GST_VALIDATE_CONFIG", path)
}

// ScenarioName returns the scenario name or an empty string
func (t *Test) ScenarioName() string {
	if t.Scenario == nil {
		return ""
	}
	return t.Scenario.Name()
}

// Protocol returns the asset protocol, or ProtocolLaunchPipeline without a descriptor
func (t *Test) Protocol() Protocol {
	if t.Descriptor == nil {
		return ProtocolLaunchPipeline
	}
	return t.Descriptor.Protocol()
}

// ReadsFromHTTP reports whether the test streams its media over HTTP, HLS or
// DASH, or reads it from the local HTTP server listening on port
func (t *Test) ReadsFromHTTP(port int) bool {
	if t.Descriptor == nil {
		return false
	}
	switch t.Descriptor.Protocol() {
	case ProtocolHTTP, ProtocolHLS, ProtocolDASH:
		return true
	}
	if port <= 0 {
		return false
	}
	local := fmt.Sprintf("127.0.0.1:%d", port)
	return strings.Contains(t.URI, local) || strings.Contains(t.Descriptor.URI(), local)
}

// Argv builds the full command line. It fails while the pipeline is unresolved.
func (t *Test) Argv() ([]string, error) {
	argv := []string{t.Command}
	if t.Scenario != nil {
		argv = append(argv, "--set-scenario", ExecutionName(t.Scenario))
	}
	if t.Pipeline != nil {
		desc, err := t.Pipeline.Description()
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", t.Classname, err)
		}
		parts, err := shlex.Split(desc)
		if err != nil {
			return nil, fmt.Errorf("test %s: failed to split pipeline: %w", t.Classname, err)
		}
		argv = append(argv, parts...)
	}
	return append(argv, t.Args...), nil
}

// TestSpec is the serializable form handed to the runner
type TestSpec struct {
	Classname        string            `json:"classname"`
	Kind             TestKind          `json:"kind"`
	Generator        string            `json:"generator"`
	Argv             []string          `json:"argv,omitempty"`
	PipelineTemplate string            `json:"pipeline_template,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Timeout          time.Duration     `json:"timeout"`
	HardTimeout      time.Duration     `json:"hard_timeout,omitempty"`
	Duration         time.Duration     `json:"duration,omitempty"`
	Scenario         string            `json:"scenario,omitempty"`
	URI              string            `json:"uri,omitempty"`
	Protocol         Protocol          `json:"protocol"`
	ExpectedIssues   []ExpectedIssue   `json:"expected_issues,omitempty"`
	Companion        *Companion        `json:"companion,omitempty"`
	NeedsHTTPServer  bool              `json:"needs_http_server,omitempty"`
	Skip             bool              `json:"skip"`
	SkipReason       string            `json:"skip_reason,omitempty"`
}

// Spec snapshots the test. Tests whose pipeline is still a template carry the
// template instead of an argument vector.
func (t *Test) Spec() TestSpec {
	spec := TestSpec{
		Classname:       t.Classname,
		Kind:            t.Kind,
		Generator:       t.Generator,
		Env:             t.Env,
		Timeout:         t.Timeout,
		HardTimeout:     t.HardTimeout,
		Duration:        t.Duration,
		Scenario:        t.ScenarioName(),
		URI:             t.URI,
		Protocol:        t.Protocol(),
		ExpectedIssues:  t.ExpectedIssues,
		Companion:       t.Companion,
		NeedsHTTPServer: t.NeedsHTTPServer,
		Skip:            t.Skip,
		SkipReason:      t.SkipReason,
	}
	if argv, err := t.Argv(); err == nil {
		spec.Argv = argv
	} else if t.Pipeline != nil {
		spec.PipelineTemplate = t.Pipeline.Template()
	}
	return spec
}

// String implements fmt.Stringer
func (t *Test) String() string {
	if t.Skip {
		return fmt.Sprintf("%s (skipped: %s)", t.Classname, t.SkipReason)
	}
	return t.Classname
}

// JoinClassname joins name segments with dots, dropping empty segments
func JoinClassname(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}
