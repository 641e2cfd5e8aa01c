package generator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/caps"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/expand"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

const definitions = `
generator: custom
valid-scenarios: [play_15s]
vars:
  sink: fakesink
tests:
  zeta:
    pipeline: videotestsrc num-buffers=10 ! %(sink)s
    scenarios: []
  alpha:
    pipeline: audiotestsrc ! %(audiosink)s
    scenarios: [play_15s]
    timeout: 60
    hard_timeout: 90
    extra_env_vars:
      MY_SINK: "%(sink)s"
    expected-issues:
      - issue-id: runtime::not-negotiated
        sometimes: true
  beta:
    pipeline: videotestsrc ! %(videosink)s
    inherit-scenarios: true
    config:
      - core, test-name=%(test_name)s
    uri: file:///medias/beta.mkv
    duration: 20
`

func newRegistry() *scenario.Registry {
	r := scenario.NewRegistry(nil)
	r.RegisterBuiltins()
	return r
}

func TestParseDefinitions(t *testing.T) {
	f, err := ParseDefinitions([]byte(definitions))
	require.NoError(t, err)

	assert.Equal(t, "custom", f.Generator)
	assert.Equal(t, []string{"play_15s"}, f.ValidScenarios)
	assert.Equal(t, "fakesink", f.Vars["sink"])

	require.Len(t, f.Tests, 3)
	assert.Equal(t, "zeta", f.Tests[0].Name)
	assert.Equal(t, "alpha", f.Tests[1].Name)
	assert.Equal(t, "beta", f.Tests[2].Name)

	assert.Empty(t, f.Tests[0].Scenarios)
	assert.Equal(t, []ScenarioRef{{Ref: "play_15s"}}, f.Tests[1].Scenarios)
	assert.Equal(t, 60.0, f.Tests[1].Timeout)
	require.Len(t, f.Tests[1].ExpectedIssues, 1)
	assert.Equal(t, "runtime::not-negotiated", f.Tests[1].ExpectedIssues[0].IssueID)
	assert.True(t, f.Tests[1].ExpectedIssues[0].Sometimes)

	assert.True(t, f.Tests[2].InheritScenarios)
	assert.Equal(t, []string{"core, test-name=%(test_name)s"}, f.Tests[2].Config.Lines)
	assert.Equal(t, "file:///medias/beta.mkv", f.Tests[2].Media.URI)
	assert.Equal(t, int64(20), f.Tests[2].Media.DurationSeconds)
}

func TestParseDefinitionsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"tests is a list", "tests:\n  - pipeline: fakesrc ! fakesink\n"},
		{"inline scenario without name", "tests:\n  a:\n    pipeline: fakesrc ! fakesink\n    scenarios:\n      - actions: [stop]\n"},
		{"invalid yaml", "tests: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitionFileDefaultsGeneratorName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tests:\n  a:\n    pipeline: fakesrc ! fakesink\n"), 0o644))

	f, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	assert.Equal(t, "encoders", f.Generator)
	require.Len(t, f.Tests, 1)

	_, err = LoadDefinitionFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPipelineGenerate(t *testing.T) {
	f, err := ParseDefinitions([]byte(definitions))
	require.NoError(t, err)

	private := t.TempDir()
	g, err := NewPipelineFromFile(f, PipelineOptions{
		PrivateDir: private,
		Mute:       true,
		Scenarios:  newRegistry(),
	}, nil)
	require.NoError(t, err)

	tests, err := g.Generate(context.Background(), nil, builtins())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"launch_pipeline.custom.zeta",
		"launch_pipeline.alpha.play_15s",
		"launch_pipeline.beta.play_15s",
	}, classnames(tests))

	zeta := tests[0]
	assert.Nil(t, zeta.Scenario)
	desc, err := zeta.Pipeline.Description()
	require.NoError(t, err)
	assert.Equal(t, "videotestsrc num-buffers=10 ! fakesink", desc)
	assert.Equal(t, models.DefaultTimeout, zeta.Timeout)
	assert.Zero(t, zeta.HardTimeout)

	alpha := tests[1]
	require.NotNil(t, alpha.Scenario)
	assert.Equal(t, "play_15s", alpha.ScenarioName())
	desc, err = alpha.Pipeline.Description()
	require.NoError(t, err)
	assert.Equal(t, "audiotestsrc ! fakeaudiosink sync=true", desc)
	assert.Equal(t, 60*time.Second, alpha.Timeout)
	assert.Equal(t, 90*time.Second, alpha.HardTimeout)
	assert.Equal(t, "fakesink", alpha.Env["MY_SINK"])
	assert.Len(t, alpha.ExpectedIssues, 1)

	beta := tests[2]
	assert.Equal(t, "file:///medias/beta.mkv", beta.URI)
	assert.Equal(t, 15*time.Second, beta.Duration)
	cfg := beta.Env["GST_VALIDATE_CONFIG"]
	assert.Equal(t, filepath.Join(private, "custom", "beta", "beta.config"), cfg)
	content, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, "core, test-name=beta\n", string(content))
}

func TestPipelineInlineScenario(t *testing.T) {
	private := t.TempDir()
	defs := []TestDefinition{{
		Name:     "seeker",
		Pipeline: "uridecodebin uri=file:///medias/a.mkv ! %(videosink)s",
		Scenarios: []ScenarioRef{{
			Name:    "my_seek",
			Actions: []string{"description, seek=true, duration=3.0", "seek, start=%(start)s", "stop"},
		}},
		Config: ConfigRef{Lines: []string{"validateflow, pad=sink:sink, expectations-dir=%(test_name_dir)s"}},
	}}

	g, err := NewPipeline("inline", defs, ScenarioFilter{}, PipelineOptions{
		PrivateDir: private,
		Mute:       true,
		Vars:       expand.Vars{"start": "1.5"},
		Scenarios:  newRegistry(),
	}, nil)
	require.NoError(t, err)

	tests, err := g.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, tests, 1)

	test := tests[0]
	assert.Equal(t, "launch_pipeline.seeker.my_seek", test.Classname)
	assert.Equal(t, 3*time.Second, test.Duration)
	assert.Equal(t, 15*time.Second, test.HardTimeout)

	scenarioPath := filepath.Join(private, "inline", "seeker", "my_seek", "my_seek.scenario")
	assert.Equal(t, scenarioPath, test.Scenario.Path())
	content, err := os.ReadFile(scenarioPath)
	require.NoError(t, err)
	assert.Equal(t, "description, seek=true, duration=3.0\nseek, start=1.5\nstop\n", string(content))

	argv, err := test.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"gst-validate-1.0", "--set-scenario", scenarioPath}, argv[:3])

	cfg := filepath.Join(private, "inline", "seeker", "my_seek", "seeker.my_seek.config")
	assert.Equal(t, cfg, test.Env["GST_VALIDATE_CONFIG"])
	content, err = os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, "validateflow, pad=sink:sink, expectations-dir="+filepath.Join("seeker", "my_seek")+"\n", string(content))
}

func TestPipelineDefinitionDefects(t *testing.T) {
	defs := []TestDefinition{
		{Name: "broken"},
		{Name: "missing_var", Pipeline: "fakesrc ! fakesink", Config: ConfigRef{Lines: []string{"%(nope)s"}}},
		{Name: "unknown_scenario", Pipeline: "fakesrc ! fakesink", Scenarios: []ScenarioRef{{Ref: "does_not_exist"}}},
		{Name: "ok", Pipeline: "fakesrc ! fakesink", Scenarios: []ScenarioRef{}},
		{Name: "bad_pipeline", Pipeline: "fakesrc ! %(unset)s"},
	}

	g, err := NewPipeline("defects", defs, ScenarioFilter{}, PipelineOptions{
		PrivateDir: t.TempDir(),
		Scenarios:  newRegistry(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPipeline)
	assert.ErrorIs(t, err, expand.ErrMissingVariable)

	tests, err := g.Generate(context.Background(), nil, builtins())
	require.NoError(t, err)
	assert.Equal(t, []string{"launch_pipeline.defects.ok"}, classnames(tests))
}

func TestPipelineSkipsIncompatibleScenarios(t *testing.T) {
	notSeekable := false
	defs := []TestDefinition{{
		Name:      "live",
		Pipeline:  "videotestsrc is-live=true ! %(videosink)s",
		Scenarios: []ScenarioRef{{Ref: "seek_forward"}, {Ref: "play_15s"}},
		Media:     media.FakeInfo{Seekable: &notSeekable},
	}}

	g, err := NewPipeline("live", defs, ScenarioFilter{}, PipelineOptions{Scenarios: newRegistry()}, nil)
	require.NoError(t, err)

	tests, err := g.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"launch_pipeline.live.play_15s"}, classnames(tests))
}

func TestFrameTimestamps(t *testing.T) {
	ts := FrameTimestamps(10*models.Second, caps.Fraction{Num: 25, Den: 1}, 300)
	require.Len(t, ts, 250)

	assert.Equal(t, int64(0), ts[0])
	assert.Equal(t, int64(40_000_000), ts[1])
	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
	assert.LessOrEqual(t, ts[len(ts)-1], 10*models.Second)

	ntsc := FrameTimestamps(models.Second, caps.Fraction{Num: 30000, Den: 1001}, 300)
	require.Len(t, ntsc, 29)
	assert.Equal(t, int64(33_366_667), ntsc[1])

	assert.Nil(t, FrameTimestamps(models.Second, caps.Fraction{Num: 0, Den: 1}, 300))
}

func TestFrameTimestampsDownsampling(t *testing.T) {
	fr := caps.Fraction{Num: 25, Den: 1}
	full := FrameTimestamps(120*models.Second, fr, 1000)
	require.Len(t, full, 3000)

	const longLimit = 60
	ceiling := longLimit * framesPerLongLimitSecond
	sampled := FrameTimestamps(120*models.Second, fr, longLimit)
	assert.LessOrEqual(t, len(sampled), ceiling)

	per := ceiling / 3
	n := len(full)
	assert.Equal(t, full[:per], sampled[:per])
	assert.Equal(t, full[n/2-per/2:n/2+per/2], sampled[per:2*per])
	assert.Equal(t, full[n-per:], sampled[len(sampled)-per:])

	for i := 1; i < len(sampled); i++ {
		assert.Greater(t, sampled[i], sampled[i-1])
	}
}

func TestSeekActions(t *testing.T) {
	actions := SeekActions([]int64{0, 40_000_000})
	assert.Equal(t, []string{
		"description, seek=true, handles-states=true, needs_preroll=true",
		"pause",
		"seek, flags=flush+accurate, start=(guint64)0",
		"seek, flags=flush+accurate, start=(guint64)40000000",
		"stop",
	}, actions)
}

func TestAccurateSeeking(t *testing.T) {
	private := t.TempDir()
	clip := fileAsset("clip.mkv", 2, videoTrack, audioTrack).Descriptor
	song := fileAsset("song.ogg", 2, audioTrack).Descriptor
	picture := fileAsset("picture.png", 0, imageTrack).Descriptor

	g, err := NewAccurateSeeking("accurate_seek", AccurateSeekOptions{
		Media: []SeekMedia{
			{Descriptor: clip, ReferenceFramesDir: "/refs/clip"},
			{Descriptor: song, ReferenceFramesDir: "/refs/song"},
			{Descriptor: picture, ReferenceFramesDir: "/refs/picture"},
		},
	}, PipelineOptions{PrivateDir: private, Mute: true}, nil)
	require.NoError(t, err)

	tests, err := g.Generate(context.Background(), nil, builtins())
	require.NoError(t, err)
	require.Len(t, tests, 1)

	test := tests[0]
	assert.Equal(t, "file.clip_mkv.check_accurate_seek", test.Classname)
	desc, err := test.Pipeline.Description()
	require.NoError(t, err)
	assert.Equal(t, "uridecodebin uri=file:///medias/clip.mkv ! deinterlace ! videoconvert ! "+
		"video/x-raw,interlace-mode=progressive,format=I420 ! videoconvert name=videoconvert ! fakevideosink sync=false", desc)

	content, err := os.ReadFile(test.Scenario.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, 50+3)
	assert.Equal(t, "pause", lines[1])
	assert.Equal(t, "stop", lines[len(lines)-1])

	cfg, err := os.ReadFile(test.Env["GST_VALIDATE_CONFIG"])
	require.NoError(t, err)
	assert.Equal(t, `validatessim, element-name="videoconvert", reference-images-dir="/refs/clip", framerate=25/1`+"\n", string(cfg))
}

func TestAccurateSeekingReferenceMode(t *testing.T) {
	clip := fileAsset("clip.mkv", 2, videoTrack).Descriptor

	g, err := NewAccurateSeeking("accurate_seek", AccurateSeekOptions{
		Source:            "filesrc",
		GenerateReference: true,
		Media:             []SeekMedia{{Descriptor: clip, ReferenceFramesDir: "/refs/clip"}},
	}, PipelineOptions{PrivateDir: t.TempDir(), Mute: true}, nil)
	require.NoError(t, err)

	tests, err := g.Generate(context.Background(), nil, builtins())
	require.NoError(t, err)
	require.Len(t, tests, 1)

	test := tests[0]
	assert.Equal(t, "file.accurate_seek.filesrc.clip_mkv.generate_reference_files", test.Classname)
	assert.Nil(t, test.Scenario)

	cfg, err := os.ReadFile(test.Env["GST_VALIDATE_CONFIG"])
	require.NoError(t, err)
	assert.Equal(t, `validatessim, element-name="videoconvert", output-dir="/refs/clip"`+"\n", string(cfg))
}
