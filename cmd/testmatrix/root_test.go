package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/manager"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/rtsp"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

const mkvInfo = `<file duration="10000000000" uri="file:///medias/sample.mkv" seekable="true">
  <streams caps="video/x-matroska">
    <stream type="video" caps="video/x-h264"/>
    <stream type="audio" caps="audio/x-vorbis"/>
  </streams>
</file>
`

// writeConfig writes a config file generating tests for one local mkv file
func writeConfig(t *testing.T) string {
	t.Helper()

	medias := t.TempDir()
	media := filepath.Join(medias, "sample.mkv")
	require.NoError(t, os.WriteFile(media, nil, 0o644))
	require.NoError(t, os.WriteFile(media+".media_info", []byte(mkvInfo), 0o644))

	root := t.TempDir()
	cfg := fmt.Sprintf(`launcher:
  paths: [%q]
  privateDir: %q
  logsDir: %q
  dest: %q
  disableRTSP: true
  discoveryWorkers: 1
logging:
  level: error
  format: json
`, medias, filepath.Join(root, "private"), filepath.Join(root, "logs"), filepath.Join(root, "dest"))

	path := filepath.Join(root, "testmatrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	lookPath := func(file string) (string, error) { return "/usr/bin/" + file, nil }
	cmd := newRootCmd(manager.WithLookPath(lookPath))

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestListNames(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, names []string)
	}{
		{
			name: "all",
			args: nil,
			check: func(t *testing.T, names []string) {
				assert.Contains(t, names, "file.media_check.sample_mkv")
				assert.Contains(t, names, "file.playback.play_15s.sample_mkv")
			},
		},
		{
			name: "generator",
			args: []string{"--generator", "media_check"},
			check: func(t *testing.T, names []string) {
				assert.Equal(t, []string{"file.media_check.sample_mkv"}, names)
			},
		},
		{
			name: "match",
			args: []string{"--match", `\.seek_(forward|backward)\.`},
			check: func(t *testing.T, names []string) {
				assert.Len(t, names, 2)
			},
		},
		{
			name: "hide skipped",
			args: []string{"--hide-skipped"},
			check: func(t *testing.T, names []string) {
				for _, n := range names {
					assert.NotContains(t, n, "reverse_playback")
				}
			},
		},
		{
			name: "wanted tests flag",
			args: []string{"--wanted-tests", "media_check"},
			check: func(t *testing.T, names []string) {
				assert.Equal(t, []string{"file.media_check.sample_mkv"}, names)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg, "list", "-o", "names"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err, out)
			tt.check(t, lines(out))
		})
	}
}

func TestListSkipsReverseMKV(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "list", "-o", "json", "--match", "reverse_playback")
	require.NoError(t, err, out)

	var specs []models.TestSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	require.NotEmpty(t, specs)
	for _, s := range specs {
		assert.True(t, s.Skip, s.Classname)
		assert.Contains(t, s.SkipReason, "issues/65")
	}
}

func TestListTable(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "list", "--generator", "media_check")
	require.NoError(t, err)

	assert.Contains(t, out, "file.media_check.sample_mkv")
	assert.Contains(t, out, "runnable")
}

func TestListErrors(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown output", args: []string{"--config", cfg, "list", "-o", "xml"}},
		{name: "invalid match", args: []string{"--config", cfg, "list", "--match", "("}},
		{name: "invalid expectations", args: []string{"--config", cfg, "--generate-expectations", "sometimes", "list"}},
		{name: "missing config", args: []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "list"}},
		{name: "unexpected argument", args: []string{"--config", cfg, "list", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestPublish(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "publish", "--run-id", "nightly-1")
	require.NoError(t, err, out)

	assert.Contains(t, out, "nightly-1")
	assert.Contains(t, out, "Dispatched")
}

func TestCompanionErrors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "companion", "file.playback.unknown")
	assert.ErrorIs(t, err, ErrTestNotFound)

	_, err = execute(t, "--config", cfg, "companion", "file.media_check.sample_mkv")
	assert.ErrorIs(t, err, rtsp.ErrNoCompanion)

	_, err = execute(t, "--config", cfg, "companion")
	assert.Error(t, err)
}
