package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

type fakeMedia struct {
	seekable bool
	image    bool
	live     bool
	reverse  bool
	prerolls bool
	duration int64
	tracks   map[models.TrackType]int
}

func (f fakeMedia) Path() string                     { return "" }
func (f fakeMedia) MediaFilePath() string            { return "" }
func (f fakeMedia) URI() string                      { return "file:///a.ogg" }
func (f fakeMedia) Protocol() models.Protocol        { return models.ProtocolFile }
func (f fakeMedia) Caps() string                     { return "" }
func (f fakeMedia) Duration() int64                  { return f.duration }
func (f fakeMedia) IsSeekable() bool                 { return f.seekable }
func (f fakeMedia) IsImage() bool                    { return f.image }
func (f fakeMedia) IsLive() bool                     { return f.live }
func (f fakeMedia) CanPlayReverse() bool             { return f.reverse }
func (f fakeMedia) Prerolls() bool                   { return f.prerolls }
func (f fakeMedia) NeedsClockSync() bool             { return false }
func (f fakeMedia) SkipParsers() bool                { return false }
func (f fakeMedia) TracksCaps() []models.TrackCaps   { return nil }
func (f fakeMedia) NumTracks(t models.TrackType) int { return f.tracks[t] }

func playableFile() fakeMedia {
	return fakeMedia{
		seekable: true, reverse: true, prerolls: true,
		duration: 30 * models.Second,
		tracks:   map[models.TrackType]int{models.TrackAudio: 1, models.TrackVideo: 1},
	}
}

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		name   string
		props  Properties
		mutate func(*fakeMedia)
		want   bool
	}{
		{"no requirements", Properties{}, func(*fakeMedia) {}, true},
		{"seek on seekable", Properties{Seek: true}, func(*fakeMedia) {}, true},
		{"seek on unseekable", Properties{Seek: true}, func(m *fakeMedia) { m.seekable = false }, false},
		{"seek on image", Properties{Seek: true}, func(m *fakeMedia) { m.image = true }, false},
		{"clock sync on image", Properties{NeedsClockSync: true}, func(m *fakeMedia) { m.image = true }, false},
		{"reverse unsupported", Properties{ReversePlayback: true}, func(m *fakeMedia) { m.reverse = false }, false},
		{"live required", Properties{LiveContentRequired: true}, func(*fakeMedia) {}, false},
		{"live provided", Properties{LiveContentRequired: true}, func(m *fakeMedia) { m.live = true }, true},
		{"preroll required", Properties{NeedsPreroll: true}, func(m *fakeMedia) { m.prerolls = false }, false},
		{"too short", Properties{MinMediaDuration: 60 * models.Second}, func(*fakeMedia) {}, false},
		{"long enough", Properties{MinMediaDuration: 5 * models.Second}, func(*fakeMedia) {}, true},
		{"unknown duration", Properties{MinMediaDuration: 5 * models.Second}, func(m *fakeMedia) { m.duration = 0 }, true},
		{"exactly min duration", Properties{MinMediaDuration: 5 * models.Second}, func(m *fakeMedia) { m.duration = 5 * models.Second }, true},
		{"below min duration", Properties{MinMediaDuration: 5 * models.Second}, func(m *fakeMedia) { m.duration = 4 * models.Second }, false},
		{"needs two audio tracks", Properties{MinAudioTracks: 2}, func(*fakeMedia) {}, false},
		{"needs subtitles", Properties{MinSubtitleTracks: 1}, func(*fakeMedia) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := playableFile()
			tt.mutate(&m)
			s := New("s", tt.props)
			assert.Equal(t, tt.want, s.IsCompatible(m))
			assert.Equal(t, tt.want, models.IsCompatible(m, s))
		})
	}
}

func TestBuiltins(t *testing.T) {
	builtins := Builtins()
	require.Len(t, builtins, len(DefaultNames))

	for i, s := range builtins {
		assert.Equal(t, DefaultNames[i], s.Name())
		assert.Empty(t, s.Path())
	}

	r := NewRegistry(nil)
	r.RegisterBuiltins()

	rev, err := r.Get("reverse_playback")
	require.NoError(t, err)
	assert.True(t, rev.DoesReversePlayback())
	assert.Equal(t, "reverse_playback", models.ExecutionName(rev))
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "seek_twice.scenario", `# comment
description, seek=true, duration=12.5, need-clock-sync=true, \
    min-media-duration=3.0, min-audio-track=1, summary="Seek twice"
seek, playback-time=1.0, start=5.0, flags=accurate+flush
stop, playback-time=10.0
`)

	s, err := LoadFile(path, "")
	require.NoError(t, err)

	assert.Equal(t, "seek_twice", s.Name())
	assert.Equal(t, path, s.Path())
	assert.Equal(t, path, models.ExecutionName(s))

	p := s.Properties()
	assert.True(t, p.Seek)
	assert.True(t, p.NeedsClockSync)
	assert.Equal(t, int64(12.5*float64(models.Second)), p.Duration)
	assert.Equal(t, 3*models.Second, p.MinMediaDuration)
	assert.Equal(t, 1, p.MinAudioTracks)
	assert.Equal(t, "Seek twice", p.Summary)
}

func TestDiscoverAndGet(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.scenario", "description, seek=false\n")
	writeScenario(t, dir, "a.scenario", "description, reverse-playback=true\n")
	writeScenario(t, dir, "notes.txt", "nothing")

	r := NewRegistry(nil)
	found, err := r.Discover([]string{dir})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].Name())
	assert.Equal(t, "b", found[1].Name())

	a, err := r.Get("a")
	require.NoError(t, err)
	assert.True(t, a.DoesReversePlayback())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	extra := writeScenario(t, t.TempDir(), "extra.scenario", "description, seek=true\n")
	s, err := r.Get(extra)
	require.NoError(t, err)
	assert.Equal(t, "extra", s.Name())
}

func TestSelectKeepsOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterBuiltins()

	got, err := r.Select([]string{"seek_forward", "play_15s"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "seek_forward", got[0].Name())
	assert.Equal(t, "play_15s", got[1].Name())
}

func TestFindSpecial(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "clip.webm")
	require.NoError(t, os.WriteFile(media, nil, 0o644))
	writeScenario(t, dir, "clip.webm.seek_to_end.scenario", "description, seek=true\n")
	writeScenario(t, dir, "other.webm.seek_to_end.scenario", "description, seek=true\n")

	r := NewRegistry(nil)
	special, err := r.FindSpecial(media)
	require.NoError(t, err)
	require.Len(t, special, 1)
	assert.Equal(t, "seek_to_end", special[0].Name())
	assert.True(t, special[0].DoesSeek())
}
