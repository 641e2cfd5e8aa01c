package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

const sampleInfo = `<file duration="10000000000" frame-detection="0" uri="file:///medias/sample.ogg" seekable="true">
  <streams caps="application/ogg">
    <stream type="video" caps="video/x-theora, width=(int)320, height=(int)240, framerate=(fraction)30/1"/>
    <stream type="audio" caps="audio/x-vorbis, channels=(int)2"/>
    <stream type="audio" caps="audio/x-vorbis, channels=(int)1"/>
  </streams>
</file>`

func writeInfo(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeInfo(t, "sample.ogg.media_info", sampleInfo)

	d, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "file:///medias/sample.ogg", d.URI())
	assert.Equal(t, models.ProtocolFile, d.Protocol())
	assert.Equal(t, int64(10*models.Second), d.Duration())
	assert.Equal(t, "application/ogg", d.Caps())
	assert.True(t, d.IsSeekable())
	assert.True(t, d.CanPlayReverse())
	assert.False(t, d.IsLive())
	assert.False(t, d.IsImage())
	assert.True(t, d.Prerolls())
	assert.False(t, d.NeedsClockSync())
	assert.Equal(t, 2, d.NumTracks(models.TrackAudio))
	assert.Equal(t, 1, d.NumTracks(models.TrackVideo))
	assert.Equal(t, 0, d.NumTracks(models.TrackSubtitle))
	assert.Equal(t, filepath.Join(filepath.Dir(path), "sample.ogg"), d.MediaFilePath())
	assert.Equal(t, "sample_ogg", models.CleanName(d))

	fr, ok := VideoFramerate(d)
	require.True(t, ok)
	assert.Equal(t, "30/1", fr.String())
}

func TestParseInfoRejectsMissingURI(t *testing.T) {
	_, err := ParseInfo([]byte(`<file duration="1"><streams caps="x"/></file>`))
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestParseInfoImage(t *testing.T) {
	info, err := ParseInfo([]byte(`<file uri="file:///a.png" seekable="false" plays-reverse="false">
  <streams caps="image/png"><stream type="image" caps="image/png"/></streams></file>`))
	require.NoError(t, err)

	d := New(*info)
	assert.True(t, d.IsImage())
	assert.False(t, d.IsSeekable())
	assert.False(t, d.CanPlayReverse())
}

func TestReclassify(t *testing.T) {
	d := New(Info{URI: "http://127.0.0.1:8079/x/master.m3u8"})
	assert.Equal(t, models.ProtocolHTTP, d.Protocol())

	require.NoError(t, d.Reclassify(models.ProtocolHLS))
	assert.Equal(t, models.ProtocolHLS, d.Protocol())
	assert.True(t, d.NeedsClockSync())

	assert.ErrorIs(t, d.Reclassify(models.ProtocolDASH), ErrAlreadyClassified)
}

func TestReclassifyAfterFreeze(t *testing.T) {
	d := New(Info{URI: "file:///a.ogg"})
	d.Freeze()
	assert.ErrorIs(t, d.Reclassify(models.ProtocolRTSP), ErrAlreadyClassified)
	assert.Equal(t, models.ProtocolFile, d.Protocol())
}

func TestStripInfoExt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/m/a.ogg.media_info", "/m/a.ogg"},
		{"/m/a.ogg.media_info.push", "/m/a.ogg"},
		{"/m/a.ogg.media_info.skipped", "/m/a.ogg"},
		{"/m/a.m3u8.stream_info", "/m/a.m3u8"},
		{"/m/a.ogg", "/m/a.ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, StripInfoExt(tt.in))
		})
	}
}

func TestIsInfoFile(t *testing.T) {
	ok, skipped := IsInfoFile("/m/a.ogg.media_info")
	assert.True(t, ok)
	assert.False(t, skipped)

	ok, skipped = IsInfoFile("/m/a.ogg.media_info.skipped")
	assert.True(t, ok)
	assert.True(t, skipped)

	ok, _ = IsInfoFile("/m/a.ogg")
	assert.False(t, ok)
}

func TestFakeDescriptor(t *testing.T) {
	f := NewFake(FakeInfo{DurationSeconds: 5, PlaysReverse: true},
		"videotestsrc ! fakevideosink audiotestsrc ! fakeaudiosink audiotestsrc ! autoaudiosink")

	assert.Equal(t, models.ProtocolLaunchPipeline, f.Protocol())
	assert.Equal(t, int64(5*models.Second), f.Duration())
	assert.True(t, f.IsSeekable())
	assert.True(t, f.CanPlayReverse())
	assert.Equal(t, 1, f.NumTracks(models.TrackVideo))
	assert.Equal(t, 2, f.NumTracks(models.TrackAudio))

	declared := NewFake(FakeInfo{NumTracks: map[models.TrackType]int{models.TrackAudio: 0}}, "audiotestsrc ! fakeaudiosink")
	assert.Equal(t, 0, declared.NumTracks(models.TrackAudio))
}

func TestRTSPDescriptor(t *testing.T) {
	base := New(Info{URI: "file:///m/a.ogg", Duration: 3 * models.Second, Seekable: true})
	r := NewRTSP(base)

	assert.Equal(t, DefaultRTSPURI, r.URI())
	assert.Equal(t, models.ProtocolRTSP, r.Protocol())
	assert.False(t, r.Prerolls())
	assert.Equal(t, int64(3*models.Second), r.Duration())
	assert.Equal(t, models.ProtocolFile, base.Protocol())
}

type memoryCache struct {
	entries map[string]*Info
	gets    int
}

func (m *memoryCache) GetDescriptor(_ context.Context, key string) (*Info, error) {
	m.gets++
	info, ok := m.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	cp := *info
	return &cp, nil
}

func (m *memoryCache) SetDescriptor(_ context.Context, key string, info *Info) error {
	m.entries[key] = info
	return nil
}

func TestDiscovererLoadUsesCache(t *testing.T) {
	path := writeInfo(t, "sample.ogg.media_info", sampleInfo)
	cache := &memoryCache{entries: map[string]*Info{}}
	d := NewDiscoverer("gst-validate-media-check-1.0", cache, nil)

	first, err := d.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, cache.entries, 1)

	second, err := d.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first.URI(), second.URI())
	assert.Equal(t, path, second.Path())
	assert.Equal(t, 2, cache.gets)
}

func TestDiscovererDiscover(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	dir := t.TempDir()
	tool := filepath.Join(dir, "media-check")
	script := "#!/bin/sh\n" +
		"printf '%s' '<file uri=\"'\"$1\"'\" duration=\"2000000000\" seekable=\"true\"><streams caps=\"video/webm\"/></file>' > \"$3\"\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	media := filepath.Join(dir, "clip.webm")
	require.NoError(t, os.WriteFile(media, nil, 0o644))
	uri, err := PathToURI(media)
	require.NoError(t, err)

	d := NewDiscoverer(tool, nil, nil)
	desc, err := d.Discover(context.Background(), uri, DiscoverOptions{})
	require.NoError(t, err)

	assert.Equal(t, uri, desc.URI())
	assert.Equal(t, media+".media_info", desc.Path())
	assert.Equal(t, int64(2*models.Second), desc.Duration())
}

func TestDiscovererDiscoverToolFailure(t *testing.T) {
	d := NewDiscoverer("/nonexistent/media-check", nil, nil)
	_, err := d.Discover(context.Background(), "file:///tmp/none.ogg", DiscoverOptions{})
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestInfoPathFor(t *testing.T) {
	p, err := InfoPathFor("file:///m/a.ogg", DiscoverOptions{Push: true})
	require.NoError(t, err)
	assert.Equal(t, "/m/a.ogg.media_info.push", p)

	_, err = InfoPathFor("http://host/a.ogg", DiscoverOptions{})
	assert.Error(t, err)
}
