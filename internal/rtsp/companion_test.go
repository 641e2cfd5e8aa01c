package rtsp

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/ports"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "rtsp-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// fixedPort returns an allocator handing out port
func fixedPort(port int) *ports.Allocator {
	return ports.NewAllocator(ports.WithProbe(func() (int, error) { return port, nil }))
}

func rtspTest(command string, alloc *ports.Allocator) *models.Test {
	return &models.Test{
		Classname: "rtsp.playback.play_15s.sample_mkv",
		Kind:      models.TestKindRTSP,
		Command:   "gst-validate-1.0",
		Pipeline:  models.NewPipelineTemplate("playbin uri=rtsp://127.0.0.1:" + models.PortPlaceholder + "/test"),
		Companion: &models.Companion{
			Command:  command,
			LocalURI: "file:///medias/sample.mkv",
			Port:     alloc.Acquire(),
		},
	}
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	t.Cleanup(func() {
		l.Close()
		wg.Wait()
	})
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestServerLifecycle(t *testing.T) {
	_, port := listen(t)
	alloc := fixedPort(port)
	test := rtspTest(script(t, "exec sleep 30"), alloc)

	s, err := New(test, alloc, Options{StartupTimeout: 5 * time.Second, GracePeriod: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, s.State())

	_, err = test.Argv()
	assert.ErrorIs(t, err, models.ErrPipelineUnresolved)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateServing, s.State())
	assert.True(t, alloc.InUse(port))

	desc, err := test.Pipeline.Description()
	require.NoError(t, err)
	assert.Contains(t, desc, "uri=rtsp://127.0.0.1:")
	assert.NotContains(t, desc, models.PortPlaceholder)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Teardown()
	assert.Equal(t, StateTornDown, s.State())
	assert.False(t, alloc.InUse(port))

	// repeated teardown is a no-op
	s.Teardown()
	assert.Equal(t, StateTornDown, s.State())
}

func TestServerStartupTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	alloc := fixedPort(port)
	test := rtspTest(script(t, "exec sleep 30"), alloc)

	s, err := New(test, alloc, Options{StartupTimeout: 300 * time.Millisecond, GracePeriod: time.Second}, nil)
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartupTimeout)
	assert.Equal(t, StateTornDown, s.State())
	assert.Zero(t, alloc.Len())
	assert.Equal(t, models.PipelineTemplate, test.Pipeline.State())
}

func TestServerExitsBeforeServing(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	alloc := fixedPort(port)
	test := rtspTest(script(t, "exit 3"), alloc)

	s, err := New(test, alloc, Options{}, nil)
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrExited)
	assert.Equal(t, StateTornDown, s.State())
	assert.Zero(t, alloc.Len())
}

func TestServerCommandNotFound(t *testing.T) {
	alloc := fixedPort(45000)
	test := rtspTest(filepath.Join(t.TempDir(), "missing-server"), alloc)

	s, err := New(test, alloc, Options{}, nil)
	require.NoError(t, err)

	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateTornDown, s.State())
	assert.Zero(t, alloc.Len())
}

func TestServerContextCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	alloc := fixedPort(port)
	test := rtspTest(script(t, "exec sleep 30"), alloc)

	s, err := New(test, alloc, Options{GracePeriod: time.Second}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateTornDown, s.State())
}

func TestServerRun(t *testing.T) {
	_, port := listen(t)
	alloc := fixedPort(port)
	test := rtspTest(script(t, "exec sleep 30"), alloc)

	s, err := New(test, alloc, Options{StartupTimeout: 5 * time.Second, GracePeriod: time.Second}, nil)
	require.NoError(t, err)

	var argv []string
	err = s.Run(context.Background(), func(context.Context) error {
		var err error
		argv, err = test.Argv()
		return err
	})
	require.NoError(t, err)
	assert.Contains(t, argv, "uri=rtsp://127.0.0.1:"+strconv.Itoa(port)+"/test")
	assert.Equal(t, StateTornDown, s.State())
	assert.Zero(t, alloc.Len())
}

func TestNewWithoutCompanion(t *testing.T) {
	_, err := New(&models.Test{Classname: "file.playback.sample_mkv"}, nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoCompanion)
}
