// Package rtsp runs the throwaway RTSP server an RTSP test plays from.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/ports"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

var (
	// ErrStartupTimeout is returned when the server does not accept connections in time
	ErrStartupTimeout = errors.New("rtsp server did not start in time")
	// ErrExited is returned when the server process exits before serving
	ErrExited = errors.New("rtsp server exited before serving")
	// ErrNoCompanion is returned for tests that do not need a server
	ErrNoCompanion = errors.New("test has no companion server")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("companion server already started")
)

// State is the lifecycle state of a companion server
type State string

// State constants
const (
	StateNotStarted State = "not_started"
	StateLaunching  State = "launching"
	StateServing    State = "serving"
	StateTornDown   State = "torn_down"
)

const (
	// ProbeInterval is the delay between two connection attempts
	ProbeInterval = 100 * time.Millisecond
	// DefaultGracePeriod is how long the server gets to exit before being killed
	DefaultGracePeriod = 5 * time.Second
)

// Options configures a companion server
type Options struct {
	// StartupTimeout bounds the wait for the server to accept connections. Zero waits forever.
	StartupTimeout time.Duration
	GracePeriod    time.Duration
	// Output receives the server stdout and stderr, discarded when nil
	Output io.Writer
}

// Server is the companion of one RTSP test
type Server struct {
	test   *models.Test
	ports  *ports.Allocator
	opts   Options
	logger *logging.Logger

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd

	done     chan struct{}
	waitErr  error
	teardown sync.Once
}

// New prepares the companion of test. The port was reserved at generation
// time and goes back to alloc on teardown.
func New(test *models.Test, alloc *ports.Allocator, opts Options, logger *logging.Logger) (*Server, error) {
	if test.Companion == nil {
		return nil, fmt.Errorf("%s: %w", test.Classname, ErrNoCompanion)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{
		test:   test,
		ports:  alloc,
		opts:   opts,
		logger: logger.WithTest(test.Classname).WithField("port", test.Companion.Port),
		state:  StateNotStarted,
		done:   make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the port the server listens on
func (s *Server) Port() int { return s.test.Companion.Port }

// Start launches the server and blocks until it accepts connections, then
// resolves the test pipeline. On failure the server is torn down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateLaunching

	args := s.test.Companion.Args()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = s.opts.Output
	cmd.Stderr = s.opts.Output
	cmd.Env = os.Environ()
	for k, v := range s.test.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Debugf("Launching RTSP server: %v", args)
	if err := cmd.Start(); err != nil {
		close(s.done)
		s.Teardown()
		return fmt.Errorf("failed to start rtsp server: %w", err)
	}

	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	if err := s.waitReady(ctx); err != nil {
		s.logger.WithError(err).Error("RTSP server not ready")
		s.Teardown()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLaunching {
		return ErrExited
	}
	if err := s.test.Pipeline.Resolve(s.Port()); err != nil {
		return err
	}
	s.state = StateServing
	s.logger.Info("RTSP server ready")
	return nil
}

// waitReady polls the port until it accepts a connection
func (s *Server) waitReady(ctx context.Context) error {
	var deadline <-chan time.Time
	if s.opts.StartupTimeout > 0 {
		timer := time.NewTimer(s.opts.StartupTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port()))
	for {
		if conn, err := net.DialTimeout("tcp", addr, ProbeInterval); err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %s", ErrStartupTimeout, s.opts.StartupTimeout)
		case <-s.done:
			return fmt.Errorf("%w: %v", ErrExited, s.waitErr)
		case <-ticker.C:
		}
	}
}

// Teardown stops the server and releases its port. Only the first call has any effect.
func (s *Server) Teardown() {
	s.teardown.Do(func() {
		s.mu.Lock()
		s.state = StateTornDown
		cmd := s.cmd
		s.mu.Unlock()

		if cmd != nil && cmd.Process != nil {
			s.stop(cmd)
		}
		if s.ports != nil {
			s.ports.Release(s.Port())
		}
		s.logger.Debug("RTSP server torn down")
	})
}

func (s *Server) stop(cmd *exec.Cmd) {
	select {
	case <-s.done:
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.WithError(err).Debug("Failed to signal RTSP server")
	}

	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("RTSP server did not exit, killing it")
		_ = cmd.Process.Kill()
		<-s.done
	}
}

// Run starts the companion, runs fn once it serves, and tears it down when fn returns
func (s *Server) Run(ctx context.Context, fn func(context.Context) error) error {
	defer s.Teardown()
	if err := s.Start(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
