// Package ports hands out ephemeral TCP ports for one-shot companion servers.
package ports

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// retryDelay is how long Acquire waits after a failed bind
const retryDelay = 10 * time.Millisecond

// ProbeFunc asks the OS for a free port
type ProbeFunc func() (int, error)

// Allocator tracks ports handed to companion servers. A port stays reserved
// from Acquire until Release, so two servers launched by the same process
// never get the same port. The OS may still hand the port to another process
// between the probe and the real bind.
type Allocator struct {
	mu      sync.Mutex
	inUse   map[int]struct{}
	probe   ProbeFunc
	onEvent func(event string, port, inUse int)
}

// Option configures an Allocator
type Option func(*Allocator)

// WithProbe replaces the OS probe, mostly for tests
func WithProbe(p ProbeFunc) Option {
	return func(a *Allocator) { a.probe = p }
}

// WithObserver is called after every acquire and release
func WithObserver(fn func(event string, port, inUse int)) Option {
	return func(a *Allocator) { a.onEvent = fn }
}

// NewAllocator creates an allocator. One allocator should be shared by every
// component of a process that launches servers.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		inUse: make(map[int]struct{}),
		probe: probeOS,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// probeOS binds to port 0 and returns what the OS picked, closing the socket
func probeOS() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to bind probe socket: %w", err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}

// Acquire returns a port that is not currently reserved. Bind failures and
// collisions with reserved ports are retried until a port is found.
func (a *Allocator) Acquire() int {
	for {
		port, err := a.probe()
		if err != nil {
			time.Sleep(retryDelay)
			continue
		}

		a.mu.Lock()
		if _, taken := a.inUse[port]; !taken {
			a.inUse[port] = struct{}{}
			n := len(a.inUse)
			a.mu.Unlock()
			a.notify("acquire", port, n)
			return port
		}
		a.mu.Unlock()
	}
}

// Release returns a port to the pool. Releasing an unknown port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	_, ok := a.inUse[port]
	delete(a.inUse, port)
	n := len(a.inUse)
	a.mu.Unlock()

	if ok {
		a.notify("release", port, n)
	}
}

// InUse reports whether port is currently reserved
func (a *Allocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inUse[port]
	return ok
}

// Reserved returns the reserved ports in ascending order
func (a *Allocator) Reserved() []int {
	a.mu.Lock()
	out := make([]int, 0, len(a.inUse))
	for p := range a.inUse {
		out = append(out, p)
	}
	a.mu.Unlock()

	sort.Ints(out)
	return out
}

// Len returns the number of reserved ports
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

func (a *Allocator) notify(event string, port, n int) {
	if a.onEvent != nil {
		a.onEvent(event, port, n)
	}
}
