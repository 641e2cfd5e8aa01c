package ports

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sequenceProbe returns the given ports in order, then repeats the last one
func sequenceProbe(ports ...int) ProbeFunc {
	var mu sync.Mutex
	i := 0
	return func() (int, error) {
		mu.Lock()
		defer mu.Unlock()
		p := ports[i]
		if i < len(ports)-1 {
			i++
		}
		return p, nil
	}
}

func TestAcquireFromOS(t *testing.T) {
	a := NewAllocator()

	port := a.Acquire()
	assert.Greater(t, port, 0)
	assert.True(t, a.InUse(port))

	a.Release(port)
	assert.False(t, a.InUse(port))
	assert.Equal(t, 0, a.Len())
}

func TestAcquireSkipsReservedPorts(t *testing.T) {
	a := NewAllocator(WithProbe(sequenceProbe(5000, 5000, 5000, 5001)))

	first := a.Acquire()
	second := a.Acquire()

	assert.Equal(t, 5000, first)
	assert.Equal(t, 5001, second)
	assert.Equal(t, []int{5000, 5001}, a.Reserved())
}

func TestReleaseThenAcquireMayReuse(t *testing.T) {
	a := NewAllocator(WithProbe(sequenceProbe(6000)))

	p := a.Acquire()
	a.Release(p)
	assert.Equal(t, p, a.Acquire())
}

func TestAcquireRetriesBindFailures(t *testing.T) {
	calls := 0
	a := NewAllocator(WithProbe(func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("address in use")
		}
		return 7000, nil
	}))

	assert.Equal(t, 7000, a.Acquire())
	assert.Equal(t, 3, calls)
}

func TestObserver(t *testing.T) {
	var events []string
	a := NewAllocator(
		WithProbe(sequenceProbe(8000)),
		WithObserver(func(event string, port, inUse int) {
			events = append(events, event)
		}),
	)

	p := a.Acquire()
	a.Release(p)
	a.Release(p)

	assert.Equal(t, []string{"acquire", "release"}, events)
}

func TestConcurrentAcquireNeverDuplicates(t *testing.T) {
	a := NewAllocator()

	const workers = 32
	results := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- a.Acquire()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for p := range results {
		require.False(t, seen[p], "port %d handed out twice", p)
		seen[p] = true
	}
	assert.Equal(t, workers, a.Len())

	for p := range seen {
		a.Release(p)
	}
	assert.Equal(t, 0, a.Len())
}
