package reactor

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func TestNewEventLoopTwiceOnOneThread(t *testing.T) {
	useTestLogger(t)
	loop, err := NewEventLoop()
	require.NoError(t, err)
	defer func() { require.NoError(t, loop.Close()) }()

	assert.True(t, loop.IsInLoopThread())
	other, err := NewEventLoop()
	assert.ErrorIs(t, err, ErrLoopExists)
	assert.Nil(t, other)
}

func TestEventLoopAfterCloseThreadIsFree(t *testing.T) {
	useTestLogger(t)
	loop, err := NewEventLoop()
	require.NoError(t, err)
	require.NoError(t, loop.Close())

	loop, err = NewEventLoop()
	require.NoError(t, err)
	require.NoError(t, loop.Close())
}

func TestAssertInLoopThreadOffThreadIsFatal(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "assert-loop")

	assert.False(t, loop.IsInLoopThread())
	assert.Panics(t, loop.AssertInLoopThread)
	runSync(t, loop, func() {
		assert.NotPanics(t, loop.AssertInLoopThread)
	})
}

func TestQuitBeforeLoopIsKept(t *testing.T) {
	useTestLogger(t)
	loop, err := NewEventLoop()
	require.NoError(t, err)

	// a quit from the owning thread never wakes, so only the flag ends Loop
	loop.Quit()
	start := time.Now()
	loop.Loop()
	assert.Less(t, time.Since(start), pollTimeout)

	assert.Panics(t, loop.Loop, "a loop runs at most once")
	require.NoError(t, loop.Close())
}

func TestRunInLoopOnOwnThreadRunsInline(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "inline-loop")

	runSync(t, loop, func() {
		ran := false
		loop.RunInLoop(func() { ran = true })
		assert.True(t, ran)
	})
}

func TestQueueInLoopKeepsOrder(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "order-loop")

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.QueueInLoop(func() { got = append(got, i) })
	}
	var snapshot []int
	runSync(t, loop, func() { snapshot = append(snapshot, got...) })
	require.Len(t, snapshot, 100)
	for i, v := range snapshot {
		assert.Equal(t, i, v)
	}
}

func TestQueueInLoopFromManyGoroutines(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "fanin-loop")

	const producers, perProducer = 8, 200
	var (
		mu     sync.Mutex
		onLoop []bool
	)
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				loop.QueueInLoop(func() {
					mu.Lock()
					onLoop = append(onLoop, loop.IsInLoopThread())
					mu.Unlock()
				})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	runSync(t, loop, func() {
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, onLoop, producers*perProducer)
		for _, in := range onLoop {
			assert.True(t, in)
		}
	})
}

// A functor queued while the loop drains must not wait for the next
// poll timeout.
func TestQueueInLoopWhileDrainingWakesLoop(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "drain-loop")

	done := make(chan struct{})
	start := time.Now()
	loop.QueueInLoop(func() {
		loop.QueueInLoop(func() { close(done) })
	})
	waitFor(t, done, "nested functor")
	assert.Less(t, time.Since(start), pollTimeout)
}

func TestCloseRunsQueuedFunctors(t *testing.T) {
	useTestLogger(t)
	loop, err := NewEventLoop()
	require.NoError(t, err)

	ran := 0
	loop.QueueInLoop(func() {
		ran++
		loop.QueueInLoop(func() { ran++ })
	})
	require.NoError(t, loop.Close())
	assert.Equal(t, 2, ran, "functors queued by the final drain still run")

	loop.QueueInLoop(func() { ran++ })
	assert.Equal(t, 2, ran, "functors queued after close are dropped")
}

func TestEventLoopStopFromOtherGoroutine(t *testing.T) {
	useTestLogger(t)
	thread := NewEventLoopThread(nil, "stop-loop")
	loop, err := thread.StartLoop()
	require.NoError(t, err)
	require.NotNil(t, loop)

	stopped := make(chan error, 1)
	go func() { stopped <- thread.Stop() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("loop did not stop")
	}
	assert.NoError(t, thread.Stop(), "second stop is a no-op")
}

func TestEventLoopThreadInitAndName(t *testing.T) {
	useTestLogger(t)
	var initLoop *EventLoop
	thread := NewEventLoopThread(func(l *EventLoop) {
		initLoop = l
		assert.True(t, l.IsInLoopThread())
	}, "reactor-worker-name")
	loop, err := thread.StartLoop()
	require.NoError(t, err)
	defer func() { require.NoError(t, thread.Stop()) }()

	assert.Same(t, loop, initLoop)
	assert.Equal(t, "reactor-worker-name", thread.Name())

	var tid int
	runSync(t, loop, func() { tid = unix.Gettid() })
	comm, err := os.ReadFile(fmt.Sprintf("/proc/self/task/%d/comm", tid))
	require.NoError(t, err)
	assert.Equal(t, "reactor-worker-\n", string(comm))
}

func TestEventLoopThreadStartTwiceIsFatal(t *testing.T) {
	useTestLogger(t)
	thread := NewEventLoopThread(nil, "twice-loop")
	_, err := thread.StartLoop()
	require.NoError(t, err)
	defer func() { require.NoError(t, thread.Stop()) }()

	assert.Panics(t, func() { _, _ = thread.StartLoop() })
}
