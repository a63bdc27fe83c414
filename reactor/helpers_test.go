package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/fzft/go-reactor/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const testTimeout = 5 * time.Second

// useTestLogger routes log output to t; Fatal panics instead of exiting.
func useTestLogger(t *testing.T) {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel),
		zaptest.WrapOptions(zap.WithFatalHook(zapcore.WriteThenPanic)))
	t.Cleanup(log.SetLogger(logger))
}

// startLoop runs a loop on its own thread for the duration of the test.
func startLoop(t *testing.T, name string) *EventLoop {
	t.Helper()
	thread := NewEventLoopThread(nil, name)
	loop, err := thread.StartLoop()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, thread.Stop()) })
	return loop
}

// runSync runs fn on loop's thread and waits for it.
func runSync(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the loop")
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(testTimeout)))
	return conn
}
