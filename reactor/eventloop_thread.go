package reactor

import (
	"runtime"
	"sync"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
)

// ThreadInitCallback runs on a worker thread right after its loop is
// created and before the loop starts polling.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread runs one EventLoop on a dedicated OS thread.
type EventLoopThread struct {
	name     string
	callback ThreadInitCallback

	mu       sync.Mutex
	loop     *EventLoop
	started  bool
	exiting  bool
	done     chan struct{}
	closeErr error
}

func NewEventLoopThread(cb ThreadInitCallback, name string) *EventLoopThread {
	return &EventLoopThread{
		name:     name,
		callback: cb,
		done:     make(chan struct{}),
	}
}

// StartLoop spawns the thread and blocks until its loop is published.
func (t *EventLoopThread) StartLoop() (*EventLoop, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		log.Logger.Fatal("event loop thread started twice", zap.String("name", t.name))
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.threadFunc(ready)
	if err := <-ready; err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop, nil
}

func (t *EventLoopThread) threadFunc(ready chan<- error) {
	// stays locked after the loop unlocks on Close, so the thread, with its
	// name, is discarded when this goroutine returns
	runtime.LockOSThread()
	defer close(t.done)

	setThreadName(t.name)

	loop, err := NewEventLoop()
	if err != nil {
		ready <- err
		return
	}
	if t.callback != nil {
		t.callback(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	ready <- nil

	loop.Loop()

	err = loop.Close()
	if err != nil {
		log.Logger.Error("event loop close error", zap.String("thread", t.name), zap.Error(err))
	}

	t.mu.Lock()
	t.loop = nil
	t.closeErr = err
	t.mu.Unlock()
}

// Stop quits the loop and waits for the thread to finish. It returns the
// error of closing the loop.
func (t *EventLoopThread) Stop() error {
	t.mu.Lock()
	if !t.started || t.exiting {
		t.mu.Unlock()
		return nil
	}
	t.exiting = true
	loop := t.loop
	t.mu.Unlock()

	if loop != nil {
		loop.Quit()
	}
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

func (t *EventLoopThread) Name() string {
	return t.name
}
