package reactor

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/fzft/go-reactor/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pollTimeout bounds each wait so quit is noticed even without a wakeup.
const pollTimeout = 10 * time.Second

// Functor is a unit of work run on a loop's thread.
type Functor func()

// loopsByThread maps an OS thread id to the loop it owns. Go has no
// thread-local storage, so the one-loop-per-thread check keys a process-wide
// map by tid; entries are removed in Close.
var loopsByThread sync.Map

// EventLoop drives one Poller on the OS thread that created it. Only
// RunInLoop, QueueInLoop, Quit, IsInLoopThread and Wakeup may be called from
// other goroutines.
type EventLoop struct {
	tid int

	looped                 atomic.Bool
	looping                atomic.Bool
	quit                   atomic.Bool
	callingPendingFunctors atomic.Bool

	poller         Poller
	pollReturnTime time.Time
	activeChannels []*Channel

	// wakeMu keeps wakeupFd open while another thread writes to it
	wakeMu        sync.RWMutex
	wakeupFd      int
	wakeupChannel *Channel

	mu              sync.Mutex
	pendingFunctors *queue.Queue

	// closing rejects functors from other threads; closed rejects all
	closing bool
	closed  bool

	// draining is only touched by the loop thread; it trades places with
	// pendingFunctors on every drain
	draining *queue.Queue
}

// NewEventLoop creates a loop owned by the calling goroutine, which is
// locked to its OS thread until Close. A thread can own at most one loop.
// Failing to create the epoll instance or the wakeup eventfd is fatal.
func NewEventLoop() (*EventLoop, error) {
	runtime.LockOSThread()

	l := &EventLoop{
		tid:             unix.Gettid(),
		pendingFunctors: queue.New(),
		draining:        queue.New(),
	}
	if other, loaded := loopsByThread.LoadOrStore(l.tid, l); loaded {
		runtime.UnlockOSThread()
		log.Logger.Error("another event loop exists in this thread",
			zap.Int("tid", l.tid), zap.Uintptr("loop", loopAddr(other.(*EventLoop))))
		return nil, ErrLoopExists
	}

	poller, err := newDefaultPoller(l)
	if err != nil {
		log.Logger.Fatal("failed to create poller", zap.Error(err))
	}
	l.poller = poller

	efd, err := createEventfd()
	if err != nil {
		log.Logger.Fatal("failed to create wakeup fd", zap.Error(err))
	}
	l.wakeupFd = efd
	l.wakeupChannel = NewChannel(l, efd)
	l.wakeupChannel.SetReadCallback(func(time.Time) { readWakeup(l.wakeupFd) })
	l.wakeupChannel.EnableReading()

	log.Logger.Debug("event loop created", zap.Uintptr("loop", loopAddr(l)), zap.Int("tid", l.tid))
	return l, nil
}

// Loop runs until Quit. It may be called once, from the owning thread.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if l.looped.Swap(true) {
		log.Logger.Fatal("event loop is already looping or has looped", zap.Uintptr("loop", loopAddr(l)))
	}
	l.looping.Store(true)
	log.Logger.Info("event loop start looping", zap.Uintptr("loop", loopAddr(l)), zap.Int("tid", l.tid))

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		l.activeChannels, l.pollReturnTime = l.poller.Poll(pollTimeout, l.activeChannels)
		for _, ch := range l.activeChannels {
			ch.HandleEvent(l.pollReturnTime)
		}
		l.doPendingFunctors()
	}

	log.Logger.Info("event loop stop looping", zap.Uintptr("loop", loopAddr(l)))
	l.looping.Store(false)
}

// Quit asks the loop to return from Loop after the current iteration.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop runs fn right away on the owning thread, and queues it otherwise.
func (l *EventLoop) RunInLoop(fn Functor) {
	if l.IsInLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop runs fn on the loop thread after the current batch of events.
// Once Close has started only the loop's own thread may still queue.
func (l *EventLoop) QueueInLoop(fn Functor) {
	l.mu.Lock()
	if l.closed || (l.closing && !l.IsInLoopThread()) {
		l.mu.Unlock()
		log.Logger.Warn("event loop closed, dropping functor", zap.Uintptr("loop", loopAddr(l)))
		return
	}
	l.pendingFunctors.Add(fn)
	l.mu.Unlock()

	// while draining, the loop would otherwise block in the next poll with
	// fn still queued
	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.Wakeup()
	}
}

func (l *EventLoop) Wakeup() {
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.wakeupFd < 0 {
		return
	}
	writeWakeup(l.wakeupFd)
}

func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	l.mu.Lock()
	l.pendingFunctors, l.draining = l.draining, l.pendingFunctors
	l.mu.Unlock()

	for l.draining.Length() > 0 {
		l.draining.Remove().(Functor)()
	}

	l.callingPendingFunctors.Store(false)
}

func (l *EventLoop) pendingLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingFunctors.Length()
}

func (l *EventLoop) UpdateChannel(ch *Channel) {
	l.assertOwner(ch)
	l.AssertInLoopThread()
	l.poller.UpdateChannel(ch)
}

func (l *EventLoop) RemoveChannel(ch *Channel) {
	l.assertOwner(ch)
	l.AssertInLoopThread()
	l.poller.RemoveChannel(ch)
}

func (l *EventLoop) HasChannel(ch *Channel) bool {
	l.assertOwner(ch)
	l.AssertInLoopThread()
	return l.poller.HasChannel(ch)
}

func (l *EventLoop) assertOwner(ch *Channel) {
	if ch.OwnerLoop() != l {
		log.Logger.Fatal("channel belongs to another loop", zap.Int("fd", ch.Fd()),
			zap.Uintptr("loop", loopAddr(l)), zap.Uintptr("owner", loopAddr(ch.OwnerLoop())))
	}
}

// PollReturnTime is the time the last poll returned.
func (l *EventLoop) PollReturnTime() time.Time {
	return l.pollReturnTime
}

func (l *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == l.tid
}

// AssertInLoopThread is fatal when called off the owning thread.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		log.Logger.Fatal("event loop used outside its thread",
			zap.Uintptr("loop", loopAddr(l)), zap.Int("tid", l.tid), zap.Int("current", unix.Gettid()))
	}
}

// Close runs callbacks still queued, then releases the wakeup fd and the
// poller, and unlocks the owning goroutine from its thread. It must be called
// from the owning thread once Loop has returned.
func (l *EventLoop) Close() error {
	l.AssertInLoopThread()
	if l.looping.Load() {
		log.Logger.Fatal("close of a looping event loop", zap.Uintptr("loop", loopAddr(l)))
	}

	// from here on only functors run by this drain can queue more
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
	for l.pendingLen() > 0 {
		l.doPendingFunctors()
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()

	l.wakeMu.Lock()
	err := os.NewSyscallError("close", unix.Close(l.wakeupFd))
	l.wakeupFd = -1
	l.wakeMu.Unlock()

	err = multierr.Append(err, l.poller.Close())
	loopsByThread.Delete(l.tid)
	runtime.UnlockOSThread()
	return err
}

func loopAddr(l *EventLoop) uintptr {
	return uintptr(unsafe.Pointer(l))
}
