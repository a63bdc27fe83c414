package reactor

import (
	"fmt"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventLoopThreadPool owns the worker loops of a server. With zero threads
// every connection runs on the base loop.
type EventLoopThreadPool struct {
	baseLoop   *EventLoop
	name       string
	started    bool
	numThreads int
	next       int
	threads    []*EventLoopThread
	loops      []*EventLoop
}

func NewEventLoopThreadPool(baseLoop *EventLoop, name string) *EventLoopThreadPool {
	if baseLoop == nil {
		log.Logger.Fatal("thread pool base loop is nil", zap.String("name", name), zap.Error(ErrNilLoop))
	}
	return &EventLoopThreadPool{
		baseLoop: baseLoop,
		name:     name,
	}
}

// SetThreadNum must be called before Start.
func (p *EventLoopThreadPool) SetThreadNum(n int) {
	p.numThreads = n
}

// Start spawns the worker threads one at a time; each spawn returns once
// the new loop is running. Without workers cb runs on the base loop.
func (p *EventLoopThreadPool) Start(cb ThreadInitCallback) error {
	if p.started {
		log.Logger.Fatal("thread pool started twice", zap.String("name", p.name))
	}
	p.started = true

	for i := 0; i < p.numThreads; i++ {
		t := NewEventLoopThread(cb, fmt.Sprintf("%s%d", p.name, i))
		loop, err := t.StartLoop()
		if err != nil {
			return fmt.Errorf("start loop thread %s: %w", t.Name(), err)
		}
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, loop)
	}
	if p.numThreads == 0 && cb != nil {
		p.baseLoop.RunInLoop(func() { cb(p.baseLoop) })
	}
	log.Logger.Info("thread pool started", zap.String("name", p.name), zap.Int("threads", p.numThreads))
	return nil
}

// GetNextLoop hands out worker loops round-robin. It is called on the base
// loop's thread.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.baseLoop.AssertInLoopThread()
	loop := p.baseLoop
	if len(p.loops) > 0 {
		loop = p.loops[p.next]
		p.next = (p.next + 1) % len(p.loops)
	}
	return loop
}

// GetAllLoops returns the worker loops, or just the base loop without workers.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	loops := make([]*EventLoop, len(p.loops))
	copy(loops, p.loops)
	return loops
}

func (p *EventLoopThreadPool) Started() bool {
	return p.started
}

func (p *EventLoopThreadPool) Name() string {
	return p.name
}

// Stop quits every worker loop and waits for the threads to exit.
func (p *EventLoopThreadPool) Stop() error {
	var g errgroup.Group
	for _, t := range p.threads {
		t := t
		g.Go(t.Stop)
	}
	err := g.Wait()
	p.threads = nil
	p.loops = nil
	p.next = 0
	return err
}
