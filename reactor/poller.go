package reactor

import (
	"time"
)

// Poller is the readiness backend of one EventLoop. It is only used from the
// loop's own thread.
type Poller interface {
	// Poll waits up to timeout and appends the channels with pending events
	// to active. The returned time is taken right after the wait returns.
	Poll(timeout time.Duration, active []*Channel) ([]*Channel, time.Time)

	// UpdateChannel registers, re-arms or deregisters ch according to its
	// current interest set.
	UpdateChannel(ch *Channel)

	// RemoveChannel forgets ch. The channel must have no interest left.
	RemoveChannel(ch *Channel)

	HasChannel(ch *Channel) bool

	Close() error
}

// channelRegistry is the fd to Channel map shared by every backend. It does
// not own the channels.
type channelRegistry struct {
	ownerLoop *EventLoop
	channels  map[int]*Channel
}

func newChannelRegistry(loop *EventLoop) channelRegistry {
	return channelRegistry{
		ownerLoop: loop,
		channels:  make(map[int]*Channel),
	}
}

func (r *channelRegistry) HasChannel(ch *Channel) bool {
	r.ownerLoop.AssertInLoopThread()
	registered, ok := r.channels[ch.Fd()]
	return ok && registered == ch
}

func newDefaultPoller(loop *EventLoop) (Poller, error) {
	return newEPollPoller(loop)
}
