package reactor

import (
	"time"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
)

type EventCallback func()

type ReadEventCallback func(receiveTime time.Time)

// Guard is a non-owning handle to the object a Channel dispatches into.
// Alive must turn false once the owner has been torn down.
type Guard interface {
	Alive() bool
}

// Channel binds one fd to its interest set and event callbacks. It neither
// owns nor closes the fd. All methods except the setters must run on the
// owning loop's thread, and Remove must be called before the channel is
// dropped.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  uint32
	revents uint32
	index   int

	guard Guard
	tied  bool

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		index: indexNew,
	}
}

func (c *Channel) SetReadCallback(cb ReadEventCallback) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback) { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback) { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback) { c.errorCallback = cb }

// Tie attaches the owner. Once tied, HandleEvent does nothing after the
// owner reports it is no longer alive.
func (c *Channel) Tie(g Guard) {
	c.guard = g
	c.tied = true
}

func (c *Channel) Fd() int { return c.fd }
func (c *Channel) Events() uint32 { return c.events }
func (c *Channel) Revents() uint32 { return c.revents }
func (c *Channel) Index() int { return c.index }
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }
func (c *Channel) IsNoneEvent() bool { return c.events == noneEvent }
func (c *Channel) IsWriting() bool { return c.events&writeEvent != 0 }
func (c *Channel) IsReading() bool { return c.events&readEvent != 0 }
func (c *Channel) setRevents(revt uint32) { c.revents = revt }

// EnableReading also arms peer half-close reporting.
func (c *Channel) EnableReading() {
	c.events |= readEvent | peerCloseEvent
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= readEvent | peerCloseEvent
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= writeEvent
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= writeEvent
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = noneEvent
	c.update()
}

func (c *Channel) update() {
	c.loop.UpdateChannel(c)
}

// Remove unregisters the channel from its loop's poller.
func (c *Channel) Remove() {
	c.loop.RemoveChannel(c)
}

// HandleEvent dispatches the events reported by the last poll.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.tied {
		if c.guard == nil || !c.guard.Alive() {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime time.Time) {
	rev := c.revents
	log.Logger.Debug("channel handle event", zap.Int("fd", c.fd), zap.String("revents", eventsToString(rev)))

	// a hang-up with readable data is left to the read path, which sees EOF
	if rev&hangupEvent != 0 && rev&readEvent == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if rev&errorEvent != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if rev&(readEvent|peerCloseEvent) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if rev&writeEvent != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) String() string {
	return eventsToString(c.events)
}
