//go:build linux
// +build linux

package reactor

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	noneEvent  uint32 = 0
	readEvent  uint32 = unix.EPOLLIN | unix.EPOLLPRI
	writeEvent uint32 = unix.EPOLLOUT

	hangupEvent uint32 = unix.EPOLLHUP
	errorEvent  uint32 = unix.EPOLLERR

	// peer half-closed; armed with read interest and dispatched to the read
	// path so the read of EOF closes
	peerCloseEvent uint32 = unix.EPOLLRDHUP
)

// registration tags kept in Channel.index
const (
	indexNew     = -1
	indexAdded   = 1
	indexDeleted = 2
)

const initEventListSize = 16

// epollPoller is the level-triggered epoll backend.
type epollPoller struct {
	channelRegistry
	epollFd int
	events  []unix.EpollEvent
}

func newEPollPoller(loop *EventLoop) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{
		channelRegistry: newChannelRegistry(loop),
		epollFd:         epfd,
		events:          make([]unix.EpollEvent, initEventListSize),
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active []*Channel) ([]*Channel, time.Time) {
	log.Logger.Debug("epoll wait", zap.Int("channels", len(p.channels)))

	// level triggered; n == 0 is a plain timeout
	n, err := unix.EpollWait(p.epollFd, p.events, int(timeout/time.Millisecond))
	now := time.Now()
	switch {
	case err != nil:
		if !errors.Is(err, unix.EINTR) {
			log.Logger.Error("epoll wait error", zap.Error(err))
		}
	case n > 0:
		log.Logger.Debug("epoll events happened", zap.Int("n", n))
		active = p.fillActiveChannels(n, active)
		// a full list may have left events behind
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	default:
		log.Logger.Debug("epoll wait timeout")
	}
	return active, now
}

func (p *epollPoller) fillActiveChannels(n int, active []*Channel) []*Channel {
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			log.Logger.Error("epoll event for unknown fd", zap.Int32("fd", ev.Fd))
			continue
		}
		ch.setRevents(ev.Events)
		active = append(active, ch)
	}
	return active
}

// UpdateChannel moves ch through new -> added -> deleted. A deleted channel
// stays in the registry and can be added again.
func (p *epollPoller) UpdateChannel(ch *Channel) {
	p.ownerLoop.AssertInLoopThread()
	fd := ch.Fd()
	index := ch.index
	log.Logger.Debug("update channel", zap.Int("fd", fd), zap.String("events", eventsToString(ch.Events())), zap.Int("index", index))

	if index == indexNew || index == indexDeleted {
		if index == indexNew {
			if other, ok := p.channels[fd]; ok && other != ch {
				log.Logger.Fatal("fd already registered by another channel", zap.Int("fd", fd))
			}
			p.channels[fd] = ch
		}
		ch.index = indexAdded
		p.update(unix.EPOLL_CTL_ADD, ch)
		return
	}

	if ch.IsNoneEvent() {
		p.update(unix.EPOLL_CTL_DEL, ch)
		ch.index = indexDeleted
	} else {
		p.update(unix.EPOLL_CTL_MOD, ch)
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) {
	p.ownerLoop.AssertInLoopThread()
	fd := ch.Fd()
	log.Logger.Debug("remove channel", zap.Int("fd", fd))

	if registered, ok := p.channels[fd]; !ok || registered != ch {
		log.Logger.Error("remove of unregistered channel", zap.Int("fd", fd))
		return
	}
	delete(p.channels, fd)
	if ch.index == indexAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.index = indexNew
}

func (p *epollPoller) update(op int, ch *Channel) {
	ev := &unix.EpollEvent{Events: ch.Events(), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epollFd, op, ch.Fd(), ev); err != nil {
		log.Logger.Error("epoll_ctl error", zap.String("op", epollOpString(op)), zap.Int("fd", ch.Fd()),
			zap.Error(os.NewSyscallError("epoll_ctl", err)))
	}
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.epollFd))
}

func eventsToString(ev uint32) string {
	if ev == noneEvent {
		return "NONE"
	}
	var b strings.Builder
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.EPOLLIN, "IN"},
		{unix.EPOLLPRI, "PRI"},
		{unix.EPOLLOUT, "OUT"},
		{unix.EPOLLHUP, "HUP"},
		{unix.EPOLLRDHUP, "RDHUP"},
		{unix.EPOLLERR, "ERR"},
	} {
		if ev&f.bit != 0 {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(f.name)
		}
	}
	return b.String()
}

func epollOpString(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}
