package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeGuard struct{ alive bool }

func (g *fakeGuard) Alive() bool { return g.alive }

func recordingChannel(order *[]string) *Channel {
	ch := NewChannel(nil, -1)
	ch.SetReadCallback(func(time.Time) { *order = append(*order, "read") })
	ch.SetWriteCallback(func() { *order = append(*order, "write") })
	ch.SetCloseCallback(func() { *order = append(*order, "close") })
	ch.SetErrorCallback(func() { *order = append(*order, "error") })
	return ch
}

func TestChannelDispatchOrder(t *testing.T) {
	useTestLogger(t)
	tests := []struct {
		name    string
		revents uint32
		want    []string
	}{
		{"hangup without input closes", unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLOUT, []string{"close", "error", "write"}},
		{"hangup with input reads", unix.EPOLLHUP | unix.EPOLLIN, []string{"read"}},
		{"peer half close reads", unix.EPOLLRDHUP, []string{"read"}},
		{"urgent data reads", unix.EPOLLPRI, []string{"read"}},
		{"read then write", unix.EPOLLIN | unix.EPOLLOUT, []string{"read", "write"}},
		{"nothing", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			ch := recordingChannel(&order)
			ch.setRevents(tt.revents)
			ch.HandleEvent(time.Now())
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestChannelTiedToDeadOwnerIsSilent(t *testing.T) {
	useTestLogger(t)
	var order []string
	ch := recordingChannel(&order)
	guard := &fakeGuard{alive: true}
	ch.Tie(guard)
	ch.setRevents(unix.EPOLLIN)

	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, order)

	guard.alive = false
	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, order)
}

func TestChannelMissingCallbacksAreSkipped(t *testing.T) {
	useTestLogger(t)
	ch := NewChannel(nil, -1)
	ch.setRevents(unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP)
	assert.NotPanics(t, func() { ch.HandleEvent(time.Now()) })
}

func TestChannelInterest(t *testing.T) {
	useTestLogger(t)
	loop, err := NewEventLoop()
	require.NoError(t, err)
	defer func() { require.NoError(t, loop.Close()) }()

	r, _ := newPipe(t)
	ch := NewChannel(loop, r)
	assert.True(t, ch.IsNoneEvent())
	assert.Equal(t, "NONE", ch.String())
	assert.Same(t, loop, ch.OwnerLoop())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsWriting())
	assert.Equal(t, "IN|PRI|RDHUP", ch.String())

	ch.EnableWriting()
	assert.True(t, ch.IsWriting())
	ch.DisableWriting()
	assert.False(t, ch.IsWriting())
	assert.True(t, ch.IsReading())

	ch.DisableReading()
	assert.True(t, ch.IsNoneEvent())
	ch.Remove()
}

func TestChannelReadEventFromLoop(t *testing.T) {
	useTestLogger(t)
	loop := startLoop(t, "chan-loop")
	r, w := newPipe(t)

	got := make(chan string, 1)
	var ch *Channel
	runSync(t, loop, func() {
		ch = NewChannel(loop, r)
		ch.SetReadCallback(func(receiveTime time.Time) {
			buf := make([]byte, 64)
			n, _ := unix.Read(r, buf)
			select {
			case got <- string(buf[:n]):
			default:
			}
			assert.False(t, receiveTime.IsZero())
			assert.Equal(t, loop.PollReturnTime(), receiveTime)
		})
		ch.EnableReading()
	})

	_, err := unix.Write(w, []byte("ping"))
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(testTimeout):
		t.Fatal("read callback did not fire")
	}

	runSync(t, loop, func() {
		ch.DisableAll()
		ch.Remove()
	})
}
