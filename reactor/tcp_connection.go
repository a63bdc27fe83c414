package reactor

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/socket"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultHighWaterMark is the buffered-output threshold of a new connection.
const DefaultHighWaterMark = 64 * 1024 * 1024

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// TcpConnection is one established TCP connection bound to a single loop.
// Send, Shutdown, ForceClose, StartRead, StopRead and the accessors may be
// called from any goroutine; everything else runs on the loop's thread,
// including every callback.
type TcpConnection struct {
	loop      *EventLoop
	name      string
	state     atomic.Int32
	destroyed atomic.Bool

	socket    *socket.Socket
	channel   *Channel
	localAddr netip.AddrPort
	peerAddr  netip.AddrPort

	reading    bool
	halfClosed bool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback
	highWaterMark         int

	inputBuffer  *Buffer
	outputBuffer *Buffer

	context any
}

// NewTcpConnection adopts fd, an already connected non-blocking socket. The
// connection is inert until ConnectEstablished runs on loop.
func NewTcpConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr netip.AddrPort) *TcpConnection {
	if loop == nil {
		log.Logger.Fatal("connection loop is nil", zap.String("conn", name), zap.Error(ErrNilLoop))
	}
	c := &TcpConnection{
		loop:               loop,
		name:               name,
		socket:             socket.New(fd),
		channel:            NewChannel(loop, fd),
		localAddr:          localAddr,
		peerAddr:           peerAddr,
		reading:            true,
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		highWaterMark:      DefaultHighWaterMark,
		inputBuffer:        NewBuffer(),
		outputBuffer:       NewBuffer(),
	}
	c.state.Store(int32(StateConnecting))

	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(func() { c.handleError(nil) })

	log.Logger.Info("connection created", zap.String("conn", name), zap.Int("fd", fd))
	if err := c.socket.SetKeepAlive(true); err != nil {
		log.Logger.Warn("set keep-alive failed", zap.String("conn", name), zap.Error(err))
	}
	return c
}

func (c *TcpConnection) Loop() *EventLoop { return c.loop }
func (c *TcpConnection) Name() string { return c.name }
func (c *TcpConnection) LocalAddr() netip.AddrPort { return c.localAddr }
func (c *TcpConnection) PeerAddr() netip.AddrPort { return c.peerAddr }
func (c *TcpConnection) State() State { return State(c.state.Load()) }
func (c *TcpConnection) Connected() bool { return c.State() == StateConnected }
func (c *TcpConnection) Disconnected() bool { return c.State() == StateDisconnected }

// Alive reports whether the connection has not been torn down yet. It makes
// the connection the Guard of its own channel.
func (c *TcpConnection) Alive() bool {
	return !c.destroyed.Load()
}

// InputBuffer and OutputBuffer may only be used on the loop's thread.
func (c *TcpConnection) InputBuffer() *Buffer { return c.inputBuffer }
func (c *TcpConnection) OutputBuffer() *Buffer { return c.outputBuffer }

// SetContext attaches user data. Context and SetContext belong to the loop's
// thread.
func (c *TcpConnection) SetContext(v any) { c.context = v }
func (c *TcpConnection) Context() any { return c.context }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, highWaterMark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = highWaterMark
}

func (c *TcpConnection) SetTCPNoDelay(on bool) error {
	return c.socket.SetTCPNoDelay(on)
}

// SetSendBufferSize caps the kernel send buffer, so output backs up into
// the connection's own buffer sooner.
func (c *TcpConnection) SetSendBufferSize(n int) error {
	return c.socket.SetSendBuffer(n)
}

func (c *TcpConnection) setState(s State) {
	c.state.Store(int32(s))
}

// Send writes data or buffers what the socket does not take right away. It
// is a no-op unless the connection is Connected. Off the loop thread data is
// copied before Send returns.
func (c *TcpConnection) Send(data []byte) {
	if c.State() != StateConnected {
		log.Logger.Debug("send on a connection that is not connected", zap.String("conn", c.name),
			zap.Stringer("state", c.State()))
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
}

func (c *TcpConnection) SendString(s string) {
	c.Send([]byte(s))
}

// SendBuffer sends and consumes the readable bytes of buf.
func (c *TcpConnection) SendBuffer(buf *Buffer) {
	c.Send(buf.Peek())
	buf.RetrieveAll()
}

// sendInLoop accepts data queued before a Shutdown, so only a disconnected
// or half-closed connection drops it.
func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected || c.halfClosed {
		log.Logger.Debug("connection is down, give up writing", zap.String("conn", c.name))
		return
	}

	nwrote := 0
	remaining := len(data)
	faultError := false

	// nothing queued: try the socket directly
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.Fd(), data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else if !IsTemporaryError(err) {
			log.Logger.Error("connection write error", zap.String("conn", c.name), zap.Error(err))
			if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
				faultError = true
			}
		}
	}

	if faultError {
		c.handleClose()
		return
	}
	if remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			buffered := oldLen + remaining
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, buffered) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the connection once buffered output has drained.
// Later sends are dropped.
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if c.channel.IsWriting() || c.halfClosed {
		return
	}
	c.halfClosed = true
	if err := c.socket.ShutdownWrite(); err != nil {
		log.Logger.Error("shutdown write error", zap.String("conn", c.name), zap.Error(err))
	}
}

// ForceClose closes the connection without waiting for buffered output.
func (c *TcpConnection) ForceClose() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) ||
		c.State() == StateDisconnecting {
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

func (c *TcpConnection) forceCloseInLoop() {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnecting {
		c.handleClose()
	}
}

// StartRead and StopRead toggle read interest; stopping lets the kernel
// receive window push back on the peer.
func (c *TcpConnection) StartRead() {
	c.loop.RunInLoop(func() {
		if c.State() == StateDisconnected {
			return
		}
		if !c.reading || !c.channel.IsReading() {
			c.channel.EnableReading()
			c.reading = true
		}
	})
}

func (c *TcpConnection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.State() == StateDisconnected {
			return
		}
		if c.reading || c.channel.IsReading() {
			c.channel.DisableReading()
			c.reading = false
		}
	})
}

// ConnectEstablished runs once on the loop, right after the server
// registered the connection.
func (c *TcpConnection) ConnectEstablished() {
	c.loop.AssertInLoopThread()
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		log.Logger.Fatal("connection established twice", zap.String("conn", c.name), zap.Stringer("state", c.State()))
	}
	c.channel.Tie(c)
	c.channel.EnableReading()
	c.connectionCallback(c)
}

// ConnectDestroyed is the final teardown: it unregisters the channel and
// closes the socket. It is safe to run more than once.
func (c *TcpConnection) ConnectDestroyed() {
	c.loop.AssertInLoopThread()
	if st := c.State(); st == StateConnected || st == StateDisconnecting {
		c.setState(StateDisconnected)
		c.channel.DisableAll()
		c.connectionCallback(c)
	}
	if c.loop.HasChannel(c.channel) {
		c.channel.Remove()
	}
	c.destroyed.Store(true)
	if err := c.socket.Close(); err != nil {
		log.Logger.Error("close connection socket", zap.String("conn", c.name), zap.Error(err))
	}
	log.Logger.Info("connection destroyed", zap.String("conn", c.name))
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}
	n, err := c.inputBuffer.ReadFd(c.channel.Fd())
	switch {
	case err != nil:
		if IsTemporaryError(err) {
			return
		}
		c.handleError(err)
	case n == 0:
		c.handleClose()
	default:
		c.messageCallback(c, c.inputBuffer, receiveTime)
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		log.Logger.Debug("connection is down, no more writing", zap.String("conn", c.name), zap.Int("fd", c.channel.Fd()))
		return
	}
	n, err := c.outputBuffer.WriteFd(c.channel.Fd())
	if err != nil {
		if IsTemporaryError(err) {
			return
		}
		c.handleError(err)
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() > 0 {
		return
	}
	c.channel.DisableWriting()
	if c.writeCompleteCallback != nil {
		c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
	}
	if c.State() == StateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose is the single path to Disconnected. The server's close
// callback defers the actual teardown to a later loop iteration.
func (c *TcpConnection) handleClose() {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}
	log.Logger.Info("connection closing", zap.String("conn", c.name), zap.Int("fd", c.channel.Fd()),
		zap.Stringer("state", c.State()))
	c.setState(StateDisconnected)
	c.channel.DisableAll()

	c.connectionCallback(c)
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

// handleError logs cause together with the socket's pending error and
// closes the connection.
func (c *TcpConnection) handleError(cause error) {
	soErr := c.socket.Error()
	log.Logger.Error("connection error", zap.String("conn", c.name), zap.NamedError("cause", cause),
		zap.NamedError("so_error", soErr))
	c.handleClose()
}
