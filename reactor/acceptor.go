package reactor

import (
	"errors"
	"net/netip"
	"time"

	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/socket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback takes ownership of fd.
type NewConnectionCallback func(fd int, peerAddr netip.AddrPort)

// Acceptor owns the listening socket of a server and lives on its loop.
type Acceptor struct {
	loop                  *EventLoop
	acceptSocket          *socket.Socket
	acceptChannel         *Channel
	addr                  netip.AddrPort
	newConnectionCallback NewConnectionCallback
	listening             bool
}

// NewAcceptor creates and binds a non-blocking listening socket. Listening
// starts with Listen.
func NewAcceptor(loop *EventLoop, listenAddr netip.AddrPort, reusePort bool) (*Acceptor, error) {
	if loop == nil {
		log.Logger.Fatal("acceptor loop is nil", zap.Error(ErrNilLoop))
	}
	sock, err := socket.NewNonblocking(listenAddr)
	if err != nil {
		return nil, err
	}
	err = multierr.Combine(
		sock.SetReuseAddr(true),
		sock.SetReusePort(reusePort),
		sock.Bind(listenAddr),
	)
	if err != nil {
		return nil, multierr.Append(err, sock.Close())
	}
	bound, err := sock.LocalAddr()
	if err != nil {
		return nil, multierr.Append(err, sock.Close())
	}

	a := &Acceptor{
		loop:          loop,
		acceptSocket:  sock,
		acceptChannel: NewChannel(loop, sock.Fd()),
		addr:          bound,
	}
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Addr is the bound address, with the port the kernel picked for port 0.
func (a *Acceptor) Addr() netip.AddrPort {
	return a.addr
}

func (a *Acceptor) Listening() bool {
	return a.listening
}

// Listen is fatal if the socket cannot listen.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopThread()
	a.listening = true
	if err := a.acceptSocket.Listen(); err != nil {
		log.Logger.Fatal("listen error", zap.Stringer("addr", a.addr), zap.Error(err))
	}
	a.acceptChannel.EnableReading()
	log.Logger.Info("acceptor listening", zap.Stringer("addr", a.addr))
}

// handleRead accepts one connection per readiness event; the level-triggered
// poller reports the rest of the backlog again.
func (a *Acceptor) handleRead(time.Time) {
	a.loop.AssertInLoopThread()
	connFd, peerAddr, err := a.acceptSocket.Accept()
	if err == nil {
		if a.newConnectionCallback != nil {
			a.newConnectionCallback(connFd, peerAddr)
		} else if err := unix.Close(connFd); err != nil {
			log.Logger.Error("close of unhandled connection", zap.Int("fd", connFd), zap.Error(err))
		}
		return
	}

	if IsTemporaryError(err) {
		log.Logger.Debug("accept would block", zap.Error(err))
		return
	}
	log.Logger.Error("accept error", zap.Stringer("addr", a.addr), zap.Error(err))
	if errors.Is(err, unix.EMFILE) {
		log.Logger.Error("sockfd reached limit", zap.Stringer("addr", a.addr))
	}
}

// Close stops listening and closes the listening socket.
func (a *Acceptor) Close() error {
	a.loop.AssertInLoopThread()
	if a.listening {
		a.acceptChannel.DisableAll()
		a.acceptChannel.Remove()
		a.listening = false
	}
	return a.acceptSocket.Close()
}
