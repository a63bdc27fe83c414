package reactor

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/socket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TcpServer accepts connections on its base loop and spreads them over the
// worker loops of its thread pool.
type TcpServer struct {
	loop       *EventLoop
	ipPort     string
	name       string
	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	threadInitCallback    ThreadInitCallback

	reusePort      bool
	highWaterMark  int
	sendBufferSize int

	started    atomic.Int32
	nextConnID int

	// only touched on the base loop's thread
	connections map[string]*TcpConnection
}

// NewTcpServer binds listenAddr right away; the server accepts nothing until
// Start. A nil loop is fatal.
func NewTcpServer(loop *EventLoop, listenAddr netip.AddrPort, name string, opts ...Option) (*TcpServer, error) {
	if loop == nil {
		log.Logger.Fatal("server base loop is nil", zap.String("name", name), zap.Error(ErrNilLoop))
	}
	s := &TcpServer{
		loop:               loop,
		name:               name,
		threadPool:         NewEventLoopThreadPool(loop, name),
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		highWaterMark:      DefaultHighWaterMark,
		nextConnID:         1,
		connections:        make(map[string]*TcpConnection),
	}
	for _, opt := range opts {
		opt(s)
	}

	acceptor, err := NewAcceptor(loop, listenAddr, s.reusePort)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", name, err)
	}
	s.acceptor = acceptor
	s.ipPort = acceptor.Addr().String()
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *TcpServer) Name() string { return s.name }
func (s *TcpServer) IPPort() string { return s.ipPort }
func (s *TcpServer) Addr() netip.AddrPort { return s.acceptor.Addr() }
func (s *TcpServer) Loop() *EventLoop { return s.loop }
func (s *TcpServer) ThreadPool() *EventLoopThreadPool { return s.threadPool }

// SetThreadNum must be called before Start.
func (s *TcpServer) SetThreadNum(n int) {
	s.threadPool.SetThreadNum(n)
}

// The callback setters must be called before Start.
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }
func (s *TcpServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback) { s.highWaterMarkCallback = cb }
func (s *TcpServer) SetThreadInitCallback(cb ThreadInitCallback) { s.threadInitCallback = cb }

// Start spawns the worker loops and begins listening. Only the first call
// does anything.
func (s *TcpServer) Start() error {
	if s.started.Add(1) != 1 {
		return nil
	}
	if err := s.threadPool.Start(s.threadInitCallback); err != nil {
		return err
	}
	s.loop.RunInLoop(s.acceptor.Listen)
	return nil
}

// ConnectionCount must be called on the base loop's thread.
func (s *TcpServer) ConnectionCount() int {
	s.loop.AssertInLoopThread()
	return len(s.connections)
}

func (s *TcpServer) newConnection(fd int, peerAddr netip.AddrPort) {
	s.loop.AssertInLoopThread()
	ioLoop := s.threadPool.GetNextLoop()
	connName := fmt.Sprintf("%s-%s#%d", s.name, peerAddr, s.nextConnID)
	s.nextConnID++

	log.Logger.Info("new connection", zap.String("server", s.name), zap.String("conn", connName),
		zap.Stringer("peer", peerAddr))

	localAddr, err := socket.New(fd).LocalAddr()
	if err != nil {
		log.Logger.Error("connection local address", zap.String("conn", connName), zap.Error(err))
	}

	conn := NewTcpConnection(ioLoop, connName, fd, localAddr, peerAddr)
	if s.sendBufferSize > 0 {
		if err := conn.SetSendBufferSize(s.sendBufferSize); err != nil {
			log.Logger.Warn("set send buffer failed", zap.String("conn", connName), zap.Error(err))
		}
	}
	s.connections[connName] = conn
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCallback, s.highWaterMark)
	conn.SetCloseCallback(s.removeConnection)

	ioLoop.RunInLoop(conn.ConnectEstablished)
}

// removeConnection may run on any worker loop.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.loop.AssertInLoopThread()
	log.Logger.Info("remove connection", zap.String("server", s.name), zap.String("conn", conn.Name()))
	delete(s.connections, conn.Name())
	// queued, never run inline: we may still be inside conn's own callback
	conn.Loop().QueueInLoop(conn.ConnectDestroyed)
}

// Close tears down every live connection on its own loop, closes the
// listening socket and stops the worker loops. It runs on the base loop's
// thread.
func (s *TcpServer) Close() error {
	s.loop.AssertInLoopThread()
	log.Logger.Info("server closing", zap.String("server", s.name), zap.Int("connections", len(s.connections)))

	for name, conn := range s.connections {
		delete(s.connections, name)
		conn.Loop().RunInLoop(conn.ConnectDestroyed)
	}
	err := s.acceptor.Close()
	return multierr.Append(err, s.threadPool.Stop())
}
