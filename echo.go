package main

import (
	"bytes"
	"net/netip"
	"time"

	"github.com/fzft/go-reactor/config"
	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/reactor"
	"github.com/fzft/go-reactor/socket"
	"go.uber.org/zap"
)

// EchoServer sends back every complete line it receives. A trailing partial
// line stays in the input buffer until its newline arrives.
type EchoServer struct {
	server *reactor.TcpServer
}

func NewEchoServer(loop *reactor.EventLoop, cfg config.Config) (*EchoServer, error) {
	addr, err := socket.ParseAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}
	server, err := reactor.NewTcpServer(loop, addr, cfg.Name,
		reactor.WithReusePort(cfg.ReusePort),
		reactor.WithThreadNum(cfg.Threads),
		reactor.WithHighWaterMark(cfg.HighWaterMark),
		reactor.WithSendBufferSize(cfg.SendBuffer),
	)
	if err != nil {
		return nil, err
	}
	s := &EchoServer{server: server}
	server.SetConnectionCallback(s.onConnection)
	server.SetMessageCallback(s.onMessage)
	server.SetWriteCompleteCallback(s.onWriteComplete)
	server.SetHighWaterMarkCallback(s.onHighWaterMark)
	return s, nil
}

func (s *EchoServer) Start() error {
	return s.server.Start()
}

func (s *EchoServer) Addr() netip.AddrPort {
	return s.server.Addr()
}

// Close must run on the base loop's thread.
func (s *EchoServer) Close() error {
	return s.server.Close()
}

func (s *EchoServer) onConnection(conn *reactor.TcpConnection) {
	if conn.Connected() {
		log.Logger.Info("connection up", zap.Stringer("peer", conn.PeerAddr()))
	} else {
		log.Logger.Info("connection down", zap.Stringer("peer", conn.PeerAddr()))
	}
}

func (s *EchoServer) onMessage(conn *reactor.TcpConnection, buf *reactor.Buffer, receiveTime time.Time) {
	data := buf.Peek()
	end := bytes.LastIndexByte(data, '\n')
	log.Logger.Debug("recv data", zap.String("conn", conn.Name()), zap.Int("bytes", len(data)),
		zap.Time("time", receiveTime))
	if end < 0 {
		return
	}
	conn.Send(data[:end+1])
	buf.Retrieve(end + 1)
}

// onHighWaterMark stops reading from a peer that does not drain its echoes.
// Reading resumes once the output buffer is flushed.
func (s *EchoServer) onHighWaterMark(conn *reactor.TcpConnection, buffered int) {
	log.Logger.Warn("output above high-water mark", zap.String("conn", conn.Name()), zap.Int("buffered", buffered))
	conn.StopRead()
	conn.SetContext(true)
}

func (s *EchoServer) onWriteComplete(conn *reactor.TcpConnection) {
	if paused, _ := conn.Context().(bool); paused {
		conn.SetContext(false)
		conn.StartRead()
		log.Logger.Info("reading resumed", zap.String("conn", conn.Name()))
	}
}
