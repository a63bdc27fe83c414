package reactor

import (
	"time"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
)

// ConnectionCallback fires when a connection comes up and again when it goes
// down; check Connected to tell them apart.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback fires after bytes were read into buf. The callback
// consumes what it handles with buf.Retrieve*.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime time.Time)

type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback fires once each time buffered output crosses the
// high-water mark from below.
type HighWaterMarkCallback func(conn *TcpConnection, buffered int)

// CloseCallback is internal to the server, which uses it to drop the
// connection from its registry.
type CloseCallback func(conn *TcpConnection)

func defaultConnectionCallback(conn *TcpConnection) {
	log.Logger.Debug("connection state", zap.String("local", conn.LocalAddr().String()),
		zap.String("peer", conn.PeerAddr().String()), zap.Bool("up", conn.Connected()))
}

func defaultMessageCallback(_ *TcpConnection, buf *Buffer, _ time.Time) {
	buf.RetrieveAll()
}
