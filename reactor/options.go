package reactor

// Option customizes a TcpServer at construction.
type Option func(*TcpServer)

// WithReusePort sets SO_REUSEPORT on the listening socket.
func WithReusePort(on bool) Option {
	return func(s *TcpServer) {
		s.reusePort = on
	}
}

// WithThreadNum sets the number of worker loops. Zero runs every connection
// on the base loop.
func WithThreadNum(n int) Option {
	return func(s *TcpServer) {
		s.threadPool.SetThreadNum(n)
	}
}

// WithHighWaterMark sets the per-connection buffered-output threshold.
func WithHighWaterMark(n int) Option {
	return func(s *TcpServer) {
		s.highWaterMark = n
	}
}

// WithSendBufferSize sets SO_SNDBUF on every accepted connection. Zero keeps
// the kernel default.
func WithSendBufferSize(n int) Option {
	return func(s *TcpServer) {
		s.sendBufferSize = n
	}
}

func WithThreadInit(cb ThreadInitCallback) Option {
	return func(s *TcpServer) {
		s.threadInitCallback = cb
	}
}
