// Package reactor is a "one loop per thread" TCP networking core for Linux.
//
// An EventLoop is bound to the OS thread that created it. Every Channel,
// TcpConnection and Acceptor belongs to exactly one loop and is only touched
// from that loop's thread; other goroutines hand work to a loop with
// RunInLoop / QueueInLoop, which wake the loop through an eventfd.
//
// A minimal echo server:
//
//	loop, err := reactor.NewEventLoop()
//	if err != nil { ... }
//	addr, _ := socket.ParseAddr(":8000")
//	srv, err := reactor.NewTcpServer(loop, addr, "echo", reactor.WithThreadNum(3))
//	if err != nil { ... }
//	srv.SetMessageCallback(func(c *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
//		c.Send(buf.Peek())
//		buf.RetrieveAll()
//	})
//	srv.Start()
//	loop.Loop()
package reactor
