//go:build linux
// +build linux

// Package socket wraps the handful of socket syscalls the reactor needs. Every
// call is a thin, fallible syscall; nothing here blocks on a non-blocking fd.
package socket

import (
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

const listenBacklog = unix.SOMAXCONN

// Socket owns one socket descriptor. Close releases it.
type Socket struct {
	fd int
}

// New adopts an already open descriptor, e.g. one returned by Accept.
func New(fd int) *Socket {
	return &Socket{fd: fd}
}

// NewNonblocking opens a non-blocking, close-on-exec TCP socket for the
// address family of addr.
func NewNonblocking(addr netip.AddrPort) (*Socket, error) {
	fd, err := unix.Socket(family(addr), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &Socket{fd: fd}, nil
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) Bind(addr netip.AddrPort) error {
	return os.NewSyscallError("bind", unix.Bind(s.fd, ToSockaddr(addr)))
}

func (s *Socket) Listen() error {
	return os.NewSyscallError("listen", unix.Listen(s.fd, listenBacklog))
}

// Accept takes one pending connection. The returned descriptor is already
// non-blocking and close-on-exec.
func (s *Socket) Accept() (int, netip.AddrPort, error) {
	connFd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	return connFd, FromSockaddr(sa), nil
}

// ShutdownWrite half-closes the connection: the peer reads EOF while this
// side can keep reading.
func (s *Socket) ShutdownWrite() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_WR))
}

func (s *Socket) SetReuseAddr(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "setsockopt SO_REUSEADDR")
}

func (s *Socket) SetReusePort(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_REUSEPORT, on, "setsockopt SO_REUSEPORT")
}

func (s *Socket) SetKeepAlive(on bool) error {
	return s.setBool(unix.SOL_SOCKET, unix.SO_KEEPALIVE, on, "setsockopt SO_KEEPALIVE")
}

func (s *Socket) SetTCPNoDelay(on bool) error {
	return s.setBool(unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "setsockopt TCP_NODELAY")
}

// SetSendBuffer sets SO_SNDBUF; the kernel doubles the value and applies
// its own minimum.
func (s *Socket) SetSendBuffer(n int) error {
	return os.NewSyscallError("setsockopt SO_SNDBUF", unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n))
}

func (s *Socket) setBool(level, opt int, on bool, name string) error {
	v := 0
	if on {
		v = 1
	}
	return os.NewSyscallError(name, unix.SetsockoptInt(s.fd, level, opt, v))
}

// Error returns the pending SO_ERROR of the socket, nil when there is none.
func (s *Socket) Error() error {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt SO_ERROR", err)
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}, os.NewSyscallError("getsockname", err)
	}
	return FromSockaddr(sa), nil
}

func (s *Socket) PeerAddr() (netip.AddrPort, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netip.AddrPort{}, os.NewSyscallError("getpeername", err)
	}
	return FromSockaddr(sa), nil
}

// Close closes the descriptor once; later calls are no-ops.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	return os.NewSyscallError("close", unix.Close(fd))
}

func family(addr netip.AddrPort) int {
	if addr.Addr().Unmap().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
