package socket

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: ":8000", want: "0.0.0.0:8000"},
		{in: "127.0.0.1:0", want: "127.0.0.1:0"},
		{in: "[::1]:9000", want: "[::1]:9000"},
		{in: "localhost:80", wantErr: true},
		{in: "127.0.0.1", wantErr: true},
		{in: "127.0.0.1:70000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSockaddrConversion(t *testing.T) {
	v4 := netip.MustParseAddrPort("10.1.2.3:4567")
	sa := ToSockaddr(v4)
	require.IsType(t, &unix.SockaddrInet4{}, sa)
	assert.Equal(t, v4, FromSockaddr(sa))

	v6 := netip.MustParseAddrPort("[2001:db8::1]:443")
	sa = ToSockaddr(v6)
	require.IsType(t, &unix.SockaddrInet6{}, sa)
	assert.Equal(t, v6, FromSockaddr(sa))

	mapped := netip.MustParseAddrPort("[::ffff:10.1.2.3]:4567")
	assert.IsType(t, &unix.SockaddrInet4{}, ToSockaddr(mapped))
	assert.Equal(t, v4, FromSockaddr(&unix.SockaddrInet6{Port: 4567, Addr: mapped.Addr().As16()}))

	assert.False(t, FromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"}).IsValid())
}

func TestListenAcceptShutdown(t *testing.T) {
	addr := netip.MustParseAddrPort("127.0.0.1:0")
	ln, err := NewNonblocking(addr)
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.SetReuseAddr(true))
	require.NoError(t, ln.SetReusePort(true))
	require.NoError(t, ln.Bind(addr))
	require.NoError(t, ln.Listen())
	bound, err := ln.LocalAddr()
	require.NoError(t, err)
	require.NotZero(t, bound.Port())

	_, _, err = ln.Accept()
	assert.ErrorIs(t, err, unix.EAGAIN, "nothing pending on a non-blocking listener")

	client, err := net.DialTimeout("tcp", bound.String(), time.Second)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	var (
		fd   int
		peer netip.AddrPort
	)
	require.Eventually(t, func() bool {
		fd, peer, err = ln.Accept()
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
	conn := New(fd)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), peer.String())

	gotPeer, err := conn.PeerAddr()
	require.NoError(t, err)
	assert.Equal(t, peer, gotPeer)
	local, err := conn.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, bound, local)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "accepted fd is non-blocking")

	require.NoError(t, conn.SetKeepAlive(true))
	require.NoError(t, conn.SetTCPNoDelay(true))
	nodelay, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.Equal(t, 1, nodelay)
	assert.NoError(t, conn.Error())

	require.NoError(t, conn.ShutdownWrite())
	n, err := client.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Error(t, err, "peer sees EOF after shutdown of the write side")
}

func TestSetSendBuffer(t *testing.T) {
	s, err := NewNonblocking(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetSendBuffer(4096))
	after, err := unix.GetsockoptInt(s.Fd(), unix.SOL_SOCKET, unix.SO_SNDBUF)
	require.NoError(t, err)
	// the kernel doubles the request
	assert.Equal(t, 8192, after)

	require.NoError(t, s.Close())
	assert.Error(t, s.SetSendBuffer(4096))
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := NewNonblocking(netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, -1, s.Fd())
}
