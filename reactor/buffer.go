package reactor

import (
	"bytes"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend is reserved in front of the readable bytes so a length
	// header can be prepended without moving data.
	CheapPrepend = 8
	InitialSize  = 1024

	extraBufSize = 64 * 1024
)

var crlf = []byte("\r\n")

// extraBufPool holds the overflow vector used by ReadFd.
var extraBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, extraBufSize)
		return &b
	},
}

// Buffer is a growable byte region laid out as
//
//	| prependable | readable | writable |
//	0      readerIndex  writerIndex   len(buf)
//
// A Buffer is not safe for concurrent use; each one belongs to a single
// connection and is only touched from that connection's loop.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

func NewBuffer() *Buffer {
	return NewBufferSize(InitialSize)
}

func NewBufferSize(initialSize int) *Buffer {
	return &Buffer{
		buf:         make([]byte, CheapPrepend+initialSize),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

func (b *Buffer) ReadableBytes() int {
	return b.writerIndex - b.readerIndex
}

func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writerIndex
}

func (b *Buffer) PrependableBytes() int {
	return b.readerIndex
}

// Cap is the size of the backing store.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Peek returns the readable bytes without consuming them. The slice is only
// valid until the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve consumes n readable bytes. Consuming everything resets both
// cursors to the prepend boundary.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	b.writerIndex += copy(b.buf[b.writerIndex:], data)
}

func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.writerIndex += copy(b.buf[b.writerIndex:], s)
}

// Write implements io.Writer; it never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Prepend writes data right before the readable bytes. It panics when data
// does not fit in the prependable region.
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.PrependableBytes() {
		panic("reactor: prepend exceeds prependable bytes")
	}
	b.readerIndex -= len(data)
	copy(b.buf[b.readerIndex:], data)
}

func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, b.writerIndex+n)
		copy(grown, b.buf[:b.writerIndex])
		b.buf = grown
		return
	}
	// enough room once the readable bytes move back to CheapPrepend
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend + readable
}

// FindCRLF returns the offset of the first "\r\n" in the readable bytes, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindEOL returns the offset of the first '\n' in the readable bytes, or -1.
func (b *Buffer) FindEOL() int {
	return bytes.IndexByte(b.Peek(), '\n')
}

// ReadFd does a single readv into the writable region plus a 64 KiB
// overflow vector, so one readiness event never needs a large
// pre-allocation. Overflowed bytes are appended through the normal growth
// path. The error is returned as is; callers decide whether to retry.
func (b *Buffer) ReadFd(fd int) (int, error) {
	extra := extraBufPool.Get().(*[]byte)
	defer extraBufPool.Put(extra)

	writable := b.WritableBytes()
	iovs := [][]byte{b.buf[b.writerIndex:]}
	if writable < extraBufSize {
		iovs = append(iovs, *extra)
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append((*extra)[:n-writable])
	}
	return n, nil
}

// WriteFd does a single write of the readable bytes. It does not consume
// them; the caller retrieves what was written.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	return n, nil
}
