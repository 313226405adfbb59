// Package buffer implements the growable FIFO byte buffer shared by the
// reactor's read and write paths.
//
//	+----------------+-------------+-------------+
//	|PrependableBytes|ReadableBytes|WritableBytes|
//	+----------------+-------------+-------------+
//	0           readPos       writePos          cap
package buffer

import (
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

const (
	// initialSize is the starting capacity for a freshly acquired Buffer.
	initialSize = 1024
	// overflowSize is the size of the stack-resident scatter segment used
	// by ReadFromFD to absorb reads larger than the current writable span.
	overflowSize = 65535
)

var pool bytebufferpool.Pool

// Buffer is a contiguous byte region with two monotonic cursors. It is not
// safe for concurrent use; callers serialize access per connection.
type Buffer struct {
	bb       *bytebufferpool.ByteBuffer
	readPos  int
	writePos int
}

// New returns a Buffer backed by a pooled byte slice of at least initialSize.
func New() *Buffer {
	bb := pool.Get()
	if cap(bb.B) < initialSize {
		bb.B = make([]byte, initialSize)
	} else {
		bb.B = bb.B[:cap(bb.B)]
	}
	return &Buffer{bb: bb}
}

// Release returns the backing array to the pool. The Buffer must not be used
// afterwards.
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	b.bb.Reset()
	pool.Put(b.bb)
	b.bb = nil
}

func (b *Buffer) cap() int { return len(b.bb.B) }

// ReadableBytes returns the number of bytes available to Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes available to Append without growth.
func (b *Buffer) WritableBytes() int { return b.cap() - b.writePos }

// PrependableBytes returns the number of reclaimable bytes before readPos.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable region. The slice is valid until the next
// mutating call.
func (b *Buffer) Peek() []byte { return b.bb.B[b.readPos:b.writePos] }

// EnsureWritable guarantees WritableBytes() >= l, shifting or reallocating
// the backing array as required.
func (b *Buffer) EnsureWritable(l int) {
	if b.WritableBytes() >= l {
		return
	}
	b.makeSpace(l)
}

func (b *Buffer) makeSpace(l int) {
	if b.WritableBytes()+b.PrependableBytes() < l {
		grown := make([]byte, b.writePos+l+1)
		copy(grown, b.bb.B[:b.writePos])
		b.bb.B = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.bb.B, b.bb.B[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// HasWritten advances writePos by l. Precondition: l <= WritableBytes().
func (b *Buffer) HasWritten(l int) {
	if l > b.WritableBytes() {
		panic("buffer: HasWritten beyond writable region")
	}
	b.writePos += l
}

// Retrieve advances readPos by l. Precondition: l <= ReadableBytes().
func (b *Buffer) Retrieve(l int) {
	if l > b.ReadableBytes() {
		panic("buffer: Retrieve beyond readable region")
	}
	b.readPos += l
}

// RetrieveUntil retrieves up to the byte offset represented by end, which
// must lie within [Peek(), writePos].
func (b *Buffer) RetrieveUntil(end int) {
	if end < b.readPos || end > b.writePos {
		panic("buffer: RetrieveUntil out of range")
	}
	b.Retrieve(end - b.readPos)
}

// RetrieveAll resets both cursors to zero and zeroes the backing array.
func (b *Buffer) RetrieveAll() {
	for i := range b.bb.B {
		b.bb.B[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllString returns the readable region as a string, then resets
// the buffer as RetrieveAll does.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies p into the writable region, growing as necessary.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	copy(b.bb.B[b.writePos:], p)
	b.HasWritten(len(p))
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// ReadFromFD performs a scatter read into the writable region and a
// stack-resident overflow segment, returning the number of bytes read.
// Transient would-block errors are returned unwrapped so callers can test
// with errors.Is(err, unix.EAGAIN).
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var overflow [overflowSize]byte
	writable := b.WritableBytes()

	iov := []unix.Iovec{
		newIovec(b.bb.B[b.writePos:b.writePos+writable]),
		newIovec(overflow[:]),
	}

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	switch {
	case n <= writable:
		b.writePos += n
	default:
		b.writePos = b.cap()
		b.Append(overflow[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the readable region in a single write(2) call, advancing
// readPos by the number of bytes sent.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return n, errors.Wrap(err, "buffer: write")
	}
	b.Retrieve(n)
	return n, nil
}

func newIovec(p []byte) unix.Iovec {
	var iov unix.Iovec
	if len(p) > 0 {
		iov.Base = &p[0]
	}
	iov.SetLen(len(p))
	return iov
}
