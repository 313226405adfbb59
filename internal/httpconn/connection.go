// Package httpconn implements the per-socket connection state machine:
// read -> parse -> build response -> write -> mmap-send, per spec.md §4.D.
package httpconn

import (
	"io"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/yourusername/reactorhttpd/internal/buffer"
	"github.com/yourusername/reactorhttpd/internal/httpparse"
)

// State names the connection's top-level state, distinct from the request
// parser's own sub-states.
type State int

const (
	StateRead State = iota
	StateProcess
	StateWrite
	StateClose
)

// Interest tells the reactor which readiness the connection wants armed
// next; it is meaningless once State == StateClose.
type Interest int

const (
	InterestNone Interest = iota
	InterestRead
	InterestWrite
)

// Conn is the per-connection record described in spec.md §3. It owns Fd
// exactly once: Close() is idempotent but only the first call releases the
// descriptor.
type Conn struct {
	ID   uuid.UUID
	Fd   int
	Peer string

	SrcDir      string
	IdleTimeout int // milliseconds, carried for the reactor's timer.Add

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	parser   *httpparse.Parser
	resp     *Response

	closed bool

	// iovec write progress: 0 = writeBuf not yet fully drained, 1 = file
	// region (if any) in flight. The write is complete once pendingIovecs
	// returns no segments.
	writeStage  int
	writeOffset int // offset into the stage currently being drained
}

// New constructs a Conn for a freshly accepted, already non-blocking fd.
func New(fd int, peer, srcDir string, idleTimeoutMS int) *Conn {
	return &Conn{
		ID:          uuid.New(),
		Fd:          fd,
		Peer:        peer,
		SrcDir:      srcDir,
		IdleTimeout: idleTimeoutMS,
		readBuf:     buffer.New(),
		writeBuf:    buffer.New(),
		parser:      httpparse.NewParser(),
	}
}

// Read performs the READ state: a scatter read into readBuf. It returns
// the next top-level state and, for StateRead, whether the caller should
// re-arm for read-readiness (on EAGAIN) rather than closing.
func (c *Conn) Read() (next State, rearmRead bool) {
	n, err := c.readBuf.ReadFromFD(c.Fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return StateRead, true
		}
		return StateClose, false
	}
	if n == 0 {
		return StateClose, false
	}
	return StateProcess, false
}

// Process performs the PROCESS state: drive the parser over readBuf and,
// on success, build the response into writeBuf. It reports the next state
// and, on StateRead, whether more bytes are needed before retrying.
func (c *Conn) Process() (next State, needMoreData bool, code int) {
	consumed, req, err := c.parser.Parse(c.readBuf.Peek())
	if consumed > 0 {
		c.readBuf.Retrieve(consumed)
	}
	if err == httpparse.ErrNeedMore {
		return StateRead, true, 0
	}
	if pc, ok := err.(httpparse.Code); ok {
		c.buildErrorResponse(int(pc))
		return StateWrite, false, int(pc)
	}
	if err != nil {
		c.buildErrorResponse(400)
		return StateWrite, false, 400
	}

	keepAlive := req.IsKeepAlive()
	c.resp = NewResponse(c.SrcDir, req.Path, keepAlive, -1)
	c.resp.MakeResponse(c.writeBuf)
	c.writeStage = 0
	c.writeOffset = 0
	return StateWrite, false, c.resp.Code
}

func (c *Conn) buildErrorResponse(code int) {
	c.resp = NewResponse(c.SrcDir, "/", false, code)
	c.resp.MakeErrorResponse(c.writeBuf)
	c.writeStage = 0
	c.writeOffset = 0
}

// Write performs the WRITE state: a gather-write across writeBuf and, if
// present, the mmap'd file region, draining iov[0] before iov[1]. It
// reports the next state and whether the caller should re-arm for
// write-readiness.
func (c *Conn) Write() (next State, rearmWrite bool) {
	iovs := c.pendingIovecs()
	if len(iovs) == 0 {
		return c.finishWrite()
	}

	n, err := unix.Writev(c.Fd, iovs)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return StateWrite, true
		}
		return StateClose, false
	}
	c.consumeWritten(n)

	if len(c.pendingIovecs()) > 0 {
		return StateWrite, true
	}
	return c.finishWrite()
}

// pendingIovecs builds the at-most-two-segment iovec array described in
// spec.md §4.D: iov[0] is writeBuf's readable region, iov[1] is the
// mmap'd file region, both net of what writeOffset/writeStage already sent.
func (c *Conn) pendingIovecs() []unix.Iovec {
	var iovs []unix.Iovec

	if c.writeStage == 0 {
		seg := c.writeBuf.Peek()[c.writeOffset:]
		if len(seg) > 0 {
			iovs = append(iovs, mkIovec(seg))
		} else {
			c.writeStage = 1
			c.writeOffset = 0
		}
	}
	if c.writeStage <= 1 && c.resp != nil {
		fileSeg := c.resp.FileRegion()
		if c.writeStage == 1 {
			fileSeg = fileSeg[c.writeOffset:]
		}
		if len(fileSeg) > 0 {
			iovs = append(iovs, mkIovec(fileSeg))
		}
	}
	return iovs
}

func (c *Conn) consumeWritten(n int) {
	if c.writeStage == 0 {
		seg := c.writeBuf.Peek()[c.writeOffset:]
		if n < len(seg) {
			c.writeOffset += n
			return
		}
		n -= len(seg)
		c.writeBuf.Retrieve(c.writeBuf.ReadableBytes())
		c.writeStage = 1
		c.writeOffset = 0
	}
	if n > 0 && c.resp != nil {
		c.writeOffset += n
	}
}

func (c *Conn) finishWrite() (State, bool) {
	if c.resp != nil {
		c.resp.Unmap()
	}
	if c.resp != nil && c.resp.IsKeepAlive {
		c.reset()
		return StateRead, false
	}
	return StateClose, false
}

// reset prepares the connection for the next request on a persistent
// connection.
func (c *Conn) reset() {
	c.parser.Reset()
	c.writeBuf.RetrieveAll()
	c.resp = nil
	c.writeStage = 0
	c.writeOffset = 0
}

// Close releases the socket descriptor and any mapped file region exactly
// once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.resp != nil {
		c.resp.Unmap()
	}
	c.readBuf.Release()
	c.writeBuf.Release()
	return unix.Close(c.Fd)
}

func mkIovec(p []byte) unix.Iovec {
	var iov unix.Iovec
	if len(p) > 0 {
		iov.Base = &p[0]
	}
	iov.SetLen(len(p))
	return iov
}

var _ io.Closer = (*Conn)(nil)
