package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAppendRetrieveRoundTrip(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("hello ")
	b.AppendString("world")
	require.Equal(t, "hello world", string(b.Peek()))

	b.Retrieve(6)
	require.Equal(t, "world", string(b.Peek()))
	require.Equal(t, 5, b.ReadableBytes())
}

func TestEnsureWritableGrowsByReallocation(t *testing.T) {
	b := New()
	defer b.Release()

	b.EnsureWritable(initialSize * 4)
	require.GreaterOrEqual(t, b.WritableBytes(), initialSize*4)
}

func TestEnsureWritableReclaimsPrependable(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("0123456789")
	b.Retrieve(10) // readPos now well past 0, large prependable region

	writableBefore := b.WritableBytes()
	prependableBefore := b.PrependableBytes()
	require.Greater(t, prependableBefore, 0)

	// requesting no more than a shift makes available must shift, not
	// reallocate (reallocation would leave readPos, and so the
	// prependable region, where it was)
	b.EnsureWritable(writableBefore + prependableBefore - 1)
	require.Equal(t, 0, b.PrependableBytes())
}

func TestRetrieveAllToStringResetsCursors(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("payload")
	s := b.RetrieveAllString()
	require.Equal(t, "payload", s)
	require.Equal(t, 0, b.ReadableBytes())
	require.Equal(t, 0, b.PrependableBytes())
}

func TestRetrieveUntilNoopAtPeek(t *testing.T) {
	b := New()
	defer b.Release()

	b.AppendString("abc")
	peekStart := b.readPos
	b.RetrieveUntil(peekStart)
	require.Equal(t, "abc", string(b.Peek()))
}

func TestRetrievePanicsBeyondReadable(t *testing.T) {
	b := New()
	defer b.Release()

	require.Panics(t, func() { b.Retrieve(1) })
}

// TestReadFromFDAbsorbsOverflowPastWritable exercises spec.md §8's
// required boundary case for ReadFromFD: a single read larger than the
// buffer's current writable span, which must land partly in the
// writable region and partly in the stack-resident overflow segment
// before being folded back in via Append.
func TestReadFromFDAbsorbsOverflowPastWritable(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	b := New()
	defer b.Release()
	require.Less(t, b.WritableBytes(), initialSize*3, "sanity: payload below must exceed writable")

	payload := make([]byte, initialSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeDone := make(chan error, 1)
	go func() {
		_, werr := unix.Write(fds[1], payload)
		writeDone <- werr
	}()

	var total int
	for total < len(payload) {
		n, err := b.ReadFromFD(fds[0])
		require.NoError(t, err)
		require.Greater(t, n, 0)
		total += n
	}
	require.NoError(t, <-writeDone)

	require.Equal(t, len(payload), b.ReadableBytes())
	require.Equal(t, payload, b.Peek())
}
