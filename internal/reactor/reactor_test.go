package reactor

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startReactor(t *testing.T, srcDir string, timeoutMS int) *Reactor {
	t.Helper()
	r, err := New(Config{Port: 0, SrcDir: srcDir, TimeoutMS: timeoutMS, ThreadNum: 2}, nil)
	require.NoError(t, err)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		r.Run()
	}()
	t.Cleanup(func() {
		r.Stop()
		<-runDone
		r.Close()
	})
	return r
}

func TestStaticFileServedOverRealSocket(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello reactor\n"), 0644))

	r := startReactor(t, dir, 5000)
	time.Sleep(50 * time.Millisecond) // let the accept loop arm

	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Contains(t, string(out), "HTTP/1.1 200 OK\r\n")
	require.Contains(t, string(out), "hello reactor\n")
}

func TestIdleConnectionClosedAfterTimeout(t *testing.T) {
	dir := t.TempDir()
	r := startReactor(t, dir, 100)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestKeepAliveReusesConnectionAcrossTwoRequests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("first\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.html"), []byte("second\n"), 0644))

	r := startReactor(t, dir, 5000)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /a.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)

	first := readUntilBody(t, conn, "first\n")
	require.Contains(t, first, "Connection: keep-alive\r\n")

	_, err = conn.Write([]byte("GET /b.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)

	second := readUntilBody(t, conn, "second\n")
	require.Contains(t, second, "Connection: keep-alive\r\n")
}

// readUntilBody reads until suffix has arrived on conn, with a deadline,
// returning everything read so far.
func readUntilBody(t *testing.T, conn net.Conn, suffix string) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 256)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) >= len(suffix) && string(buf[len(buf)-len(suffix):]) == suffix {
				return string(buf)
			}
		}
		if err != nil {
			require.NoError(t, err, "reading response: %s", string(buf))
		}
	}
}
