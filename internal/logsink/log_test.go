package logsink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncWriteCreatesTodaysFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Level: LevelInfo})
	require.NoError(t, err)
	defer s.Close()

	s.Infof("hello %s", "world")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), ".log")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "[info] : hello world")
}

func TestBelowLevelLinesAreDropped(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Level: LevelWarn})
	require.NoError(t, err)
	defer s.Close()

	s.Infof("should not appear")
	s.Warnf("should appear")

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.NotContains(t, string(data), "should not appear")
	require.Contains(t, string(data), "should appear")
}

func TestAsyncQueueDrainsBeforeClose(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Level: LevelDebug, QueueSize: 16})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Debugf("line %d", i)
	}
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "line 0")
	require.Contains(t, string(data), "line 9")
}

func TestAsyncQueueFullFallsBackToDirectWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Level: LevelDebug, QueueSize: 1})
	require.NoError(t, err)
	defer s.Close()

	s.queueMu.Lock()
	s.queue = append(s.queue, "occupying the single slot\n")
	s.queueMu.Unlock()

	s.Debugf("falls back to a direct write when the queue is full")

	// The fallback writes straight to the file rather than touching the
	// queue, so the occupying entry is still the only thing queued.
	s.queueMu.Lock()
	n := len(s.queue)
	s.queueMu.Unlock()
	require.Equal(t, 1, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "falls back to a direct write when the queue is full")

	// Wake the drain goroutine so it consumes the manually seeded entry
	// and Close's Flush doesn't wait on it forever.
	s.queueCond.Signal()
}

func TestSetLevelTakesEffectImmediately(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Level: LevelError})
	require.NoError(t, err)
	defer s.Close()

	s.Infof("dropped")
	s.SetLevel(LevelInfo)
	s.Infof("kept")

	entries, _ := os.ReadDir(dir)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.NotContains(t, string(data), "dropped")
	require.Contains(t, string(data), "kept")
}
