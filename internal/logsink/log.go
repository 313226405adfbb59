// Package logsink implements the async line logger described in
// spec.md §9: a bounded producer/consumer queue drained by one
// background goroutine, with day- and line-count-based file rotation.
// It follows the same bounded-queue shape as internal/workerpool — a
// mutex-guarded slice with a sync.Cond — rather than an unbounded Go
// channel, so a log-write burst backpressures instead of growing without
// limit.
package logsink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Level mirrors the four severities the original log.h's LOG_BASE macros
// expose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) title() string {
	switch l {
	case LevelDebug:
		return "[debug]: "
	case LevelInfo:
		return "[info] : "
	case LevelWarn:
		return "[warn] : "
	case LevelError:
		return "[error]: "
	default:
		return "[info] : "
	}
}

// Options configures a Sink. Dir is created with mode 0777 if absent, per
// the original Init's mkdir-on-first-open behavior.
type Options struct {
	Dir         string
	Suffix      string // defaults to ".log"
	Level       Level
	MaxLines    int // rotate to a new chunk after this many lines per day; 0 = 50000
	QueueSize   int // 0 disables async mode, writes happen synchronously
	CompressOld bool
}

// Sink is a line logger. In async mode (QueueSize > 0) each Debugf,
// Infof, Warnf or Errorf call appends a formatted line to a bounded queue
// and returns, or writes the line directly when the queue is full; a
// single background goroutine drains the queue to the current day's file,
// rotating as needed and, when CompressOld is set, gzip-compressing the
// previous chunk.
type Sink struct {
	mu    sync.Mutex
	level Level

	dir      string
	suffix   string
	maxLines int
	compress bool

	day       int
	lineCount int
	chunk     int
	fp        *os.File

	async     bool
	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []string
	closed    bool
	capacity  int
	wg        sync.WaitGroup
}

// New opens (or creates) the log directory and the current day's file,
// and if Options.QueueSize > 0 starts the background drain goroutine.
func New(opt Options) (*Sink, error) {
	if opt.Suffix == "" {
		opt.Suffix = ".log"
	}
	if opt.MaxLines <= 0 {
		opt.MaxLines = 50000
	}
	if err := os.MkdirAll(opt.Dir, 0777); err != nil {
		return nil, errors.Wrap(err, "logsink: mkdir")
	}

	s := &Sink{
		level:    opt.Level,
		dir:      opt.Dir,
		suffix:   opt.Suffix,
		maxLines: opt.MaxLines,
		compress: opt.CompressOld,
		capacity: opt.QueueSize,
	}
	s.queueCond = sync.NewCond(&s.queueMu)

	now := time.Now()
	if err := s.openForDay(now, 0); err != nil {
		return nil, err
	}

	if opt.QueueSize > 0 {
		s.async = true
		s.wg.Add(1)
		go s.drain()
	}
	return s, nil
}

// SetLevel adjusts the minimum severity written, for hot-reload via
// internal/config's fsnotify watch.
func (s *Sink) SetLevel(l Level) {
	s.mu.Lock()
	s.level = l
	s.mu.Unlock()
}

func (s *Sink) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// QueueDepth reports the number of formatted lines waiting to be
// flushed, for the metrics surface. Always 0 in synchronous mode.
func (s *Sink) QueueDepth() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// Debugf, Infof, Warnf, Errorf format and enqueue a line at the named
// severity, dropping it if below the sink's current level.
func (s *Sink) Debugf(format string, args ...interface{}) { s.logf(LevelDebug, format, args...) }
func (s *Sink) Infof(format string, args ...interface{})  { s.logf(LevelInfo, format, args...) }
func (s *Sink) Warnf(format string, args ...interface{})  { s.logf(LevelWarn, format, args...) }
func (s *Sink) Errorf(format string, args ...interface{}) { s.logf(LevelError, format, args...) }

func (s *Sink) logf(level Level, format string, args ...interface{}) {
	if level < s.Level() {
		return
	}
	line := formatLine(level, format, args...)

	if !s.async {
		s.writeLine(line)
		return
	}

	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		// Full queue: write directly rather than blocking the caller or
		// dropping the line, matching log.cpp's m_log_queue->push failure
		// path ("else { fputs(buff.Peek(), fp); }").
		s.queueMu.Unlock()
		s.writeLine(line)
		return
	}
	s.queue = append(s.queue, line)
	s.queueMu.Unlock()
	s.queueCond.Signal()
}

func formatLine(level Level, format string, args ...interface{}) string {
	now := time.Now()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s", now.Format("2006-01-02 15:04:05.000000"), level.title())
	fmt.Fprintf(&buf, format, args...)
	buf.WriteByte('\n')
	return buf.String()
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		s.queueMu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.queueCond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.queueMu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.queueMu.Unlock()

		for _, line := range batch {
			s.writeLine(line)
		}
	}
}

// writeLine appends one already-formatted line to the current file,
// rotating first if the day has changed or the line-count threshold was
// crossed — the same two triggers Log::Write checks.
func (s *Sink) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Day() != s.day {
		s.rotate(now, true)
	} else if s.lineCount > 0 && s.lineCount%s.maxLines == 0 {
		s.rotate(now, false)
	}

	s.lineCount++
	if s.fp != nil {
		io.WriteString(s.fp, line)
	}
}

// rotate closes (and optionally compresses) the current file and opens
// the next one. newDay resets the line counter and chunk index; a
// same-day rotation bumps the chunk index instead.
func (s *Sink) rotate(now time.Time, newDay bool) {
	prev := s.currentPath()
	if s.fp != nil {
		s.fp.Close()
	}
	if s.compress && prev != "" {
		go compressAndRemove(prev)
	}

	chunk := s.chunk
	if newDay {
		s.day = now.Day()
		s.lineCount = 0
		s.chunk = 0
		chunk = 0
	} else {
		s.chunk++
		chunk = s.chunk
	}
	s.openForDay(now, chunk)
}

func (s *Sink) openForDay(now time.Time, chunk int) error {
	s.day = now.Day()
	s.chunk = chunk
	path := dateChunkPath(s.dir, now, chunk, s.suffix)
	fp, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "logsink: open")
	}
	s.fp = fp
	return nil
}

func (s *Sink) currentPath() string {
	if s.fp == nil {
		return ""
	}
	return s.fp.Name()
}

// dateChunkPath names a rotated file <dir>/<YYYY_MM_DD>[-<chunk>]<suffix>,
// matching Init's and Write's snprintf patterns; chunk 0 omits the suffix.
func dateChunkPath(dir string, t time.Time, chunk int, suffix string) string {
	base := t.Format("2006_01_02")
	if chunk == 0 {
		return filepath.Join(dir, base+suffix)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, chunk, suffix))
}

func compressAndRemove(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(path + ".gz")
		return
	}
	gz.Close()
	out.Close()
	os.Remove(path)
}

// Flush blocks until the async queue has drained. Close calls it
// implicitly.
func (s *Sink) Flush() {
	if !s.async {
		return
	}
	for {
		s.queueMu.Lock()
		empty := len(s.queue) == 0
		s.queueMu.Unlock()
		if empty {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Close drains any queued lines and closes the current file.
func (s *Sink) Close() error {
	if s.async {
		s.Flush()
		s.queueMu.Lock()
		s.closed = true
		s.queueMu.Unlock()
		s.queueCond.Broadcast()
		s.wg.Wait()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp != nil {
		return s.fp.Close()
	}
	return nil
}
