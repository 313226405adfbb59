// Package reactor implements the single reactor loop described in
// spec.md §4.E: readiness multiplexing over an epoll instance, a
// non-blocking accept loop, one-shot per-fd event dispatch into a bounded
// worker pool, and timer-driven idle-connection expiry.
package reactor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/yourusername/reactorhttpd/internal/httpconn"
	"github.com/yourusername/reactorhttpd/internal/logsink"
	"github.com/yourusername/reactorhttpd/internal/timerheap"
	"github.com/yourusername/reactorhttpd/internal/workerpool"
)

const maxEpollEvents = 256

// Config carries the subset of spec.md §6's configuration record the
// reactor itself consumes.
type Config struct {
	Port           int
	SrcDir         string
	TimeoutMS      int
	ThreadNum      int
	AcceptsPerSec  float64 // 0 disables rate limiting
	AcceptBurst    int
}

// Reactor owns the listen socket, the connection table, the timer heap,
// and the worker pool. The accept loop and epoll wait run on the
// reactor's own goroutine, but per-connection state machine steps run on
// worker pool goroutines and touch the timer heap (to cancel/reschedule
// idle timeouts) and the connection table, so both are mutex-guarded
// rather than assumed single-owner.
type Reactor struct {
	cfg Config
	log *logsink.Sink

	listenFd   int
	listenFile *os.File // keeps listenFd's duplicate reachable; see listen()
	pfd        *poller
	pool       *workerpool.Pool
	limiter    *rate.Limiter

	timersMu sync.Mutex
	timers   *timerheap.Heap

	connections map[int]*httpconn.Conn
	mu          sync.Mutex // guards connections

	quitR, quitW int // self-pipe
	closeOnce    sync.Once
}

// New constructs a Reactor bound to cfg.Port but does not start serving
// until Run is called.
func New(cfg Config, log *logsink.Sink) (*Reactor, error) {
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = 4
	}

	listenFd, boundPort, listenFile, err := listen(cfg.Port)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: listen")
	}
	pfd, err := newPoller()
	if err != nil {
		listenFile.Close()
		return nil, errors.Wrap(err, "reactor: poller")
	}
	if err := pfd.add(listenFd, true); err != nil {
		listenFile.Close()
		pfd.close()
		return nil, errors.Wrap(err, "reactor: arm listener")
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		listenFile.Close()
		pfd.close()
		return nil, errors.Wrap(err, "reactor: self-pipe")
	}

	cfg.Port = boundPort
	r := &Reactor{
		cfg:         cfg,
		log:         log,
		listenFd:    listenFd,
		listenFile:  listenFile,
		pfd:         pfd,
		timers:      timerheap.New(),
		connections: make(map[int]*httpconn.Conn),
		quitR:       fds[0],
		quitW:       fds[1],
	}
	r.pool = workerpool.New(cfg.ThreadNum, func(err error) {
		if r.log != nil {
			r.log.Errorf("workerpool: %v", err)
		}
	})
	if cfg.AcceptsPerSec > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptsPerSec), burst)
	}
	if err := pfd.add(r.quitR, true); err != nil {
		r.Close()
		return nil, errors.Wrap(err, "reactor: arm self-pipe")
	}
	return r, nil
}

// ActiveConnections reports the current connection table size, for the
// metrics surface.
func (r *Reactor) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// QueueDepth exposes the worker pool's pending task count.
func (r *Reactor) QueueDepth() int { return r.pool.QueueDepth() }

// Addr reports the TCP port the reactor actually bound, which may differ
// from Config.Port when that was 0.
func (r *Reactor) Addr() string { return fmt.Sprintf("127.0.0.1:%d", r.cfg.Port) }

// TimerCount exposes the number of live idle-timeout timers.
func (r *Reactor) TimerCount() int {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	return r.timers.Len()
}

// Stop signals the reactor loop to exit at its next iteration via the
// self-pipe, the mechanism spec.md §4.E prescribes for shutdown.
func (r *Reactor) Stop() {
	r.closeOnce.Do(func() {
		var one [1]byte
		unix.Write(r.quitW, one[:])
	})
}

// Run drives the reactor loop until Stop is called. It returns after all
// in-flight worker tasks have drained, the timer heap is cleared, and
// every remaining connection is closed — the shutdown order spec.md
// §4.E mandates.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, maxEpollEvents)
	backoffState := backoff.NewExponentialBackOff()
	backoffState.MaxElapsedTime = 0

	for {
		delayMS := r.nextTimerDelayMS()

		ready, err := r.pfd.wait(events, clampTimeout(delayMS))
		if err != nil {
			return errors.Wrap(err, "reactor: poll wait")
		}

		quit := false
		for _, ev := range ready {
			switch {
			case ev.fd == r.quitR:
				quit = true
			case ev.fd == r.listenFd:
				r.acceptLoop(backoffState)
			default:
				r.dispatch(ev)
			}
		}
		if quit {
			break
		}
	}

	r.shutdown()
	return nil
}

// nextTimerDelayMS pops and fires every already-expired timer, then
// reports milliseconds until the next one (-1 if none remain). Callbacks
// run outside the lock so an expiring callback's own Cancel/Add calls
// don't deadlock against it.
func (r *Reactor) nextTimerDelayMS() int64 {
	r.timersMu.Lock()
	expired := r.timers.PopExpired()
	delayMS, ok := r.timers.NextDelayMS()
	r.timersMu.Unlock()

	for _, cb := range expired {
		cb()
	}
	if !ok {
		return -1
	}
	return delayMS
}

func (r *Reactor) addTimer(fd int, timeout time.Duration, cb func()) {
	r.timersMu.Lock()
	r.timers.Add(fd, timeout, cb)
	r.timersMu.Unlock()
}

func (r *Reactor) cancelTimer(fd int) {
	r.timersMu.Lock()
	r.timers.Cancel(fd)
	r.timersMu.Unlock()
}

func clampTimeout(ms int64) int {
	if ms < 0 {
		return -1
	}
	if ms > int64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(ms)
}

// acceptLoop repeatedly accepts until the listener would block, per
// spec.md §4.E's "listener readable" pseudo-event.
func (r *Reactor) acceptLoop(bo *backoff.ExponentialBackOff) {
	// The listener is armed one-shot like every other fd; re-arm it so the
	// next incoming connection is reported too.
	defer r.pfd.rearm(r.listenFd, true)
	for {
		if r.limiter != nil && !r.limiter.Allow() {
			return
		}
		fd, peer, err := accept(r.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				bo.Reset()
				return
			}
			if r.log != nil {
				r.log.Errorf("reactor: accept: %v", err)
			}
			time.Sleep(bo.NextBackOff())
			return
		}
		bo.Reset()

		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		conn := httpconn.New(fd, peer, r.cfg.SrcDir, r.cfg.TimeoutMS)
		r.mu.Lock()
		r.connections[fd] = conn
		r.mu.Unlock()

		if err := r.pfd.add(fd, true); err != nil {
			r.closeConn(fd)
			continue
		}
		r.addTimer(fd, time.Duration(r.cfg.TimeoutMS)*time.Millisecond, func() { r.expire(fd) })
	}
}

// dispatch handles a client readable/writable/hangup pseudo-event: cancel
// the current timer, enqueue a task driving the connection's state
// machine, then re-arm and re-add the timer — the per-fd serialization
// spec.md §4.E guarantees via one-shot arming.
func (r *Reactor) dispatch(ev event) {
	r.mu.Lock()
	conn, ok := r.connections[ev.fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.cancelTimer(ev.fd)

	if ev.hangup {
		r.closeConn(ev.fd)
		return
	}

	r.pool.AddTask(func() { r.driveConn(conn, ev) })
}

// driveConn runs the connection state machine for one readiness
// notification and re-arms the reactor for whatever it asks for next.
func (r *Reactor) driveConn(conn *httpconn.Conn, ev event) {
	state := httpconn.StateRead
	if ev.write {
		state = httpconn.StateWrite
	}

	for {
		switch state {
		case httpconn.StateRead:
			next, rearm := conn.Read()
			if rearm {
				r.rearmAndRetime(conn, true)
				return
			}
			state = next

		case httpconn.StateProcess:
			next, needMore, _ := conn.Process()
			if needMore {
				r.rearmAndRetime(conn, true)
				return
			}
			state = next

		case httpconn.StateWrite:
			next, rearm := conn.Write()
			if rearm {
				r.rearmAndRetime(conn, false)
				return
			}
			state = next

		case httpconn.StateClose:
			r.closeConn(conn.Fd)
			return
		}
	}
}

func (r *Reactor) rearmAndRetime(conn *httpconn.Conn, wantRead bool) {
	if err := r.pfd.rearm(conn.Fd, wantRead); err != nil {
		r.closeConn(conn.Fd)
		return
	}
	r.addTimer(conn.Fd, time.Duration(conn.IdleTimeout)*time.Millisecond, func() { r.expire(conn.Fd) })
}

// expire is the timer callback: it forcibly closes a connection that has
// been idle past its deadline. Per spec.md's callback-bearing-timers
// note, it captures fd and resolves the connection through the reactor's
// own table rather than owning the Conn, avoiding a reference cycle.
func (r *Reactor) expire(fd int) {
	r.closeConn(fd)
}

func (r *Reactor) closeConn(fd int) {
	r.mu.Lock()
	conn, ok := r.connections[fd]
	if ok {
		delete(r.connections, fd)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.cancelTimer(fd)
	r.pfd.remove(fd)
	conn.Close()
}

func (r *Reactor) shutdown() {
	r.pool.Close()
	r.timersMu.Lock()
	r.timers.Clear()
	r.timersMu.Unlock()

	r.mu.Lock()
	remaining := make([]*httpconn.Conn, 0, len(r.connections))
	for _, c := range r.connections {
		remaining = append(remaining, c)
	}
	r.connections = make(map[int]*httpconn.Conn)
	r.mu.Unlock()

	for _, c := range remaining {
		c.Close()
	}
}

// Close releases the listener, poller, and self-pipe descriptors. Call
// after Run returns.
func (r *Reactor) Close() error {
	r.listenFile.Close()
	unix.Close(r.quitR)
	unix.Close(r.quitW)
	return r.pfd.close()
}
