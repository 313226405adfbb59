//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// event mirrors one readiness notification from the multiplexer.
type event struct {
	fd     int
	read   bool
	write  bool
	hangup bool
}

// poller wraps epoll(7) in edge-triggered, one-shot mode: every interest
// registered via arm fires at most once until explicitly re-armed, which
// is exactly the serialization primitive spec.md's glossary calls
// "one-shot arm".
type poller struct {
	epfd int
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: fd}, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

const (
	interestRead  = unix.EPOLLIN | unix.EPOLLRDHUP
	interestWrite = unix.EPOLLOUT
	edgeOneShot   = unix.EPOLLET | unix.EPOLLONESHOT
)

func (p *poller) add(fd int, wantRead bool) error {
	ev := &unix.EpollEvent{Fd: int32(fd)}
	if wantRead {
		ev.Events = uint32(interestRead) | uint32(edgeOneShot)
	} else {
		ev.Events = uint32(interestWrite) | uint32(edgeOneShot)
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// rearm re-registers fd for exactly one more readiness notification, read
// or write, implementing spec.md §4.E's one-shot-arm discipline.
func (p *poller) rearm(fd int, wantRead bool) error {
	ev := &unix.EpollEvent{Fd: int32(fd)}
	if wantRead {
		ev.Events = uint32(interestRead) | uint32(edgeOneShot)
	} else {
		ev.Events = uint32(interestWrite) | uint32(edgeOneShot)
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMS (negative means forever) and appends
// ready events into buf, returning the events actually seen.
func (p *poller) wait(buf []unix.EpollEvent, timeoutMS int) ([]event, error) {
	n, err := unix.EpollWait(p.epfd, buf, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		e := buf[i]
		out = append(out, event{
			fd:     int(e.Fd),
			read:   e.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			write:  e.Events&unix.EPOLLOUT != 0,
			hangup: e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}
