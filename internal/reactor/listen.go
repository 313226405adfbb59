package reactor

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listen opens a TCP listener on port and hands back a raw, non-blocking
// file descriptor suitable for epoll registration, plus the actual bound
// port (useful when port is 0) and the *os.File the descriptor was
// duplicated from. It goes through net.ListenTCP rather than raw
// socket()/bind()/listen() syscalls, the same route the teacher takes to
// obtain a descriptor it then manages by hand: (*net.TCPListener).File()
// duplicates the kernel socket, after which the duplicate is ours to
// drive directly. The caller must keep the returned *os.File reachable
// for as long as fd is in use — os.File.Fd() documents that letting the
// File be garbage collected can run its finalizer and close the
// descriptor out from under the caller, the same hazard
// internal/httpconn/connection_test.go's serverFd helper guards against.
func listen(port int) (fd int, boundPort int, f *os.File, err error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return 0, 0, nil, err
	}
	boundPort = ln.Addr().(*net.TCPAddr).Port
	f, err = ln.File()
	if err != nil {
		ln.Close()
		return 0, 0, nil, err
	}
	// The duplicate keeps the socket alive independently of ln; the
	// original wrapper is no longer needed once we hold the fd.
	ln.Close()

	fd = int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		return 0, 0, nil, err
	}
	return fd, boundPort, f, nil
}

// accept performs a single non-blocking accept4(2) on listenFd, returning
// the new connection's fd already marked non-blocking and a string
// identifying the peer for logging.
func accept(listenFd int) (fd int, peer string, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, "", err
	}
	return nfd, peerString(sa), nil
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]).String(), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.Port)
	default:
		return "unknown:" + strconv.Itoa(listenFdPlaceholder)
	}
}

// listenFdPlaceholder only backstops peerString's default branch, which
// in practice never fires for AF_INET/AF_INET6 listeners.
const listenFdPlaceholder = 0
