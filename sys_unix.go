//go:build unix

package zreactor

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

type pollFd = unix.PollFd

const (
	pollIn   = unix.POLLIN | unix.POLLPRI
	pollOut  = unix.POLLOUT
	pollErr  = unix.POLLERR
	pollHup  = unix.POLLHUP
	pollNval = unix.POLLNVAL
)

// sysPoll waits on fds for at most timeout; a negative timeout blocks indefinitely.
// Interrupted waits are reported as zero ready descriptors.
func sysPoll(fds []pollFd, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		// round up so sub-millisecond waits do not turn into busy polling
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func sysPipe() (r, w int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return -1, -1, err
		}
	}
	return p[0], p[1], nil
}

func sysRead(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func sysWrite(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func sysSetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
