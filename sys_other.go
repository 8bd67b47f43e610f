//go:build !unix

package zreactor

import "time"

// pollFd mirrors struct pollfd so the poller compiles on platforms without poll(2).
type pollFd struct {
	Fd      int32
	Events  int16
	Revents int16
}

const (
	pollIn   = 0x1
	pollOut  = 0x4
	pollErr  = 0x8
	pollHup  = 0x10
	pollNval = 0x20
)

func sysPoll(_ []pollFd, _ time.Duration) (int, error) {
	return 0, ErrNotSupported
}

func sysPipe() (r, w int, err error) {
	return -1, -1, ErrNotSupported
}

func sysRead(_ int, _ []byte) (int, error) {
	return 0, ErrNotSupported
}

func sysWrite(_ int, _ []byte) (int, error) {
	return 0, ErrNotSupported
}

func sysClose(_ int) error {
	return ErrNotSupported
}

func sysSetNonblock(_ int) error {
	return ErrNotSupported
}
