package zreactor

import (
	"errors"
	"sync/atomic"
)

var signalByte = []byte{1}

// signaler is a pipe whose read end becomes readable when signal is called.
// Sockets use it to surface state changes to poll(2); the loop uses one to wake
// itself up from other goroutines.
type signaler struct {
	rfd, wfd int
	pending  atomic.Bool
	closed   atomic.Bool
}

func newSignaler() (*signaler, error) {
	r, w, err := sysPipe()
	if err != nil {
		return nil, err
	}
	return &signaler{rfd: r, wfd: w}, nil
}

// signal makes the read end readable. Repeated signals before a drain
// coalesce into one pending byte.
func (s *signaler) signal() error {
	if s.closed.Load() || s.pending.Swap(true) {
		return nil
	}
	if _, err := sysWrite(s.wfd, signalByte); err != nil && !errors.Is(err, ErrWouldBlock) {
		return err
	}
	return nil
}

// drain consumes pending signals. Callers must re-check the state they
// are interested in after draining, never before.
func (s *signaler) drain() {
	var buf [64]byte
	for {
		n, err := sysRead(s.rfd, buf[:])
		if err != nil || n < len(buf) {
			break
		}
	}
	s.pending.Store(false)
}

func (s *signaler) close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return errors.Join(sysClose(s.rfd), sysClose(s.wfd))
}
