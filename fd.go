package zreactor

import (
	"fmt"
	"os"
	"sync/atomic"
)

// FD is a raw I/O descriptor usable as a [Pollable].
// Reads and writes never block; they fail with [ErrWouldBlock] instead.
type FD struct {
	ident  uint64
	fd     int
	caps   Events
	owned  bool
	closed atomic.Bool
}

// NewFD wraps a descriptor owned by the caller. caps fixes the directions
// it may be polled for. Closing the returned FD detaches it without closing fd.
func NewFD(fd int, caps Events) (*FD, error) {
	if fd < 0 {
		return nil, fmt.Errorf("zreactor: invalid descriptor %d", fd)
	}
	if caps == EventNone || caps&^EventBoth != 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvents, caps)
	}
	if err := sysSetNonblock(fd); err != nil {
		return nil, err
	}
	return &FD{ident: nextID(), fd: fd, caps: caps}, nil
}

// FileFD wraps the descriptor of f. The file stays owned by the caller.
func FileFD(f *os.File, caps Events) (*FD, error) {
	return NewFD(int(f.Fd()), caps)
}

// Pipe returns the read and write ends of a new non-blocking pipe.
// Both ends are owned by the returned values.
func Pipe() (r, w *FD, err error) {
	rfd, wfd, err := sysPipe()
	if err != nil {
		return nil, nil, err
	}
	r = &FD{ident: nextID(), fd: rfd, caps: EventReadable, owned: true}
	w = &FD{ident: nextID(), fd: wfd, caps: EventWritable, owned: true}
	return r, w, nil
}

// Fd returns the wrapped descriptor number.
func (f *FD) Fd() int {
	return f.fd
}

// Capabilities implements [Pollable].
func (f *FD) Capabilities() Events {
	return f.caps
}

// ReadyState implements [Pollable] by polling the descriptor without waiting.
func (f *FD) ReadyState() (Events, error) {
	if f.closed.Load() {
		return EventNone, &StaleHandleError{Pollable: f}
	}

	fds := []pollFd{{Fd: int32(f.fd), Events: interestMask(f.caps)}}
	if _, err := sysPoll(fds, 0); err != nil {
		return EventNone, err
	}
	if fds[0].Revents&pollNval != 0 {
		return EventNone, &StaleHandleError{Pollable: f}
	}
	return readyFromRevents(fds[0].Revents, f.caps), nil
}

// Read reads available data from the descriptor.
func (f *FD) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &StaleHandleError{Pollable: f}
	}
	if !f.caps.Readable() {
		return 0, fmt.Errorf("%w: %s is not readable", ErrUnsupportedEvents, f)
	}
	return sysRead(f.fd, p)
}

// Write writes p to the descriptor.
func (f *FD) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &StaleHandleError{Pollable: f}
	}
	if !f.caps.Writable() {
		return 0, fmt.Errorf("%w: %s is not writable", ErrUnsupportedEvents, f)
	}
	return sysWrite(f.fd, p)
}

// Close marks the FD stale and closes the descriptor if the FD owns it.
func (f *FD) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	if f.owned {
		return sysClose(f.fd)
	}
	return nil
}

func (f *FD) String() string {
	return fmt.Sprintf("fd %d (%s)", f.fd, f.caps)
}

func (f *FD) id() uint64 {
	return f.ident
}

func interestMask(events Events) int16 {
	var mask int16
	if events.Readable() {
		mask |= pollIn
	}
	if events.Writable() {
		mask |= pollOut
	}
	return mask
}

// readyFromRevents maps poll revents to readiness within interest.
// A hangup counts as readable so readers observe EOF.
func readyFromRevents(revents int16, interest Events) Events {
	var ready Events
	if revents&(pollIn|pollHup) != 0 {
		ready |= EventReadable
	}
	if revents&pollOut != 0 {
		ready |= EventWritable
	}
	return ready & interest
}
