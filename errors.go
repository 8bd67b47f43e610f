package zreactor

import (
	"errors"
	"fmt"
)

var (
	// ErrStop is returned from a handler or timer callback to stop the running [Loop].
	// Run then returns [StatusStopped] and a nil error.
	ErrStop = errors.New("zreactor: stop requested by callback")

	// ErrLoopRunning is returned by [Loop.Run] and [Loop.Close] while the loop is running.
	ErrLoopRunning = errors.New("zreactor: loop is already running")
	// ErrLoopNotStarted is returned by [Loop.Stop] before the loop ever ran.
	ErrLoopNotStarted = errors.New("zreactor: loop has never been started")
	// ErrLoopClosed is returned when using a closed [Loop].
	ErrLoopClosed = errors.New("zreactor: loop has been closed")

	// ErrDuplicateRegistration rejects a pollable registered twice for the same direction.
	ErrDuplicateRegistration = errors.New("zreactor: pollable already registered for this direction")
	// ErrHandlerContract is wrapped by [*HandlerContractError].
	ErrHandlerContract = errors.New("zreactor: handler does not implement required callback")
	// ErrUnsupportedEvents rejects interest or I/O beyond a pollable's capabilities.
	ErrUnsupportedEvents = errors.New("zreactor: pollable does not support requested events")
	// ErrNotAttached rejects polling a socket that is neither bound nor connected.
	ErrNotAttached = errors.New("zreactor: socket is neither bound nor connected")
	// ErrStaleHandle is wrapped by every error about a closed pollable.
	ErrStaleHandle = errors.New("zreactor: stale handle")

	// ErrTimerCancelled rejects scheduling a cancelled [Timer].
	ErrTimerCancelled = errors.New("zreactor: timer already cancelled")
	// ErrInvalidTimer rejects bad [NewTimer] arguments and timers that are already scheduled.
	ErrInvalidTimer = errors.New("zreactor: invalid timer")

	// ErrWouldBlock is returned by non-blocking I/O that cannot proceed yet.
	ErrWouldBlock = errors.New("zreactor: operation would block")
	// ErrAddressInUse rejects binding a taken address or a second PAIR connection.
	ErrAddressInUse = errors.New("zreactor: address already in use")
	// ErrConnectionRefused rejects connecting to an address nothing is bound to.
	ErrConnectionRefused = errors.New("zreactor: no socket bound to address")
	// ErrUnsupportedTransport rejects addresses outside the inproc:// scheme.
	ErrUnsupportedTransport = errors.New("zreactor: unsupported transport")
	// ErrIncompatibleSockets rejects connecting socket kinds that do not pair up.
	ErrIncompatibleSockets = errors.New("zreactor: incompatible socket kinds")
	// ErrNotSupported is returned where descriptors cannot be polled.
	ErrNotSupported = errors.New("zreactor: operation not supported on this platform")

	// ErrSocketClosed is returned by operations on a closed socket.
	ErrSocketClosed = fmt.Errorf("zreactor: socket is closed: %w", ErrStaleHandle)
)

// StaleHandleError reports an operation on a pollable whose underlying resource has been closed.
type StaleHandleError struct {
	Pollable Pollable
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("zreactor: stale handle: %s", describe(e.Pollable))
}

// Unwrap implements errors.Unwrap.
func (e *StaleHandleError) Unwrap() error {
	return ErrStaleHandle
}

// HandlerContractError is returned when a handler is bound to a pollitem
// whose interest requires a callback the handler does not implement.
type HandlerContractError struct {
	Handler  Handler
	Callback string
	Pollable Pollable
}

func (e *HandlerContractError) Error() string {
	return fmt.Sprintf("zreactor: handler %T for %s expected to implement %s",
		e.Handler, describe(e.Pollable), e.Callback)
}

// Unwrap implements errors.Unwrap.
func (e *HandlerContractError) Unwrap() error {
	return ErrHandlerContract
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("zreactor: callback panicked: %v", e.Value)
}

// Unwrap returns the recovered value if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// PollError is passed to [Handler.OnError] when the poll reports an error condition on a descriptor.
type PollError struct {
	Pollable Pollable
	Revents  int16
}

func (e *PollError) Error() string {
	return fmt.Sprintf("zreactor: poll error on %s (revents %#x)", describe(e.Pollable), e.Revents)
}
