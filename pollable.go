package zreactor

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Events is a set of readiness directions.
type Events uint8

const (
	EventReadable Events = 1 << iota // ready for reading / registered for readability
	EventWritable                    // ready for writing / registered for writability

	EventNone Events = 0
	EventBoth        = EventReadable | EventWritable
)

// Readable reports whether e includes [EventReadable].
func (e Events) Readable() bool {
	return e&EventReadable != 0
}

// Writable reports whether e includes [EventWritable].
func (e Events) Writable() bool {
	return e&EventWritable != 0
}

func (e Events) String() string {
	var parts []string
	if e.Readable() {
		parts = append(parts, "readable")
	}
	if e.Writable() {
		parts = append(parts, "writable")
	}
	if rest := e &^ EventBoth; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Pollable is a resource that reports directional readiness.
//
// The set of implementations is closed: the in-process socket kinds
// ([PairSocket], [PushSocket], [PullSocket], [PubSocket], [SubSocket])
// and raw descriptors ([FD]).
type Pollable interface {
	fmt.Stringer

	// Capabilities returns the directions this pollable supports.
	// It is fixed at creation.
	Capabilities() Events

	// ReadyState returns the directions the pollable is currently ready for.
	// It fails with an error wrapping [ErrStaleHandle] once the resource was closed.
	ReadyState() (Events, error)

	// id identifies the underlying resource.
	id() uint64
}

var lastID atomic.Uint64

func nextID() uint64 {
	return lastID.Add(1)
}

// pollTarget resolves what the OS-level poll needs for a pollable:
// a raw descriptor to watch directly, or a socket whose signaler is watched
// and whose state is re-checked after wakeups.
func pollTarget(p Pollable) (fd int, sock *socket) {
	switch v := p.(type) {
	case *FD:
		return v.fd, nil
	case Socket:
		return -1, v.base()
	default:
		panic(fmt.Sprintf("zreactor: unknown pollable type %T", p))
	}
}

// checkLive reports a [*StaleHandleError] if the pollable's resource was closed.
func checkLive(p Pollable) error {
	switch v := p.(type) {
	case *FD:
		if v.closed.Load() {
			return &StaleHandleError{Pollable: p}
		}
	case Socket:
		if v.base().isClosed() {
			return &StaleHandleError{Pollable: p}
		}
	}
	return nil
}

func describe(p Pollable) string {
	if p == nil {
		return "<nil>"
	}
	return p.String()
}
