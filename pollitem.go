package zreactor

import (
	"errors"
	"fmt"
)

// recvChunk is how much a Pollitem reads from a raw descriptor at once.
const recvChunk = 4096

// Pollitem pairs a [Pollable] with the directions it is polled for and the
// [Handler] a [Loop] dispatches to. Handler-less pollitems are only useful with a [Poller].
type Pollitem struct {
	pollable Pollable
	events   Events
	handler  Handler

	// owner is the poller the item is registered with, if any
	owner *Poller
}

// NewPollitem constructs a pollitem for p. A zero events value polls every
// direction p supports. Sockets must be bound or connected first.
func NewPollitem(p Pollable, events Events) (*Pollitem, error) {
	if p == nil {
		return nil, errors.New("zreactor: nil pollable")
	}
	if err := checkLive(p); err != nil {
		return nil, err
	}

	caps := p.Capabilities()
	if events == EventNone {
		events = caps
	}
	if events&^EventBoth != 0 {
		return nil, fmt.Errorf("%w: only readable and writable events are supported, got %s", ErrUnsupportedEvents, events)
	}
	if events&^caps != 0 {
		return nil, fmt.Errorf("%w: %s supports %s, requested %s", ErrUnsupportedEvents, p, caps, events)
	}
	if s, ok := p.(Socket); ok && !s.base().attached() {
		return nil, fmt.Errorf("%w: %s", ErrNotAttached, p)
	}

	return &Pollitem{pollable: p, events: events}, nil
}

// Pollable returns the polled resource.
func (i *Pollitem) Pollable() Pollable {
	return i.pollable
}

// Events returns the directions the item is polled for.
func (i *Pollitem) Events() Events {
	return i.events
}

// Handler returns the handler bound to the item, or nil.
func (i *Pollitem) Handler() Handler {
	return i.handler
}

// SetHandler binds h to the item after checking it implements the callbacks
// the item's events need. On failure the previous handler is kept.
// A nil h clears the handler; items registered with a Loop cannot be cleared.
func (i *Pollitem) SetHandler(h Handler) error {
	if h == nil {
		if i.owner != nil && i.owner.requireHandlers {
			return fmt.Errorf("%w: cannot clear the handler of an item registered with a loop", ErrHandlerContract)
		}
		i.handler = nil
		return nil
	}
	if err := checkHandler(h, i.pollable, i.events); err != nil {
		return err
	}
	i.handler = h
	return nil
}

// Send writes msg to the pollable, whatever its kind. It never blocks.
func (i *Pollitem) Send(msg []byte) error {
	switch p := i.pollable.(type) {
	case *FD:
		_, err := p.Write(msg)
		return err
	case *PairSocket:
		return p.Send(msg)
	case *PushSocket:
		return p.Send(msg)
	case *PubSocket:
		return p.Send(msg)
	default:
		return fmt.Errorf("%w: %s cannot send", ErrUnsupportedEvents, i.pollable)
	}
}

// Recv reads the next message from a socket, or up to 4096 bytes from a descriptor.
// It returns [ErrWouldBlock] when nothing is available.
func (i *Pollitem) Recv() ([]byte, error) {
	switch p := i.pollable.(type) {
	case *FD:
		buf := make([]byte, recvChunk)
		n, err := p.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	case *PairSocket:
		return p.Recv()
	case *PullSocket:
		return p.Recv()
	case *SubSocket:
		return p.Recv()
	default:
		return nil, fmt.Errorf("%w: %s cannot receive", ErrUnsupportedEvents, i.pollable)
	}
}

func (i *Pollitem) String() string {
	return fmt.Sprintf("pollitem %s (%s)", describe(i.pollable), i.events)
}
