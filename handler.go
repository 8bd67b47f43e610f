package zreactor

import (
	"context"
	"errors"
	"log/slog"
)

// Handler is the callback object bound to a [Pollitem] registered with a [Loop].
//
// Every handler receives errors: those returned or raised by its own
// callbacks, and error conditions reported by the poll for its pollitem.
// Returning nil from OnError absorbs the error; returning it (or any other
// error) aborts [Loop.Run] with that error. Returning [ErrStop] stops the loop.
//
// A handler is validated against the directions of its pollitem when it is
// registered: readable interest requires a [ReadHandler], writable interest
// requires a [WriteHandler].
type Handler interface {
	OnError(item *Pollitem, err error) error
}

// ReadHandler handles readability.
type ReadHandler interface {
	Handler
	// OnReadable is called when the pollable can be read from without blocking.
	// Returning ErrStop stops the loop.
	OnReadable(item *Pollitem) error
}

// WriteHandler handles writability.
type WriteHandler interface {
	Handler
	// OnWritable is called when the pollable can be written to without blocking.
	// Returning ErrStop stops the loop.
	OnWritable(item *Pollitem) error
}

// FullHandler handles both directions.
type FullHandler interface {
	ReadHandler
	WriteHandler
}

// capabilityReporter lets a handler narrow the directions it claims to
// implement below what its method set suggests.
type capabilityReporter interface {
	handlerCapabilities() Events
}

func handlerCapabilities(h Handler) Events {
	if h == nil {
		return EventNone
	}
	if r, ok := h.(capabilityReporter); ok {
		return r.handlerCapabilities()
	}
	var caps Events
	if _, ok := h.(ReadHandler); ok {
		caps |= EventReadable
	}
	if _, ok := h.(WriteHandler); ok {
		caps |= EventWritable
	}
	return caps
}

// checkHandler reports a [*HandlerContractError] if h lacks a callback the given interest needs.
func checkHandler(h Handler, p Pollable, events Events) error {
	caps := handlerCapabilities(h)
	switch {
	case h == nil:
		return &HandlerContractError{Handler: h, Callback: "OnError", Pollable: p}
	case events.Readable() && !caps.Readable():
		return &HandlerContractError{Handler: h, Callback: "OnReadable", Pollable: p}
	case events.Writable() && !caps.Writable():
		return &HandlerContractError{Handler: h, Callback: "OnWritable", Pollable: p}
	}
	return nil
}

// BaseHandler can be embedded to get the default OnError, which treats every error as fatal.
type BaseHandler struct{}

// OnError implements [Handler] by returning err unchanged.
func (BaseHandler) OnError(_ *Pollitem, err error) error {
	return err
}

// HandlerFuncs adapts plain functions to a [Handler]. Only the directions
// with a non-nil function count as implemented. A nil Error behaves like [BaseHandler].
type HandlerFuncs struct {
	Readable func(item *Pollitem) error
	Writable func(item *Pollitem) error
	Error    func(item *Pollitem, err error) error
}

// OnReadable implements [ReadHandler].
func (h HandlerFuncs) OnReadable(item *Pollitem) error {
	if h.Readable == nil {
		return errors.New("zreactor: HandlerFuncs has no Readable function")
	}
	return h.Readable(item)
}

// OnWritable implements [WriteHandler].
func (h HandlerFuncs) OnWritable(item *Pollitem) error {
	if h.Writable == nil {
		return errors.New("zreactor: HandlerFuncs has no Writable function")
	}
	return h.Writable(item)
}

// OnError implements [Handler].
func (h HandlerFuncs) OnError(item *Pollitem, err error) error {
	if h.Error == nil {
		return err
	}
	return h.Error(item, err)
}

func (h HandlerFuncs) handlerCapabilities() Events {
	var caps Events
	if h.Readable != nil {
		caps |= EventReadable
	}
	if h.Writable != nil {
		caps |= EventWritable
	}
	return caps
}

// DefaultHandler is used by [Loop.Bind] and [Loop.Connect] when no handler is given.
// It logs every message it reads and answers writability with an empty message,
// which is rarely what a real application wants.
type DefaultHandler struct {
	BaseHandler
	Logger *slog.Logger
}

// OnReadable implements [ReadHandler].
func (h *DefaultHandler) OnReadable(item *Pollitem) error {
	msg, err := item.Recv()
	if errors.Is(err, ErrWouldBlock) {
		return nil
	} else if err != nil {
		return err
	}
	h.logger().LogAttrs(context.Background(), slog.LevelInfo, "received message",
		slog.String("pollable", describe(item.Pollable())), slog.String("data", string(msg)))
	return nil
}

// OnWritable implements [WriteHandler].
func (h *DefaultHandler) OnWritable(item *Pollitem) error {
	if err := item.Send(nil); err != nil && !errors.Is(err, ErrWouldBlock) {
		return err
	}
	return nil
}

func (h *DefaultHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

var (
	_ FullHandler = HandlerFuncs{}
	_ FullHandler = (*DefaultHandler)(nil)
)
