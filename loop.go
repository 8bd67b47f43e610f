package zreactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Status is the outcome of [Loop.Run].
type Status int

const (
	// StatusInterrupted means the context passed to Run was cancelled.
	StatusInterrupted Status = 0
	// StatusStopped means the loop was stopped with [Loop.Stop] or by a callback returning [ErrStop].
	StatusStopped Status = -1
	// StatusFailed means Run returned a fatal error.
	StatusFailed Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusInterrupted:
		return "interrupted"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Loop is a reactor: it polls registered pollitems and schedules timers,
// dispatching their callbacks on the goroutine calling [Loop.Run].
//
// Apart from [Loop.Stop], [Loop.Invoke], [Loop.Running] and [Loop.SetVerbose],
// a Loop must only be used from one goroutine at a time. Callbacks may
// freely register, remove and cancel while the loop is running.
//
// Only one call to [Loop.Run] may be active per Loop. This is checked per
// instance, not per goroutine: a callback may run a different Loop to
// completion, which blocks the outer one until it returns.
type Loop struct {
	cfg    loopConfig
	logger *slog.Logger

	poller  *Poller
	waker   *signaler
	timers  timerQueue
	batch   []*Timer
	seq     uint64
	invoked chan func(l *Loop) error

	verbose       atomic.Bool
	running       atomic.Bool
	started       atomic.Bool
	stopRequested atomic.Bool
	closed        atomic.Bool
}

// NewLoop constructs a new [Loop].
func NewLoop(options ...Option) (*Loop, error) {
	cfg, err := newLoopConfig(options)
	if err != nil {
		return nil, err
	}

	waker, err := newSignaler()
	if err != nil {
		return nil, fmt.Errorf("zreactor: creating loop waker: %w", err)
	}

	l := &Loop{
		cfg:     cfg,
		logger:  cfg.Logger,
		poller:  &Poller{waker: waker, requireHandlers: true},
		waker:   waker,
		invoked: make(chan func(l *Loop) error, cfg.InvokeQueueSize),
	}
	l.verbose.Store(cfg.Verbose)
	return l, nil
}

// Run runs the loop until it is stopped, ctx is cancelled or a callback fails.
// setup, if not nil, is called once on the loop's goroutine before the first poll.
//
// Run returns [StatusStopped] when stopped, [StatusInterrupted] when ctx was
// cancelled, and [StatusFailed] together with the error that ended the run
// otherwise. Registrations and timers survive the run and are used again by
// the next call to Run.
func (l *Loop) Run(ctx context.Context, setup func(l *Loop) error) (Status, error) {
	if l.closed.Load() {
		return StatusFailed, ErrLoopClosed
	}
	if !l.running.CompareAndSwap(false, true) {
		return StatusFailed, ErrLoopRunning
	}
	defer l.running.Store(false)
	l.started.Store(true)
	l.stopRequested.Store(false)

	stopWakeup := context.AfterFunc(ctx, func() {
		l.wakeup(context.Background())
	})
	defer stopWakeup()

	if setup != nil {
		if err := guard(func() error { return setup(l) }); err != nil {
			return l.finish(ctx, err)
		}
	}

	for {
		if l.stopRequested.Load() {
			return l.finish(ctx, ErrStop)
		}
		if ctx.Err() != nil {
			l.trace(ctx, "loop interrupted", slog.Any("cause", context.Cause(ctx)))
			return StatusInterrupted, nil
		}
		if err := l.runOnce(ctx); err != nil {
			return l.finish(ctx, err)
		}
	}
}

func (l *Loop) finish(ctx context.Context, err error) (Status, error) {
	if errors.Is(err, ErrStop) {
		l.trace(ctx, "loop stopped")
		return StatusStopped, nil
	}
	l.trace(ctx, "loop failed", slog.Any("error", err))
	return StatusFailed, err
}

// runOnce runs a single reactor cycle: queued invocations, one poll,
// due timers and then ready pollitems.
func (l *Loop) runOnce(ctx context.Context) error {
	if err := l.runInvoked(); err != nil {
		return err
	}
	if l.stopRequested.Load() || ctx.Err() != nil {
		return nil
	}

	if err := l.poller.poll(l.waitTimeout(ctx, time.Now())); err != nil {
		return err
	}
	if err := l.dispatchTimers(ctx, time.Now()); err != nil {
		return err
	}
	return l.dispatchIO(ctx)
}

// waitTimeout returns how long the next poll may sleep; negative blocks.
func (l *Loop) waitTimeout(ctx context.Context, now time.Time) time.Duration {
	if len(l.invoked) > 0 {
		return 0
	}

	timeout := time.Duration(-1)
	if !l.timers.Empty() {
		timeout = l.timers.TimeUntilNext(now)
	}
	if maxWait := l.cfg.MaxWait; maxWait > 0 && (timeout < 0 || maxWait < timeout) {
		timeout = maxWait
	}
	if deadline, ok := ctx.Deadline(); ok {
		untilDeadline := max(0, deadline.Sub(now))
		if timeout < 0 || untilDeadline < timeout {
			timeout = untilDeadline
		}
	}
	return timeout
}

func (l *Loop) runInvoked() error {
	for {
		select {
		case fn := <-l.invoked:
			if err := guard(func() error { return fn(l) }); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// dispatchTimers fires every timer due at now. Timers are taken off the
// queue before the first one fires, so cancelling one from an earlier
// callback in the same batch keeps it from firing.
func (l *Loop) dispatchTimers(ctx context.Context, now time.Time) error {
	l.batch = l.timers.PopDue(now, l.batch[:0])
	defer clear(l.batch)

	for i, timer := range l.batch {
		if timer.cancelled {
			timer.inBatch = false
			continue
		}

		l.trace(ctx, "firing timer", slog.Duration("delay", timer.delay), slog.Int("remaining", timer.Remaining()))
		err := guard(timer.callback)
		timer.inBatch = false
		if timer.fired(now) {
			l.timers.Add(timer)
		}

		if err != nil && !errors.Is(err, ErrStop) {
			err = guard(func() error { return timer.OnError(err) })
		}
		if err != nil {
			l.requeue(l.batch[i+1:])
			return err
		}
	}
	return nil
}

// requeue puts timers popped for a batch that was cut short back in the queue.
func (l *Loop) requeue(timers []*Timer) {
	for _, timer := range timers {
		timer.inBatch = false
		if !timer.cancelled {
			l.timers.Add(timer)
		}
	}
}

// dispatchIO calls the handlers of the items found ready by the last poll,
// in registration order. Items removed by an earlier callback are skipped.
func (l *Loop) dispatchIO(ctx context.Context) error {
	for _, r := range l.poller.results {
		item := r.item
		if item.owner != l.poller {
			continue
		}

		var stale *StaleHandleError
		if errors.As(r.err, &stale) {
			if err := l.handleError(ctx, item, r.err); err != nil {
				return err
			}
			l.poller.RemoveItem(item)
			l.trace(ctx, "removed stale pollitem", slog.String("pollable", describe(item.pollable)))
			continue
		}

		if r.ready.Readable() {
			if err := l.dispatch(ctx, item, EventReadable); err != nil {
				return err
			}
		}
		if r.ready.Writable() && item.owner == l.poller {
			if err := l.dispatch(ctx, item, EventWritable); err != nil {
				return err
			}
		}
		if r.err != nil && item.owner == l.poller {
			if err := l.handleError(ctx, item, r.err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, item *Pollitem, direction Events) error {
	l.trace(ctx, "dispatching", slog.String("pollable", describe(item.pollable)), slog.String("events", direction.String()))

	var err error
	switch direction {
	case EventReadable:
		h := item.handler.(ReadHandler)
		err = guard(func() error { return h.OnReadable(item) })
	case EventWritable:
		h := item.handler.(WriteHandler)
		err = guard(func() error { return h.OnWritable(item) })
	}
	if err == nil || errors.Is(err, ErrStop) {
		return err
	}
	return l.handleError(ctx, item, err)
}

// handleError routes err to the item's handler. It returns nil if the handler absorbed it.
func (l *Loop) handleError(ctx context.Context, item *Pollitem, err error) error {
	l.trace(ctx, "handler error", slog.String("pollable", describe(item.pollable)), slog.Any("error", err))
	return guard(func() error { return item.handler.OnError(item, err) })
}

// guard runs fn, turning a panic into a [*PanicError].
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

func (l *Loop) trace(ctx context.Context, msg string, attrs ...slog.Attr) {
	if l.verbose.Load() {
		l.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}

func (l *Loop) wakeup(ctx context.Context) {
	if err := l.waker.signal(); err != nil {
		l.logger.WarnContext(ctx, "could not wake up event loop from thread", slog.Any("error", err))
	}
}

// Stop makes [Loop.Run] return [StatusStopped] once the current cycle completes.
// Callbacks already running are never interrupted. Stop may be called from
// any goroutine and more than once; it fails with [ErrLoopNotStarted] if
// Run was never called.
func (l *Loop) Stop() error {
	if !l.started.Load() {
		return ErrLoopNotStarted
	}
	l.stopRequested.Store(true)
	if l.running.Load() {
		l.wakeup(context.Background())
	}
	return nil
}

// Running reports whether [Loop.Run] is executing.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// SetVerbose toggles logging of registrations, timer fires and dispatches.
func (l *Loop) SetVerbose(verbose bool) {
	l.verbose.Store(verbose)
}

// Close releases the loop's resources, dropping every registration and timer.
// Registered pollables are not closed. A closed loop cannot be run again.
func (l *Loop) Close() error {
	if l.running.Load() {
		return ErrLoopRunning
	}
	if l.closed.Swap(true) {
		return nil
	}
	l.poller.Clear()
	l.timers.Clear()
	return l.waker.close()
}

// Invoke queues fn to be called on the loop's goroutine at the start of the
// next cycle, waking the loop if it is waiting. It is the only way to
// mutate a running loop from another goroutine. fn's error is handled like
// an unhandled callback error; [ErrStop] stops the loop.
//
// Invoke blocks while the queue is full, until ctx is done.
func (l *Loop) Invoke(ctx context.Context, fn func(l *Loop) error) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	select {
	case l.invoked <- fn:
	case <-ctx.Done():
		return ctx.Err()
	}
	if l.running.Load() {
		l.wakeup(ctx)
	}
	return nil
}

// Register adds item to the loop. The item must carry a handler implementing
// the callbacks its events require.
func (l *Loop) Register(item *Pollitem) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	if item == nil {
		return errors.New("zreactor: nil pollitem")
	}
	if err := l.poller.Register(item); err != nil {
		return err
	}
	l.trace(context.Background(), "registered pollitem",
		slog.String("pollable", describe(item.pollable)), slog.String("events", item.events.String()))
	return nil
}

// RegisterReadable registers p for readability, dispatching to h.
func (l *Loop) RegisterReadable(p Pollable, h ReadHandler) (*Pollitem, error) {
	return l.registerNew(p, EventReadable, h)
}

// RegisterWritable registers p for writability, dispatching to h.
func (l *Loop) RegisterWritable(p Pollable, h WriteHandler) (*Pollitem, error) {
	return l.registerNew(p, EventWritable, h)
}

func (l *Loop) registerNew(p Pollable, events Events, h Handler) (*Pollitem, error) {
	item, err := NewPollitem(p, events)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, checkHandler(nil, p, events)
	}
	if err := item.SetHandler(h); err != nil {
		return nil, err
	}
	if err := l.Register(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Remove deregisters every item for p. It returns false if p was not registered.
func (l *Loop) Remove(p Pollable) bool {
	removed := l.poller.Remove(p)
	if removed {
		l.trace(context.Background(), "removed pollable", slog.String("pollable", describe(p)))
	}
	return removed
}

// Items returns the registered pollitems in registration order.
func (l *Loop) Items() []*Pollitem {
	return l.poller.Items()
}

// Bind binds sock to address and registers it for every direction it supports.
// A nil h uses a [DefaultHandler]. h is validated before binding; if
// registration fails the socket is unbound again.
func (l *Loop) Bind(sock Socket, address string, h Handler) (*Pollitem, error) {
	return l.attach(sock, h, sock.Bind, sock.Unbind, address)
}

// Connect connects sock to address and registers it for every direction it
// supports, like [Loop.Bind].
func (l *Loop) Connect(sock Socket, address string, h Handler) (*Pollitem, error) {
	return l.attach(sock, h, sock.Connect, sock.Disconnect, address)
}

func (l *Loop) attach(sock Socket, h Handler, do, undo func(address string) error, address string) (*Pollitem, error) {
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}
	if h == nil {
		h = &DefaultHandler{Logger: l.logger}
	}
	if err := checkHandler(h, sock, sock.Capabilities()); err != nil {
		return nil, err
	}

	if err := do(address); err != nil {
		return nil, err
	}
	item, err := NewPollitem(sock, EventNone)
	if err == nil {
		if err = item.SetHandler(h); err == nil {
			err = l.Register(item)
		}
	}
	if err != nil {
		if undoErr := undo(address); undoErr != nil {
			err = errors.Join(err, undoErr)
		}
		return nil, err
	}
	return item, nil
}

// AddTimer schedules fn to run every delay, times times (0 repeats forever).
func (l *Loop) AddTimer(delay time.Duration, times int, fn func() error) (*Timer, error) {
	timer, err := NewTimer(delay, times, fn)
	if err != nil {
		return nil, err
	}
	if err := l.RegisterTimer(timer); err != nil {
		return nil, err
	}
	return timer, nil
}

// AddOneshotTimer schedules fn to run once after delay.
func (l *Loop) AddOneshotTimer(delay time.Duration, fn func() error) (*Timer, error) {
	return l.AddTimer(delay, 1, fn)
}

// AddPeriodicTimer schedules fn to run every interval until cancelled.
func (l *Loop) AddPeriodicTimer(interval time.Duration, fn func() error) (*Timer, error) {
	return l.AddTimer(interval, 0, fn)
}

// RegisterTimer schedules a timer created with [NewTimer], its first firing
// one delay from now. A timer that has run out of firings can be registered again.
func (l *Loop) RegisterTimer(timer *Timer) error {
	switch {
	case l.closed.Load():
		return ErrLoopClosed
	case timer == nil:
		return fmt.Errorf("%w: nil timer", ErrInvalidTimer)
	case timer.cancelled:
		return ErrTimerCancelled
	case timer.Scheduled():
		return fmt.Errorf("%w: timer is already scheduled", ErrInvalidTimer)
	}

	timer.remaining = timer.times
	timer.deadline = time.Now().Add(timer.delay)
	l.seq++
	timer.seq = l.seq
	l.timers.Add(timer)
	l.trace(context.Background(), "scheduled timer",
		slog.Duration("delay", timer.delay), slog.Int("times", timer.times))
	return nil
}

// CancelTimer cancels timer. It returns false if the timer was not pending.
func (l *Loop) CancelTimer(timer *Timer) bool {
	return timer.Cancel()
}
