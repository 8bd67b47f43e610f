package zreactor

import (
	"container/heap"
	"fmt"
	"time"
)

// Timer is a callback a [Loop] runs after a delay, a fixed number of times or forever.
//
// Timers are owned by the loop's goroutine; Cancel must not be called from elsewhere
// (use [Loop.Invoke] to cancel from another goroutine).
type Timer struct {
	delay     time.Duration
	times     int
	remaining int
	callback  func() error
	onError   func(err error) error
	cancelled bool

	deadline time.Time
	seq      uint64

	// queue == nil && index < 0 if the timer is not scheduled
	queue   *timerQueue
	index   int
	inBatch bool
}

// NewTimer creates a timer firing every delay, times times. times == 1 is a
// one-shot timer and times == 0 repeats until cancelled.
//
// Creating a timer does not schedule it; use [Loop.RegisterTimer] or [Loop.AddTimer].
func NewTimer(delay time.Duration, times int, callback func() error) (*Timer, error) {
	switch {
	case callback == nil:
		return nil, fmt.Errorf("%w: no callback given", ErrInvalidTimer)
	case delay < 0:
		return nil, fmt.Errorf("%w: negative delay %s", ErrInvalidTimer, delay)
	case times < 0:
		return nil, fmt.Errorf("%w: negative repeat count %d", ErrInvalidTimer, times)
	}
	return &Timer{
		delay:     delay,
		times:     times,
		remaining: times,
		callback:  callback,
		index:     -1,
	}, nil
}

// Fire runs the timer's callback once, outside of any loop.
// It fails with [ErrTimerCancelled] if the timer was cancelled.
func (t *Timer) Fire() error {
	if t.cancelled {
		return ErrTimerCancelled
	}
	return t.callback()
}

// Cancel prevents any further firing, including a firing already due in the
// loop's current cycle. Returns false if the timer was not pending.
func (t *Timer) Cancel() bool {
	if t.cancelled {
		return false
	}
	t.cancelled = true
	if t.queue != nil {
		return t.queue.Remove(t)
	}
	return t.inBatch
}

// Cancelled reports whether the timer was cancelled.
func (t *Timer) Cancelled() bool {
	return t.cancelled
}

// Scheduled reports whether the timer is waiting in a loop's schedule.
func (t *Timer) Scheduled() bool {
	return t.queue != nil || t.inBatch
}

// Remaining returns how many more times the timer fires, or -1 for a repeating timer.
func (t *Timer) Remaining() int {
	if t.times == 0 {
		return -1
	}
	return t.remaining
}

// Delay returns the interval between firings.
func (t *Timer) Delay() time.Duration {
	return t.delay
}

// Deadline returns when the timer is next due. It is zero for unscheduled timers.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// SetErrorHandler installs fn to receive errors returned or raised by the callback.
// fn returning nil absorbs the error. Without a handler every error is fatal to the loop.
func (t *Timer) SetErrorHandler(fn func(err error) error) *Timer {
	t.onError = fn
	return t
}

// OnError routes err to the timer's error handler.
func (t *Timer) OnError(err error) error {
	if t.onError == nil {
		return err
	}
	return t.onError(err)
}

// fired records one firing at now and reports whether the timer should be rescheduled.
// The next deadline advances from the previous deadline, so dispatch latency
// does not accumulate; it is clamped to now when the loop has fallen behind.
func (t *Timer) fired(now time.Time) bool {
	if t.cancelled {
		return false
	}
	if t.times != 0 {
		t.remaining--
		if t.remaining <= 0 {
			return false
		}
	}
	next := t.deadline.Add(t.delay)
	if next.Before(now) {
		next = now
	}
	t.deadline = next
	return true
}

// timerQueue is a priority queue of timers sorted by deadline,
// then by the order they were scheduled in.
type timerQueue []*Timer

// Len implements [heap.Interface].
func (q *timerQueue) Len() int {
	return len(*q)
}

// Less implements [heap.Interface].
func (q *timerQueue) Less(i, j int) bool {
	a, b := (*q)[i], (*q)[j]
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

// Swap implements [heap.Interface].
func (q *timerQueue) Swap(i, j int) {
	(*q)[i].index = j
	(*q)[j].index = i
	(*q)[i], (*q)[j] = (*q)[j], (*q)[i]
}

// Push implements [heap.Interface].
func (q *timerQueue) Push(x any) {
	timer := x.(*Timer)
	timer.index = q.Len()
	timer.queue = q
	*q = append(*q, timer)
}

// Pop implements [heap.Interface].
func (q *timerQueue) Pop() any {
	n := len(*q)
	timer := (*q)[n-1]
	(*q)[n-1] = nil
	*q = (*q)[:n-1]
	// remove association to the queue
	// so Remove behaves correctly if called multiple times
	timer.index = -1
	timer.queue = nil
	return timer
}

// Remove removes a timer from the queue.
// Returns false if the timer is not in this queue.
func (q *timerQueue) Remove(timer *Timer) bool {
	if timer.queue != q || timer.index < 0 {
		return false
	}
	heap.Remove(q, timer.index)
	return true
}

// Add schedules a timer.
func (q *timerQueue) Add(timer *Timer) {
	heap.Push(q, timer)
}

// Peek returns the next timer due without modifying the queue.
// Will panic if the queue is empty.
func (q *timerQueue) Peek() *Timer {
	return (*q)[0]
}

// Empty reports whether the queue is empty.
func (q *timerQueue) Empty() bool {
	return q.Len() == 0
}

// TimeUntilNext returns the time until the next timer is due, never negative.
func (q *timerQueue) TimeUntilNext(now time.Time) time.Duration {
	return max(0, q.Peek().deadline.Sub(now))
}

// PopDue removes every timer due at now, in firing order, appending them to batch.
func (q *timerQueue) PopDue(now time.Time, batch []*Timer) []*Timer {
	for !q.Empty() && !q.Peek().deadline.After(now) {
		timer := heap.Pop(q).(*Timer)
		timer.inBatch = true
		batch = append(batch, timer)
	}
	return batch
}

// Clear unschedules every timer.
func (q *timerQueue) Clear() {
	for _, timer := range *q {
		timer.index = -1
		timer.queue = nil
	}
	*q = nil
}
