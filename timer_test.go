package zreactor

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewTimer(t *testing.T) {
	noop := func() error { return nil }
	tests := []struct {
		name     string
		delay    time.Duration
		times    int
		callback func() error
		wantErr  bool
	}{
		{name: "oneshot", delay: time.Second, times: 1, callback: noop},
		{name: "repeating", delay: time.Millisecond, times: 0, callback: noop},
		{name: "zero delay", delay: 0, times: 3, callback: noop},
		{name: "negative delay", delay: -time.Second, times: 1, callback: noop, wantErr: true},
		{name: "negative times", delay: time.Second, times: -1, callback: noop, wantErr: true},
		{name: "no callback", delay: time.Second, times: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer, err := NewTimer(tt.delay, tt.times, tt.callback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %t, got: %v", tt.wantErr, err)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidTimer) {
					t.Errorf("expected ErrInvalidTimer, got: %v", err)
				}
				return
			}
			if timer.Scheduled() {
				t.Errorf("expected a new timer to be unscheduled")
			}
			if timer.Delay() != tt.delay {
				t.Errorf("expected delay %s, got: %s", tt.delay, timer.Delay())
			}
		})
	}
}

func TestTimer_Fire(t *testing.T) {
	var calls int
	timer, err := NewTimer(time.Second, 1, func() error {
		calls++
		return errBoom
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := timer.Fire(); !errors.Is(err, errBoom) {
		t.Errorf("expected callback error, got: %v", err)
	}
	if timer.Remaining() != 1 {
		t.Errorf("expected Fire not to count as a scheduled firing, got %d remaining", timer.Remaining())
	}

	if timer.Cancel() {
		t.Errorf("expected Cancel of an unscheduled timer to report false")
	}
	if !timer.Cancelled() {
		t.Errorf("expected timer to be cancelled")
	}
	if err := timer.Fire(); !errors.Is(err, ErrTimerCancelled) {
		t.Errorf("expected ErrTimerCancelled, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got: %d", calls)
	}
}

func TestTimer_OnError(t *testing.T) {
	timer, err := NewTimer(time.Second, 1, func() error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := timer.OnError(errBoom); !errors.Is(err, errBoom) {
		t.Errorf("expected errors to be fatal by default, got: %v", err)
	}
	timer.SetErrorHandler(func(err error) error { return nil })
	if err := timer.OnError(errBoom); err != nil {
		t.Errorf("expected error handler to absorb, got: %v", err)
	}
}

func TestTimer_Fired(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		times int
		fires []time.Duration // when each firing is dispatched, relative to base

		wantDeadlines []time.Duration // deadline after each firing, relative to base; -1 once exhausted
	}{
		{
			name:          "on time",
			times:         0,
			fires:         []time.Duration{10, 20, 30},
			wantDeadlines: []time.Duration{20, 30, 40},
		},
		{
			name:          "latency does not accumulate",
			times:         0,
			fires:         []time.Duration{12, 23, 31},
			wantDeadlines: []time.Duration{20, 30, 40},
		},
		{
			name:          "clamped when behind",
			times:         0,
			fires:         []time.Duration{35, 36},
			wantDeadlines: []time.Duration{35, 45},
		},
		{
			name:          "exhausted",
			times:         2,
			fires:         []time.Duration{10, 20},
			wantDeadlines: []time.Duration{20, -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer, err := NewTimer(time.Millisecond*10, tt.times, func() error { return nil })
			if err != nil {
				t.Fatal(err)
			}
			timer.deadline = base.Add(time.Millisecond * 10)

			var got []time.Duration
			for _, at := range tt.fires {
				if timer.fired(base.Add(time.Millisecond * at)) {
					got = append(got, timer.deadline.Sub(base)/time.Millisecond)
				} else {
					got = append(got, -1)
				}
			}
			if diff := cmp.Diff(tt.wantDeadlines, got); diff != "" {
				t.Errorf("unexpected deadlines (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimerQueue(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var q timerQueue

	// deadline offsets in registration order; equal deadlines keep registration order
	offsets := []time.Duration{30, 10, 20, 10, 40}
	timers := make([]*Timer, len(offsets))
	for i, offset := range offsets {
		timer, err := NewTimer(time.Millisecond, 1, func() error { return nil })
		if err != nil {
			t.Fatal(err)
		}
		timer.deadline = base.Add(time.Millisecond * offset)
		timer.seq = uint64(i + 1)
		timers[i] = timer
		q.Add(timer)
	}

	if got := q.TimeUntilNext(base); got != time.Millisecond*10 {
		t.Errorf("expected 10ms until the next timer, got: %s", got)
	}
	if got := q.TimeUntilNext(base.Add(time.Second)); got != 0 {
		t.Errorf("expected overdue timers to be due now, got: %s", got)
	}

	if !timers[2].Cancel() {
		t.Errorf("expected Cancel to remove a queued timer")
	}
	if timers[2].Scheduled() {
		t.Errorf("expected cancelled timer to be unscheduled")
	}

	batch := q.PopDue(base.Add(time.Millisecond*30), nil)
	var order []int
	for _, timer := range batch {
		for i := range timers {
			if timers[i] == timer {
				order = append(order, i)
			}
		}
		if !timer.inBatch || !timer.Scheduled() {
			t.Errorf("expected batched timers to count as scheduled")
		}
	}
	if diff := cmp.Diff([]int{1, 3, 0}, order); diff != "" {
		t.Errorf("unexpected firing order (-want +got):\n%s", diff)
	}
	if q.Len() != 1 || q.Peek() != timers[4] {
		t.Errorf("expected only the 40ms timer to remain queued")
	}

	q.Clear()
	if !q.Empty() || timers[4].Scheduled() {
		t.Errorf("expected Clear to unschedule every timer")
	}
	if q.Remove(timers[4]) {
		t.Errorf("expected Remove of an unqueued timer to report false")
	}
}
