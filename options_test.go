package zreactor

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestNewLoopConfig(t *testing.T) {
	logger := slog.New(slog.Default().Handler())
	tests := []struct {
		name    string
		options []Option
		wantErr bool
		check   func(t *testing.T, c loopConfig)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c loopConfig) {
				if c.Logger == nil || c.Verbose || c.MaxWait != 0 || c.InvokeQueueSize != 100 {
					t.Errorf("unexpected defaults: %+v", c)
				}
			},
		},
		{
			name:    "all options",
			options: []Option{WithLogger(logger), WithVerbose(), WithMaxWait(time.Second), WithInvokeQueueSize(8)},
			check: func(t *testing.T, c loopConfig) {
				if c.Logger != logger || !c.Verbose || c.MaxWait != time.Second || c.InvokeQueueSize != 8 {
					t.Errorf("options not applied: %+v", c)
				}
			},
		},
		{name: "nil logger", options: []Option{WithLogger(nil)}, wantErr: true},
		{name: "negative max wait", options: []Option{WithMaxWait(-time.Second)}, wantErr: true},
		{name: "empty invoke queue", options: []Option{WithInvokeQueueSize(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newLoopConfig(tt.options)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %t, got: %v", tt.wantErr, err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestNewContextConfig(t *testing.T) {
	tests := []struct {
		name    string
		options []ContextOption
		wantHWM int
		wantErr bool
	}{
		{name: "default", wantHWM: 1000},
		{name: "custom", options: []ContextOption{WithHWM(5)}, wantHWM: 5},
		{name: "zero", options: []ContextOption{WithHWM(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newContextConfig(tt.options)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %t, got: %v", tt.wantErr, err)
			}
			if err == nil && c.HWM != tt.wantHWM {
				t.Errorf("expected HWM %d, got: %d", tt.wantHWM, c.HWM)
			}
		})
	}
}

func TestLoop_MaxWait(t *testing.T) {
	loop, err := NewLoop(WithMaxWait(time.Millisecond * 10))
	if err != nil {
		t.Skipf("loop not supported: %v", err)
	}
	defer loop.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if got := loop.waitTimeout(ctx, time.Now()); got != time.Millisecond*10 {
		t.Errorf("expected idle wait to be capped at 10ms, got: %s", got)
	}
	if _, err := loop.AddOneshotTimer(time.Millisecond*5, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got := loop.waitTimeout(ctx, time.Now()); got > time.Millisecond*5 {
		t.Errorf("expected wait to end at the next timer, got: %s", got)
	}
}
