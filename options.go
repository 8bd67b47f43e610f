package zreactor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Option configures a [Loop]. See the With* functions.
type Option func(c *loopConfig)

type loopConfig struct {
	Logger  *slog.Logger `validate:"required"`
	Verbose bool

	// MaxWait bounds a single wait when no timer is scheduled; zero waits indefinitely.
	MaxWait time.Duration `validate:"gte=0"`

	// InvokeQueueSize is the capacity of the queue used by Loop.Invoke.
	InvokeQueueSize int `validate:"gte=1,lte=65536"`
}

// WithLogger sets the logger used for loop diagnostics. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(c *loopConfig) {
		c.Logger = logger
	}
}

// WithVerbose logs registrations, timer fires and dispatches.
func WithVerbose() Option {
	return func(c *loopConfig) {
		c.Verbose = true
	}
}

// WithMaxWait bounds how long the loop sleeps when no timers are scheduled.
func WithMaxWait(d time.Duration) Option {
	return func(c *loopConfig) {
		c.MaxWait = d
	}
}

// WithInvokeQueueSize sets how many functions [Loop.Invoke] can queue before blocking.
func WithInvokeQueueSize(n int) Option {
	return func(c *loopConfig) {
		c.InvokeQueueSize = n
	}
}

func newLoopConfig(options []Option) (loopConfig, error) {
	c := loopConfig{
		Logger:          slog.Default(),
		InvokeQueueSize: 100,
	}
	for _, option := range options {
		option(&c)
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("zreactor: invalid loop options: %w", err)
	}
	return c, nil
}

// ContextOption configures a [Context].
type ContextOption func(c *contextConfig)

type contextConfig struct {
	// HWM is the number of messages a socket queues before peers see it as full.
	HWM int `validate:"gte=1,lte=1000000"`
}

// WithHWM sets the per-socket high-water mark. Defaults to 1000.
func WithHWM(n int) ContextOption {
	return func(c *contextConfig) {
		c.HWM = n
	}
}

func newContextConfig(options []ContextOption) (contextConfig, error) {
	c := contextConfig{HWM: 1000}
	for _, option := range options {
		option(&c)
	}
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("zreactor: invalid context options: %w", err)
	}
	return c, nil
}
