// Package timeouts holds the process-wide time budgets for work that is not
// bounded by an inbound request.
package timeouts

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPing   = 2 * time.Second
	DefaultNotify = 30 * time.Second
)

var ping, notify atomic.Int64

func init() { Reset() }

// Ping bounds health and readiness probes.
func Ping() time.Duration { return time.Duration(ping.Load()) }

// Notify bounds a single outgoing notification (one SMTP conversation).
func Notify() time.Duration { return time.Duration(notify.Load()) }

// Config holds timeout overrides. Zero fields keep the current value.
type Config struct {
	Ping   time.Duration
	Notify time.Duration
}

// Configure applies the positive fields of cfg.
func Configure(cfg Config) {
	if cfg.Ping > 0 {
		ping.Store(int64(cfg.Ping))
	}
	if cfg.Notify > 0 {
		notify.Store(int64(cfg.Notify))
	}
}

// Reset restores the defaults.
func Reset() {
	ping.Store(int64(DefaultPing))
	notify.Store(int64(DefaultNotify))
}

// Current returns the values in effect.
func Current() Config {
	return Config{Ping: Ping(), Notify: Notify()}
}

// WithTimeout derives a context bounded by timeout. The returned cancel logs
// a warning when the deadline was what ended the operation.
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && log != nil {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout),
			)
		}
		cancel()
	}
}
