// Package retry runs an operation with exponential back-off.
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 4}, func() error {
//	    return sink.Archive(ctx, summary)
//	})
//
// Errors wrapped with Permanent stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls attempts and back-off.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single call.
	MaxAttempts int
	// InitialDelay is the pause before the second attempt; it doubles after
	// every failure up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Logger receives a Debug line per failed attempt. nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig suits short local I/O such as a SQLite write.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts run
// out, or ctx is done. The last error is returned; a context error is joined
// to it.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.InitialDelay
	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(last, err)
		}

		last = fn()
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Debug("retry: attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"err", last,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(last, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return last
}
