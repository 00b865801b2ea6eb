// Package retry provides a bounded exponential-backoff wrapper for
// operations that may transiently fail. It is used only by the worker base
// contract (see internal/worker).
package retry

import (
	"context"
	"time"

	"github.com/aidlc/gorilla-troop/internal/corekit/errs"
)

// Config holds the retry parameters for a single wrapped call.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it (BaseDelay * 2^attempt).
	BaseDelay time.Duration
}

// DefaultConfig returns the core's default retry parameters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// Op is an operation that may transiently fail. It should wrap transient
// errors with errs.NewTransient and non-retriable errors with
// errs.NewFatal; an error not marked either way is treated as non-retriable.
type Op func(ctx context.Context, attempt int) error

// Do calls op; on success it returns nil. On a transient error with
// attempts remaining it sleeps base*2^attempt and retries. On a
// non-retriable error, or once attempts are exhausted, it propagates the
// last error. Sleeping is cancellable: if ctx is done while waiting
// between attempts, Do returns ctx.Err() immediately.
func Do(ctx context.Context, cfg Config, op Op) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if !errs.IsTransient(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
