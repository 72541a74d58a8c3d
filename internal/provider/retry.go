package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Backoff is the retry policy shared by the remote providers. The first
// retry waits Initial, each later one twice as long, capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Retries is the number of attempts after the first one.
	Retries int
}

// DefaultBackoff waits 1s, 2s, 4s between four attempts.
var DefaultBackoff = Backoff{
	Initial: 1 * time.Second,
	Max:     30 * time.Second,
	Retries: 3,
}

// RetryableError marks a failed attempt as worth repeating. Any other error
// ends Backoff.Do immediately.
type RetryableError struct {
	Err error
	// After replaces the backoff delay when positive, still capped at Max.
	After time.Duration
	// Now retries without waiting and without growing the delay.
	Now bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so Backoff.Do tries again after the backoff delay.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// Do runs attempt until it succeeds, fails with a non-retryable error, the
// retries are used up, or ctx is done. attempt receives the zero-based
// attempt number.
func (b Backoff) Do(ctx context.Context, logger *slog.Logger, attempt func(ctx context.Context, n int) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	delay := b.Initial
	for n := 0; ; n++ {
		err := attempt(ctx, n)
		if err == nil {
			return nil
		}

		var re *RetryableError
		if !errors.As(err, &re) {
			return err
		}
		if n >= b.Retries {
			return fmt.Errorf("giving up after %d retries: %w", b.Retries, re.Err)
		}
		if re.Now {
			logger.Debug("retrying now", "attempt", n+1, "error", re.Err)
			continue
		}

		wait := delay
		if re.After > 0 {
			wait = re.After
		}
		if b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
		logger.Warn("attempt failed, will retry",
			"attempt", n+1,
			"backoff", wait,
			"error", re.Err,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
		}

		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}
