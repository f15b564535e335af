package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// permanentError stops retry immediately.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retry calls fn up to attempts times, sleeping backoff*attempt between
// tries. It returns the last error with any permanent wrapper removed.
func retry(ctx context.Context, attempts int, backoff time.Duration, logger *zap.Logger, op string, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		wait := backoff * time.Duration(attempt)
		logger.Warn("Retrying after failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
