package broadcast

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransportNotConfigured is returned (and persisted as a failed job)
	// when a broadcast is started on a channel whose transport is missing.
	ErrTransportNotConfigured = errors.New("broadcast: transport not configured")

	// ErrUnknownTarget is returned by resolvers for an unrecognized
	// target-filter key.
	ErrUnknownTarget = errors.New("broadcast: unknown target filter")
)

// NoRetry marks a send error as permanent for that recipient: the sender
// counts it failed immediately without burning retry attempts.
//
// Transports wrap blocked/unreachable recipients and malformed payloads
// with NoRetry.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter marks a send error as a provider throttle signal carrying an
// advisory wait. The sender turns it into a run-wide cooldown so every
// concurrent sender backs off, not just the caller that hit the limit.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterDelay extracts the advisory wait from a throttle error.
func RetryAfterDelay(err error) (time.Duration, bool) {
	var e retryAfterError
	if errors.As(err, &e) {
		return e.after, true
	}
	return 0, false
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", e.after, e.err)
}
func (e retryAfterError) Unwrap() error { return e.err }
