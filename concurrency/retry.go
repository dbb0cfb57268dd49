package concurrency

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions configures WithRetry. Zero value uses the spec defaults:
// attempts=3, baseDelay=500ms, multiplier=2.
type RetryOptions struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	// IsRetryable returns false for errors that must short-circuit
	// immediately: auth errors, validation errors, 404s on HEAD.
	IsRetryable func(error) bool
}

func defaultRetryOptions() RetryOptions {
	return RetryOptions{
		Attempts:   3,
		BaseDelay:  500 * time.Millisecond,
		Multiplier: 2,
		IsRetryable: func(error) bool {
			return true
		},
	}
}

// WithRetry runs fn with geometric backoff (§4.1). At most opts.Attempts
// calls to fn occur (P8). A non-retryable error (per IsRetryable) or the
// exhaustion of attempts returns the last error seen.
func WithRetry[T any](fn func() (T, error), opts ...RetryOptions) (T, error) {
	o := defaultRetryOptions()
	if len(opts) > 0 {
		merged := opts[0]
		if merged.Attempts > 0 {
			o.Attempts = merged.Attempts
		}
		if merged.BaseDelay > 0 {
			o.BaseDelay = merged.BaseDelay
		}
		if merged.Multiplier > 0 {
			o.Multiplier = merged.Multiplier
		}
		if merged.IsRetryable != nil {
			o.IsRetryable = merged.IsRetryable
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.BaseDelay
	b.Multiplier = o.Multiplier
	b.MaxInterval = o.BaseDelay * time.Duration(1<<uint(o.Attempts))
	b.MaxElapsedTime = 0
	b.Reset()

	var result T
	var lastErr error
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		result, err = fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !o.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		if attempt >= o.Attempts {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(b, uint64(o.Attempts-1))); err != nil {
		return result, lastErr
	}
	return result, nil
}
