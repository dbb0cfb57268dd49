package concurrency

import (
	"time"

	"github.com/openpodcast/episode-ingest-worker/metrics"
)

// ErrorNamer lets callers surface a stable error class for the
// StepFailure{Step, ErrorName} metric label instead of a raw, high-cardinality
// error string.
type ErrorNamer interface {
	ErrorName() string
}

func errorName(err error) string {
	if named, ok := err.(ErrorNamer); ok {
		return named.ErrorName()
	}
	return "unknown"
}

// WithStep measures wall time around fn and emits StepSuccess / StepFailure
// (labeled by the error's class) / StepDurationMillis, all labeled with
// Step=name (§4.1).
func WithStep[T any](name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	elapsed := time.Since(start)

	metrics.StepDuration(name, elapsed.Seconds())
	if err != nil {
		metrics.StepFailure(name, errorName(err))
	} else {
		metrics.StepSuccess(name)
	}
	return result, err
}
