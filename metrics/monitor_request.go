package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type Retries struct {
	count          int
	lastStatusCode int
}

// MonitorRequest wraps a retryablehttp-backed *http.Client call with the
// generic step metrics, labeled by the caller-supplied step name (e.g.
// "ecs_task_protection"). Used by clients/protection_backend.go's
// retryablehttp client.
func MonitorRequest(step string, client *http.Client, r *http.Request) (*http.Response, error) {
	ctx := context.WithValue(r.Context(), RetriesKey, &Retries{-1, 0})
	req := r.WithContext(ctx)

	start := time.Now()
	res, err := client.Do(req)
	duration := time.Since(start)

	retries := ctx.Value(RetriesKey).(*Retries)
	if retries.lastStatusCode >= 400 {
		StepFailure(step, fmt.Sprint(retries.lastStatusCode))
		return res, err
	}

	StepDuration(step, duration.Seconds())
	StepSuccess(step)
	return res, err
}

// HttpRetryHook is installed as a retryablehttp.Client's CheckRetry so
// MonitorRequest can observe how many attempts a request took.
func HttpRetryHook(ctx context.Context, res *http.Response, err error) (bool, error) {
	retries := ctx.Value(RetriesKey).(*Retries)
	if res == nil {
		retries.lastStatusCode = 999
	} else {
		retries.lastStatusCode = res.StatusCode
	}
	retries.count++

	return retryablehttp.DefaultRetryPolicy(ctx, res, err)
}
