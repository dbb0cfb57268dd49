package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func TestRetryableClientMonitoring(t *testing.T) {
	retries := 0
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if retries < 2 {
			retries++
			w.WriteHeader(http.StatusBadGateway)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte{})
	}))
	defer svr.Close()

	metricsServer := httptest.NewServer(promhttp.Handler())
	defer metricsServer.Close()

	req, err := http.NewRequest(http.MethodGet, svr.URL, bytes.NewBuffer([]byte{}))
	require.NoError(t, err)

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.CheckRetry = HttpRetryHook
	client.Logger = nil
	_, err = MonitorRequest("test_monitor_success", client.StandardClient(), req)
	require.NoError(t, err)

	res, err := http.Get(metricsServer.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Regexp(t, `step_success_total{step="test_monitor_success"} 1`, string(body))
}

func TestRetryableClientFailingRequestMonitoring(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte{})
	}))
	defer svr.Close()

	metricsServer := httptest.NewServer(promhttp.Handler())
	defer metricsServer.Close()

	req, err := http.NewRequest(http.MethodGet, svr.URL, bytes.NewBuffer([]byte{}))
	require.NoError(t, err)

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = HttpRetryHook
	client.Logger = nil
	_, _ = MonitorRequest("test_monitor_failure", client.StandardClient(), req)

	res, err := http.Get(metricsServer.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Regexp(t, fmt.Sprintf(`step_failure_total{error_name="502",step="test_monitor_failure"} 1`), string(body))
}
