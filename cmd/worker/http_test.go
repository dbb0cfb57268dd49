package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpodcast/episode-ingest-worker/cache"
	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/openpodcast/episode-ingest-worker/pipeline"
)

func newTestServer() *Server {
	return &Server{
		Tracker:    pipeline.NewJobTracker(2),
		Protection: pipeline.NewProtectionController(config.CapacityOnDemand, pipeline.NoopProtectionBackend{}),
		Mode:       config.CapacityOnDemand,
		Jobs:       cache.New[*pipeline.JobInfo](),
	}
}

func TestRouterRegistersRoutes(t *testing.T) {
	router := NewRouter(newTestServer())

	handle, _, _ := router.Lookup("GET", "/health")
	require.NotNil(t, handle)

	handle2, _, _ := router.Lookup("POST", "/api/download")
	require.NotNil(t, handle2)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, string(config.CapacityOnDemand), body.CapacityMode)
}

func TestHandleDownloadRejectsNonYoutubeURL(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader(`{"url":"https://example.com/video"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetJobNotFound(t *testing.T) {
	s := newTestServer()
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/job/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestYoutubeURLPattern(t *testing.T) {
	require.True(t, youtubeURLPattern.MatchString("https://www.youtube.com/watch?v=abc123"))
	require.True(t, youtubeURLPattern.MatchString("https://youtu.be/abc123"))
	require.False(t, youtubeURLPattern.MatchString("https://vimeo.com/123"))
}
