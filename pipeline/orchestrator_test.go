package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "b", firstNonEmpty("", "b", "c"))
	require.Equal(t, "", firstNonEmpty("", ""))
	require.Equal(t, "a", firstNonEmpty("a"))
}

func TestFirstNonZeroTime(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, fixed, firstNonZeroTime(fixed))
	require.False(t, firstNonZeroTime(time.Time{}).IsZero())
}

func TestContentTypeForFile(t *testing.T) {
	require.Equal(t, "video/mp4", contentTypeForFile("episode.mp4"))
	require.Equal(t, "application/vnd.apple.mpegurl", contentTypeForFile("master.m3u8"))
	require.Equal(t, "image/jpeg", contentTypeForFile("thumb.jpg"))
	require.Equal(t, "application/octet-stream", contentTypeForFile("unknown.bin"))
}

func TestJobStatusString(t *testing.T) {
	require.Equal(t, "downloading", StatusDownloading.string())
}

func TestNewOrchestratorHoldsDeps(t *testing.T) {
	deps := PipelineDeps{Bucket: "b", Region: "r", KeyPrefix: "p", WorkDir: "/tmp"}
	o := NewOrchestrator(deps)
	require.Equal(t, deps, o.Deps)
}
