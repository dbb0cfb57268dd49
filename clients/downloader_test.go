package clients

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToVideoMetadata(t *testing.T) {
	raw := rawYTDLPMetadata{
		ID:         "abc123",
		Title:      "Episode Title",
		Channel:    "Some Channel",
		UploadDate: "20240115",
		WebpageURL: "https://example.com/watch?v=abc123",
	}
	meta := toVideoMetadata(raw)
	require.Equal(t, "Some Channel", meta.Uploader)
	require.Equal(t, 2024, meta.PublishedAt.Year())
	require.Equal(t, "abc123", meta.ID)
}

func TestToVideoMetadataPrefersUploaderOverChannel(t *testing.T) {
	raw := rawYTDLPMetadata{Uploader: "Direct Uploader", Channel: "Fallback Channel"}
	require.Equal(t, "Direct Uploader", toVideoMetadata(raw).Uploader)
}

func TestToVideoMetadataBadUploadDateIgnored(t *testing.T) {
	raw := rawYTDLPMetadata{UploadDate: "not-a-date"}
	meta := toVideoMetadata(raw)
	require.True(t, meta.PublishedAt.IsZero())
}

func TestMatchFatalSignature(t *testing.T) {
	require.Equal(t, "Unable to extract", matchFatalSignature("ERROR: Unable to extract video data"))
	require.Equal(t, "", matchFatalSignature("some transient network blip"))
}

func TestProgressLineRegexp(t *testing.T) {
	line := "[download]  42.0% of 10.00MiB at 1.20MiB/s ETA 00:07"
	m := progressLineRegexp.FindStringSubmatch(line)
	require.NotNil(t, m)
	require.Equal(t, "42.0", m[1])
	require.Equal(t, "1.20MiB/s", m[2])
	require.Equal(t, "00:07", m[3])
}

func TestResolveDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	_, err := resolveDownloadedFile(dir, "audio")
	require.Error(t, err)
}
