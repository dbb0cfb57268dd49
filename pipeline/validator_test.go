package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpodcast/episode-ingest-worker/catalog"
)

func TestSumExtinf(t *testing.T) {
	playlist := "#EXTM3U\n#EXTINF:6.0,\nseg1.m4s\n#EXTINF:6.0,\nseg2.m4s\n#EXTINF:3.5,\nseg3.m4s\n"
	require.InDelta(t, 15.5, sumExtinf(playlist), 0.001)
}

func TestHighestBandwidthVariant(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=640x360\n360p/360p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1920x1080\n1080p/1080p.m3u8\n"
	variant := highestBandwidthVariant(master, "channel/title/original/video_stream/master.m3u8")
	require.Equal(t, "channel/title/original/video_stream/1080p/1080p.m3u8", variant)
}

func TestKeyFromPublicURL(t *testing.T) {
	key := keyFromPublicURL("https://bucket.s3.us-east-1.amazonaws.com/channel/title/original/video_stream/master.m3u8")
	require.Equal(t, "channel/title/original/video_stream/master.m3u8", key)
}

func TestKeyFromPublicURLInvalid(t *testing.T) {
	require.Equal(t, "", keyFromPublicURL("not-a-url"))
}

type stubCatalog struct {
	rec *catalog.EpisodeRecord
	err error
}

func (s stubCatalog) GetEpisode(_ context.Context, _ string) (*catalog.EpisodeRecord, error) {
	return s.rec, s.err
}

func TestValidateEpisodeMissingRow(t *testing.T) {
	v := &Validator{Catalog: stubCatalog{}}
	result := v.ValidateEpisode(context.Background(), "missing")
	require.True(t, result.Failed())
}

func TestValidateEpisodeMissingAdditionalData(t *testing.T) {
	v := &Validator{Catalog: stubCatalog{rec: &catalog.EpisodeRecord{
		ProcessingDone: true,
		ContentType:    "Video",
		AdditionalData: catalog.AdditionalData{},
	}}}
	result := v.ValidateEpisode(context.Background(), "ep-1")
	require.True(t, result.Failed())
	require.Contains(t, result.Errors, "additionalData.videoLocation missing")
}
