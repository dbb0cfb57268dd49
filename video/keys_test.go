package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioKeyRoundtrip(t *testing.T) {
	k := AudioKey("Some Channel", "An Episode Title")
	require.Equal(t, "some-channel/an-episode-title/original/audio/an-episode-title.mp3", k.String())
	require.Equal(t, Slug("An Episode Title"), k.EpisodeSlug)
	require.Equal(t, Slug("Some Channel"), k.PodcastSlug)
}

func TestVideoKey(t *testing.T) {
	k := VideoKey("Channel", "Title", 720)
	require.Equal(t, "channel/title/original/videos/720p.mp4", k.String())
}

func TestMasterManifestKey(t *testing.T) {
	k := MasterManifestKey("Channel", "Title")
	require.Equal(t, "channel/title/original/video_stream/master.m3u8", k.String())
}

func TestVariantKey(t *testing.T) {
	k := VariantKey("Channel", "Title", 480, "480p.m3u8")
	require.Equal(t, "channel/title/original/video_stream/480p/480p.m3u8", k.String())
}

func TestPublicURL(t *testing.T) {
	require.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/channel/title/original/audio/title.mp3",
		PublicURL("us-east-1", "bucket", "", "channel/title/original/audio/title.mp3"))
	require.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/prefix/key",
		PublicURL("us-east-1", "bucket", "prefix", "key"))
}
