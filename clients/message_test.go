package clients

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMessageExistingEpisode(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"id": "ep-1", "url": "https://youtube.com/watch?v=abc"}`))
	require.NoError(t, err)
	require.Equal(t, MessageExistingEpisode, msg.Kind)
	require.Equal(t, "ep-1", msg.EpisodeID)
}

func TestParseMessageNewEntry(t *testing.T) {
	body := []byte(`{
		"videoId": "abc123", "episodeTitle": "Episode 1", "channelName": "Channel",
		"channelId": "chan-1", "originalUri": "https://youtube.com/watch?v=abc123",
		"contentType": "Video", "extraField": "preserved"
	}`)
	msg, err := ParseMessage(body)
	require.NoError(t, err)
	require.Equal(t, MessageNewEntry, msg.Kind)
	require.Equal(t, "abc123", msg.VideoID)
	require.Equal(t, "Episode 1", msg.EpisodeTitle)
	v, ok := msg.AdditionalData.GetString("extraField")
	require.True(t, ok)
	require.Equal(t, "preserved", v)
}

func TestParseMessageLegacy(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"url": "https://youtube.com/watch?v=xyz", "jobId": "job-1"}`))
	require.NoError(t, err)
	require.Equal(t, MessageLegacy, msg.Kind)
	require.Equal(t, "job-1", msg.JobID)
}

func TestParseMessageUnknownShape(t *testing.T) {
	_, err := ParseMessage([]byte(`{"foo": "bar"}`))
	require.Error(t, err)
}
