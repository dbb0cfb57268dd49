package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopEdition(t *testing.T) {
	require.Equal(t, int64(1080), TopEdition(1080))
	require.Equal(t, int64(1080), TopEdition(2160))
	require.Equal(t, int64(720), TopEdition(720))
	require.Equal(t, int64(720), TopEdition(480))
}

func TestLadder(t *testing.T) {
	l1080 := Ladder(1080)
	require.Len(t, l1080, 4)
	require.Equal(t, Rendition{Height: 1080, Bitrate: 2500}, l1080[0])
	require.Equal(t, Rendition{Height: 360, Bitrate: 400}, l1080[3])

	l720 := Ladder(720)
	require.Len(t, l720, 3)
	require.Equal(t, Rendition{Height: 720, Bitrate: 1200}, l720[0])
}

func TestRenditionName(t *testing.T) {
	require.Equal(t, "720p", Rendition{Height: 720}.Name())
}
