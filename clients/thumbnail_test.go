package clients

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewThumbnailer(t *testing.T) {
	store := &ObjectStore{Bucket: "test-bucket"}
	th := NewThumbnailer(store)
	require.Equal(t, store, th.Storage)
}

func TestThumbnailResolution(t *testing.T) {
	require.Equal(t, "320:240", thumbnailResolution)
}
