package video

import (
	"fmt"
	"path"
)

// Artifact kinds addressed under {podcastSlug}/{episodeSlug}/original/ (§6).
const (
	ArtifactAudio       = "audio"
	ArtifactVideos      = "videos"
	ArtifactVideoStream = "video_stream"
	ArtifactImage       = "image"
)

// ArtifactKey is the structured object-storage key of §3/§6:
// {podcastSlug}/{episodeSlug}/original/{kind}/{filename}.
type ArtifactKey struct {
	PodcastSlug string
	EpisodeSlug string
	Kind        string
	Filename    string
}

func (k ArtifactKey) String() string {
	return path.Join(k.PodcastSlug, k.EpisodeSlug, "original", k.Kind, k.Filename)
}

// AudioKey builds <podcastSlug>/<episodeSlug>/original/audio/<episodeSlug>.mp3.
func AudioKey(uploader, title string) ArtifactKey {
	slug := Slug(title)
	return ArtifactKey{
		PodcastSlug: Slug(uploader),
		EpisodeSlug: slug,
		Kind:        ArtifactAudio,
		Filename:    slug + ".mp3",
	}
}

// VideoKey builds <podcastSlug>/<episodeSlug>/original/videos/<height>p.mp4.
func VideoKey(uploader, title string, height int64) ArtifactKey {
	return ArtifactKey{
		PodcastSlug: Slug(uploader),
		EpisodeSlug: Slug(title),
		Kind:        ArtifactVideos,
		Filename:    fmt.Sprintf("%dp.mp4", height),
	}
}

// ImageKey builds <podcastSlug>/<episodeSlug>/original/image/<episodeSlug>.jpg.
func ImageKey(uploader, title string) ArtifactKey {
	slug := Slug(title)
	return ArtifactKey{
		PodcastSlug: Slug(uploader),
		EpisodeSlug: slug,
		Kind:        ArtifactImage,
		Filename:    slug + ".jpg",
	}
}

// MasterManifestKey builds <podcastSlug>/<episodeSlug>/original/video_stream/master.m3u8.
func MasterManifestKey(uploader, title string) ArtifactKey {
	return ArtifactKey{
		PodcastSlug: Slug(uploader),
		EpisodeSlug: Slug(title),
		Kind:        ArtifactVideoStream,
		Filename:    "master.m3u8",
	}
}

// VariantKey builds <podcastSlug>/<episodeSlug>/original/video_stream/<height>p/<file>.
func VariantKey(uploader, title string, height int64, file string) ArtifactKey {
	return ArtifactKey{
		PodcastSlug: Slug(uploader),
		EpisodeSlug: Slug(title),
		Kind:        path.Join(ArtifactVideoStream, fmt.Sprintf("%dp", height)),
		Filename:    file,
	}
}

// PublicURL formats the public S3 URL convention used throughout the
// spec (§4.5 publicUrl). prefix is the optional S3_KEY_PREFIX, already
// cleaned of leading/trailing slashes by the caller.
func PublicURL(region, bucket, prefix, key string) string {
	k := key
	if prefix != "" {
		k = path.Join(prefix, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, k)
}
