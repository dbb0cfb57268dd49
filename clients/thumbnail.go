package clients

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
)

// thumbnailResolution matches the teacher's storyboard scale, narrowed to
// a single representative frame (no WebVTT/storyboard requirement here).
const thumbnailResolution = "320:240"

// Thumbnailer extracts one representative JPEG frame from the merged
// source file and uploads it under the caller-supplied key.
type Thumbnailer struct {
	Storage *ObjectStore
}

func NewThumbnailer(storage *ObjectStore) *Thumbnailer {
	return &Thumbnailer{Storage: storage}
}

// Extract pulls a single keyframe a few seconds into sourcePath and
// uploads it to key. It returns only an error; the JPEG bytes are not
// handed back to the caller.
func (t *Thumbnailer) Extract(ctx context.Context, requestID, sourcePath, workDir, key string) error {
	_, err := concurrency.WithSemaphoreCtx(ctx, concurrency.Disk, func() (struct{}, error) {
		out := filepath.Join(workDir, "thumbnail.jpg")
		var stderr bytes.Buffer
		err := ffmpeg.
			Input(sourcePath, ffmpeg.KwArgs{"ss": "00:00:03"}).
			Output(out, ffmpeg.KwArgs{
				"vframes": "1",
				"vf":      fmt.Sprintf("scale=%s:force_original_aspect_ratio=decrease", thumbnailResolution),
			}).
			OverWriteOutput().WithErrorOutput(&stderr).Run()
		if err != nil {
			return struct{}{}, fmt.Errorf("extracting thumbnail [%s]: %w", stderr.String(), err)
		}
		defer os.Remove(out)

		data, err := os.ReadFile(out)
		if err != nil {
			return struct{}{}, fmt.Errorf("reading extracted thumbnail: %w", err)
		}
		return struct{}{}, t.Storage.PutBytes(ctx, key, data, "image/jpeg")
	})
	return err
}
