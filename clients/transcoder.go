package clients

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	m3u8 "github.com/grafov/m3u8"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/openpodcast/episode-ingest-worker/video"
)

// audioEncoderAssertionSignature is the stderr fragment ffmpeg emits on the
// known "Assertion fifo_size" family of encoder aborts -- the only case
// §4.3 wants handled with a targeted retry rather than propagated.
const audioEncoderAssertionSignature = "Assertion"

// Transcoder runs the adaptive-bitrate ladder of §4.3 in one ffmpeg
// invocation, grounded on video/transmux.go's MuxTStoFMP4 raw exec.Command
// pattern (same flag family: hls_segment_type fmp4, single_file) generalized from a single-rendition dash/hls output
// to an N-rendition split-filter ladder with a master playlist.
type Transcoder struct {
	FFmpegThreads int
}

type TranscodeResult struct {
	OutputDir   string
	MasterM3U8  string
	Renditions  []RenditionOutput
}

type RenditionOutput struct {
	video.Rendition
	Dir         string
	PlaylistPath string
	MediaPath    string
}

// Transcode produces hls_output/ under workDir containing master.m3u8 and
// one subdirectory per rendition (§4.3). On an audio-encoder assertion it
// retries once with "-c:a copy".
func (t *Transcoder) Transcode(ctx context.Context, requestID, sourcePath, workDir string, topEdition int64, reporter *concurrency.Reporter) (*TranscodeResult, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.Disk, func() (*TranscodeResult, error) {
		return concurrency.WithStep("transcode", func() (*TranscodeResult, error) {
			outDir := filepath.Join(workDir, "hls_output")
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating hls_output dir: %w", err)
			}

			ladder := video.Ladder(topEdition)
			result, err := t.run(ctx, requestID, sourcePath, outDir, ladder, false)
			if err != nil && strings.Contains(err.Error(), audioEncoderAssertionSignature) {
				log.Log(requestID, "audio encoder assertion detected, retrying with -c:a copy")
				result, err = t.run(ctx, requestID, sourcePath, outDir, ladder, true)
			}
			if err != nil {
				return nil, err
			}

			if reporter != nil {
				reporter.Report("transcode", 1.0, 0, "", "")
			}
			return result, nil
		})
	})
}

func (t *Transcoder) run(ctx context.Context, requestID, sourcePath, outDir string, ladder []video.Rendition, audioCopy bool) (*TranscodeResult, error) {
	args := t.buildArgs(sourcePath, outDir, ladder, audioCopy)

	timeout, cancel := context.WithTimeout(ctx, 2*time.Hour)
	defer cancel()
	cmd := exec.CommandContext(timeout, "ffmpeg", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg ladder transcode failed [%s]: %w", stderr.String(), err)
	}

	renditions := make([]RenditionOutput, 0, len(ladder))
	for _, r := range ladder {
		dir := filepath.Join(outDir, r.Name())
		renditions = append(renditions, RenditionOutput{
			Rendition:    r,
			Dir:          dir,
			PlaylistPath: filepath.Join(dir, r.Name()+".m3u8"),
			MediaPath:    filepath.Join(dir, r.Name()+".mp4"),
		})
	}

	masterPath := filepath.Join(outDir, "master.m3u8")
	if _, err := os.Stat(masterPath); err != nil {
		log.Log(requestID, "master playlist missing after transcode, synthesizing", "path", masterPath)
		if err := synthesizeMasterPlaylist(masterPath, renditions); err != nil {
			return nil, fmt.Errorf("synthesizing fallback master playlist: %w", err)
		}
	}

	return &TranscodeResult{OutputDir: outDir, MasterM3U8: masterPath, Renditions: renditions}, nil
}

// buildArgs assembles a single ffmpeg command with one output per
// rendition: a filter_complex split scales N copies of the source, each
// feeding a per-rendition fMP4 single-file segmented HLS output sink.
func (t *Transcoder) buildArgs(sourcePath, outDir string, ladder []video.Rendition, audioCopy bool) []string {
	n := len(ladder)
	splitLabels := make([]string, n)
	for i := range splitLabels {
		splitLabels[i] = fmt.Sprintf("[v%d]", i)
	}
	filter := fmt.Sprintf("[0:v]split=%d%s", n, strings.Join(splitLabels, ""))
	var scaleFilters []string
	for i, r := range ladder {
		scaleFilters = append(scaleFilters, fmt.Sprintf("%s scale=-2:%d[v%dout]", splitLabels[i], r.Height, i))
	}
	filterComplex := filter + ";" + strings.Join(scaleFilters, ";")

	args := []string{"-y", "-i", sourcePath, "-filter_complex", filterComplex}
	if t.FFmpegThreads > 0 {
		args = append(args, "-threads", strconv.Itoa(t.FFmpegThreads))
	}

	audioCodec := []string{"-c:a", "aac", "-b:a", "96k", "-ar", "44100", "-ac", "2"}
	if audioCopy {
		audioCodec = []string{"-c:a", "copy"}
	}

	for i, r := range ladder {
		dir := filepath.Join(outDir, r.Name())
		_ = os.MkdirAll(dir, 0o755)

		args = append(args,
			"-map", fmt.Sprintf("[v%dout]", i),
			"-map", "0:a:0?",
			"-c:v", "libx264",
			"-b:v", fmt.Sprintf("%dk", r.Bitrate),
			"-x264-params", "keyint=48:min-keyint=48:scenecut=0",
		)
		args = append(args, audioCodec...)
		args = append(args,
			"-f", "hls",
			"-hls_time", "6",
			"-hls_playlist_type", "vod",
			"-hls_segment_type", "fmp4",
			"-hls_flags", "single_file",
			"-hls_fmp4_init_filename", r.Name()+"_init.mp4",
			filepath.Join(dir, r.Name()+".m3u8"),
		)
	}
	return args
}

// synthesizeMasterPlaylist builds a minimal master playlist from the
// present variant playlists when ffmpeg didn't emit one (§4.3 fallback).
func synthesizeMasterPlaylist(masterPath string, renditions []RenditionOutput) error {
	master := m3u8.NewMasterPlaylist()
	for _, r := range renditions {
		if _, err := os.Stat(r.PlaylistPath); err != nil {
			continue
		}
		width := int64(float64(r.Height) * (16.0 / 9.0))
		params := m3u8.VariantParams{
			Bandwidth:  uint32(r.Bitrate * 1000),
			Resolution: fmt.Sprintf("%dx%d", width, r.Height),
			Codecs:     "avc1.4d401f,mp4a.40.2",
		}
		if err := master.Append(fmt.Sprintf("%s/%s.m3u8", r.Name(), r.Name()), nil, params); err != nil {
			return fmt.Errorf("appending %s variant: %w", r.Name(), err)
		}
	}
	return os.WriteFile(masterPath, master.Encode().Bytes(), 0o644)
}
