package clients

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
	xerrors "github.com/openpodcast/episode-ingest-worker/errors"
	"github.com/openpodcast/episode-ingest-worker/log"
)

// VideoMetadata is the normalized descriptor of §3, produced once by
// fetchMetadata and treated as immutable thereafter.
type VideoMetadata struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Uploader    string    `json:"uploader"`
	Description string    `json:"description"`
	DurationSec float64   `json:"duration"`
	PublishedAt time.Time `json:"published_at"`
	Thumbnail   string    `json:"thumbnail"`
	ViewCount   int64     `json:"view_count"`
	LikeCount   int64     `json:"like_count"`
	UploadDate  string    `json:"upload_date"`
	OriginalURL string    `json:"original_url"`
	Height      int64     `json:"height"`
}

// rawYTDLPMetadata mirrors the subset of yt-dlp's --dump-json output this
// adapter cares about; unknown fields are ignored by encoding/json.
type rawYTDLPMetadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	Channel     string  `json:"channel"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	UploadDate  string  `json:"upload_date"`
	Thumbnail   string  `json:"thumbnail"`
	ViewCount   int64   `json:"view_count"`
	LikeCount   int64   `json:"like_count"`
	WebpageURL  string  `json:"webpage_url"`
	Height      int64   `json:"height"`
}

// fatalDownloaderSignatures are stderr fragments that indicate global,
// not per-job, breakage (§4.2, §4.10): extractor breakage or a cookie-stale
// 403. Any job hitting these escalates to drainAndExit rather than simply
// erroring the one job.
var fatalDownloaderSignatures = []string{
	"Unable to extract",
	"HTTP Error 403: Forbidden",
	"giving up after",
}

// progressLineRegexp matches yt-dlp's default `--newline` progress format:
// "[download]  42.0% of 10.00MiB at 1.20MiB/s ETA 00:07"
var progressLineRegexp = regexp.MustCompile(`\[download\]\s+([\d.]+)% of\s+\S+\s+at\s+(\S+)\s+ETA\s+(\S+)`)

// Downloader wraps the co-located yt-dlp-compatible binary (§4.2).
type Downloader struct {
	BinaryPath      string
	CookiesPath     string
	PluginDir       string
	ExtractorArgs   string
	Connections     int
	PreferredAudio  []string // format preference chain, e.g. [mp3 m4a aac opus]
}

func NewDownloader(binaryPath string) *Downloader {
	return &Downloader{
		BinaryPath:     binaryPath,
		PreferredAudio: []string{"mp3", "m4a", "aac", "opus"},
	}
}

func (d *Downloader) binary() string {
	if d.BinaryPath == "" {
		return "yt-dlp"
	}
	return d.BinaryPath
}

func (d *Downloader) baseArgs() []string {
	var args []string
	if d.CookiesPath != "" {
		args = append(args, "--cookies", d.CookiesPath)
	}
	if d.PluginDir != "" {
		args = append(args, "--plugin-dirs", d.PluginDir)
	}
	if d.ExtractorArgs != "" {
		args = append(args, "--extractor-args", d.ExtractorArgs)
	}
	return args
}

// FetchMetadata runs the binary with --dump-json (§4.2). Wrapped in
// WithStep("metadata_fetch") and WithRetry for transient failures; a
// fatal-signature stderr escalates via FatalDownloaderError instead of
// being retried.
func (d *Downloader) FetchMetadata(ctx context.Context, requestID, url string) (VideoMetadata, error) {
	return concurrency.WithStep("metadata_fetch", func() (VideoMetadata, error) {
		return concurrency.WithRetry(func() (VideoMetadata, error) {
			args := append(d.baseArgs(), "--dump-json", "--no-playlist", url)
			stdout, stderr, err := d.exec(ctx, args...)
			if err != nil {
				if fatal := matchFatalSignature(stderr); fatal != "" {
					return VideoMetadata{}, xerrors.NewFatalDownloaderError(fatal)
				}
				return VideoMetadata{}, fmt.Errorf("metadata fetch failed [%s]: %w", stderr, err)
			}

			var raw rawYTDLPMetadata
			if jsonErr := json.Unmarshal([]byte(stdout), &raw); jsonErr != nil {
				return VideoMetadata{}, fmt.Errorf("MetadataError: failed to parse metadata JSON: %w", jsonErr)
			}
			return toVideoMetadata(raw), nil
		}, concurrency.RetryOptions{IsRetryable: func(err error) bool {
			return !xerrors.IsFatalDownloaderError(err)
		}})
	})
}

func toVideoMetadata(raw rawYTDLPMetadata) VideoMetadata {
	uploader := raw.Uploader
	if uploader == "" {
		uploader = raw.Channel
	}
	var published time.Time
	if len(raw.UploadDate) == 8 {
		if t, err := time.Parse("20060102", raw.UploadDate); err == nil {
			published = t
		}
	}
	return VideoMetadata{
		ID:          raw.ID,
		Title:       raw.Title,
		Uploader:    uploader,
		Description: raw.Description,
		DurationSec: raw.Duration,
		PublishedAt: published,
		Thumbnail:   raw.Thumbnail,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
		UploadDate:  raw.UploadDate,
		OriginalURL: raw.WebpageURL,
		Height:      raw.Height,
	}
}

// OnProgress is the advisory progress callback of §4.2/§9: never mutates
// catalog state, safe to ignore.
type OnProgress func(stage string, percent float64, eta time.Duration, speed, raw string)

// DownloadAudio selects an audio-only format per the preferred-format
// chain and writes under outDir/audio.<ext>.
func (d *Downloader) DownloadAudio(ctx context.Context, requestID, url, outDir string, onProgress OnProgress) (string, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.Disk, func() (string, error) {
		return concurrency.WithStep("download_audio", func() (string, error) {
			outTemplate := filepath.Join(outDir, "audio.%(ext)s")
			format := strings.Join(d.PreferredAudio, "/")
			args := append(d.baseArgs(),
				"-f", format,
				"--extract-audio",
				"-N", strconv.Itoa(d.connections()),
				"--newline",
				"-o", outTemplate,
				url,
			)
			return d.runWithProgress(ctx, requestID, "audio", outDir, "audio", args, onProgress)
		})
	})
}

// DownloadVideoNoAudio selects bestvideo[height<=maxHeight] with fallbacks.
func (d *Downloader) DownloadVideoNoAudio(ctx context.Context, requestID, url, outDir string, maxHeight int64, onProgress OnProgress) (string, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.Disk, func() (string, error) {
		return concurrency.WithStep("download_video", func() (string, error) {
			outTemplate := filepath.Join(outDir, "video.%(ext)s")
			format := fmt.Sprintf("bestvideo[height<=%d]/bestvideo/best[height<=%d]", maxHeight, maxHeight)
			args := append(d.baseArgs(),
				"-f", format,
				"-N", strconv.Itoa(d.connections()),
				"--newline",
				"-o", outTemplate,
				url,
			)
			return d.runWithProgress(ctx, requestID, "video", outDir, "video", args, onProgress)
		})
	})
}

// DownloadVideoWithAudio selects the best pre-muxed video+audio format, or
// falls back to bestvideo+bestaudio merged by yt-dlp itself, used by the
// existing-episode enrichment path where no separate mux step is needed.
func (d *Downloader) DownloadVideoWithAudio(ctx context.Context, requestID, url, outDir string, maxHeight int64, onProgress OnProgress) (string, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.Disk, func() (string, error) {
		return concurrency.WithStep("download_video_with_audio", func() (string, error) {
			outTemplate := filepath.Join(outDir, "merged.%(ext)s")
			format := fmt.Sprintf("best[height<=%d]/bestvideo[height<=%d]+bestaudio/best", maxHeight, maxHeight)
			args := append(d.baseArgs(),
				"-f", format,
				"--merge-output-format", "mp4",
				"-N", strconv.Itoa(d.connections()),
				"--newline",
				"-o", outTemplate,
				url,
			)
			return d.runWithProgress(ctx, requestID, "merged", outDir, "merged", args, onProgress)
		})
	})
}

func (d *Downloader) connections() int {
	if d.Connections > 0 {
		return d.Connections
	}
	return 4
}

// runWithProgress execs the binary, parsing --newline progress lines as
// they stream and forwarding them via onProgress, then resolves the
// actual output file written under outDir (yt-dlp appends/changes the
// extension depending on merge format so the template alone doesn't name it).
func (d *Downloader) runWithProgress(ctx context.Context, requestID, stage, outDir, baseName string, args []string, onProgress OnProgress) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting downloader: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onProgress != nil {
			if m := progressLineRegexp.FindStringSubmatch(line); m != nil {
				percent, _ := strconv.ParseFloat(m[1], 64)
				onProgress(stage, percent/100.0, 0, m[2], line)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if fatal := matchFatalSignature(stderr.String()); fatal != "" {
			return "", xerrors.NewFatalDownloaderError(fatal)
		}
		return "", fmt.Errorf("downloader exited non-zero [%s]: %w", stderr.String(), err)
	}

	return resolveDownloadedFile(outDir, baseName)
}

func resolveDownloadedFile(outDir, baseName string) (string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("reading output dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), baseName+".") {
			return filepath.Join(outDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("downloaded file for %q not found in %s", baseName, outDir)
}

// MuxAudioVideo invokes the transcoder in copy-mux mode (§4.2), grounded
// on video/transmux.go's MuxTStoMP4 ffmpeg-go usage (faststart, both
// streams copied without re-encoding, no bitstream filter), validating the
// output exists and is non-empty.
func (d *Downloader) MuxAudioVideo(ctx context.Context, videoPath, audioPath, outPath string) (string, error) {
	return concurrency.WithStep("mux", func() (string, error) {
		var ffmpegErr bytes.Buffer
		err := ffmpeg.Input(videoPath).
			Output(outPath, ffmpeg.KwArgs{
				"i":        audioPath,
				"movflags": "faststart",
				"c:v":      "copy",
				"c:a":      "copy",
				"shortest": "",
			}).
			OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
		if err != nil {
			return "", fmt.Errorf("mux failed [%s]: %w", ffmpegErr.String(), err)
		}
		info, err := os.Stat(outPath)
		if err != nil {
			return "", fmt.Errorf("mux output missing: %w", err)
		}
		if info.Size() == 0 {
			return "", fmt.Errorf("mux output is empty: %s", outPath)
		}
		return outPath, nil
	})
}

func (d *Downloader) exec(ctx context.Context, args ...string) (stdout string, stderr string, err error) {
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func matchFatalSignature(stderr string) string {
	for _, sig := range fatalDownloaderSignatures {
		if strings.Contains(stderr, sig) {
			log.LogNoRequestID("fatal downloader signature detected", "signature", sig)
			return sig
		}
	}
	return ""
}
