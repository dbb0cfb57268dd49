package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpodcast/episode-ingest-worker/catalog"
	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/concurrency"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/openpodcast/episode-ingest-worker/metrics"
	"github.com/openpodcast/episode-ingest-worker/video"
)

// PipelineDeps bundles every external adapter the orchestrator drives.
// Grounded on pipeline/coordinator.go's Coordinator struct shape,
// generalized from Mist/mediaconvert clients to this domain's adapters.
type PipelineDeps struct {
	Downloader   *clients.Downloader
	Transcoder   *clients.Transcoder
	Storage      *clients.ObjectStore
	Catalog      *clients.Catalog
	Enrichment   *clients.Enrichment
	Validator    *Validator
	Protection   *ProtectionController
	Bucket       string
	Region       string
	KeyPrefix    string
	WorkDir      string
}

// Orchestrator runs the per-job state machine of §4.7.
type Orchestrator struct {
	Deps PipelineDeps
}

func NewOrchestrator(deps PipelineDeps) *Orchestrator {
	return &Orchestrator{Deps: deps}
}

// Run executes the full pipeline for a new-entry or legacy message. It
// always transitions to StatusCompleted or StatusError and always runs
// cleanup (step 11), regardless of which step failed.
func (o *Orchestrator) Run(ctx context.Context, job *JobInfo, msg clients.IngestMessage) {
	o.Deps.Protection.JobStarted()
	defer o.Deps.Protection.JobFinished()

	tempDir, err := os.MkdirTemp(filepath.Join(o.Deps.WorkDir, "temp"), fmt.Sprintf("%d_", time.Now().UnixNano()))
	if err != nil {
		job.SetError(fmt.Errorf("creating temp dir: %w", err))
		return
	}
	job.TempDir = tempDir
	defer o.cleanup(job.ID, tempDir)

	if err := o.run(ctx, job, msg); err != nil {
		job.SetError(err)
		status := job.Snapshot().Status
		metrics.StepFailure("pipeline", status.string())
		log.LogError(job.ID, "pipeline failed", err, "status", string(status))
		return
	}
	job.SetStatus(StatusCompleted)
	metrics.StepSuccess("pipeline")
}

func (o *Orchestrator) run(ctx context.Context, job *JobInfo, msg clients.IngestMessage) error {
	// Step 1: pending -> fetching-metadata
	job.SetStatus(StatusFetchingMetadata)
	meta, err := o.Deps.Downloader.FetchMetadata(ctx, job.ID, msg.OriginalURI)
	if err != nil {
		return fmt.Errorf("fetching metadata: %w", err)
	}
	job.Metadata = meta

	podcastSlug := video.Slug(firstNonEmpty(msg.ChannelName, meta.Uploader))
	episodeSlug := video.Slug(firstNonEmpty(msg.EpisodeTitle, meta.Title))

	// Step 2: fetching-metadata -> extracting-guests (optional, non-fatal)
	job.SetStatus(StatusExtractingGuests)
	var enrichResult clients.EnrichmentResult
	if o.Deps.Enrichment != nil {
		enrichResult, err = o.Deps.Enrichment.Enrich(ctx, job.ID, clients.EnrichmentInput{
			Title:       firstNonEmpty(msg.EpisodeTitle, meta.Title),
			Description: meta.Description,
			HostName:    msg.HostName,
			ChannelName: msg.ChannelName,
		})
		if err != nil {
			log.Log(job.ID, "enrichment failed, continuing without it", "err", err)
		}
	}

	// Step 4 (moved ahead of downloads per the short-circuit check): look
	// for an existing row by youtube id before doing any expensive work.
	existing, err := o.Deps.Catalog.FindByYoutubeVideoID(ctx, meta.ID)
	if err != nil {
		log.Log(job.ID, "lookup by youtube id failed, proceeding as new", "err", err)
	}
	if existing != nil && existing.ProcessingDone && existing.HasVideoLocation() && existing.HasMasterManifest() {
		job.EpisodeID = existing.EpisodeID
		return nil
	}

	reprocessing := existing != nil && existing.HasVideoLocation() && (!existing.HasMasterManifest() || !existing.ProcessingDone)
	job.ReprocessMode = reprocessing

	var mergedPath string
	var episode *catalog.EpisodeRecord

	if reprocessing {
		job.EpisodeID = existing.EpisodeID
		episode = existing
		job.SetStatus(StatusDownloading)
		videoLocation, _ := existing.AdditionalData.GetString(catalog.KeyVideoLocation)
		mergedPath = filepath.Join(job.TempDir, episodeSlug+".mp4")
		if err := o.downloadExistingSource(ctx, videoLocation, mergedPath); err != nil {
			return fmt.Errorf("downloading existing source for reprocessing: %w", err)
		}
	} else {
		// Step 3: extracting-guests -> downloading
		job.SetStatus(StatusDownloading)
		audioPath, videoPath, err := o.downloadAudioAndVideo(ctx, job, msg.OriginalURI, podcastSlug, episodeSlug, meta)
		if err != nil {
			return fmt.Errorf("downloading audio/video: %w", err)
		}

		episode, err = o.createOrFetchEpisode(ctx, msg, meta, podcastSlug, episodeSlug, enrichResult)
		if err != nil {
			return fmt.Errorf("creating episode row: %w", err)
		}
		job.EpisodeID = episode.EpisodeID

		// Step 5: downloading -> merging
		job.SetStatus(StatusMerging)
		mergedPath = filepath.Join(job.TempDir, episodeSlug+".mp4")
		if _, err := o.Deps.Downloader.MuxAudioVideo(ctx, videoPath, audioPath, mergedPath); err != nil {
			return fmt.Errorf("muxing audio and video: %w", err)
		}
		_ = os.Remove(videoPath)
		_ = os.Remove(audioPath)
	}

	// Step 6: merging -> uploading
	job.SetStatus(StatusUploading)
	videoKey := video.VideoKey(podcastSlug, episodeSlug, meta.Height)
	if err := o.uploadFile(ctx, mergedPath, videoKey.String()); err != nil {
		return fmt.Errorf("uploading merged video: %w", err)
	}
	videoLocation := video.PublicURL(o.Deps.Region, o.Deps.Bucket, o.Deps.KeyPrefix, videoKey.String())
	if _, err := o.Deps.Catalog.UpdateEpisode(ctx, episode.EpisodeID, catalog.EpisodePatch{
		AdditionalData: catalog.AdditionalData{catalog.KeyVideoLocation: videoLocation},
	}); err != nil {
		return fmt.Errorf("patching videoLocation: %w", err)
	}

	// Step 7: uploading -> transcoding
	job.SetStatus(StatusTranscoding)
	topEdition := video.TopEdition(meta.Height)
	transcodeResult, err := o.Deps.Transcoder.Transcode(ctx, job.ID, mergedPath, job.TempDir, topEdition, nil)
	if err != nil {
		return fmt.Errorf("transcoding: %w", err)
	}
	if err := o.uploadHLSTree(ctx, transcodeResult, podcastSlug, episodeSlug); err != nil {
		return fmt.Errorf("uploading hls output: %w", err)
	}
	masterKey := video.MasterManifestKey(podcastSlug, episodeSlug)
	masterURL := video.PublicURL(o.Deps.Region, o.Deps.Bucket, o.Deps.KeyPrefix, masterKey.String())
	processingDone := true
	isSynced := false
	if _, err := o.Deps.Catalog.UpdateEpisode(ctx, episode.EpisodeID, catalog.EpisodePatch{
		ProcessingDone: &processingDone,
		IsSynced:       &isSynced,
		AdditionalData: catalog.AdditionalData{catalog.KeyMasterM3U8: masterURL},
	}); err != nil {
		return fmt.Errorf("patching master_m3u8/processingDone: %w", err)
	}
	_ = os.Remove(mergedPath)
	_ = os.RemoveAll(transcodeResult.OutputDir)

	// Step 8: transcoding -> completed (validation failures are reported,
	// not fatal)
	if o.Deps.Validator != nil {
		result := o.Deps.Validator.ValidateEpisode(ctx, episode.EpisodeID)
		if result.Failed() {
			log.Log(job.ID, "post-pipeline validation failed", "errors", result.Errors)
		}
	}

	return nil
}

// RunExistingEpisode implements the simpler existing-episode enrichment
// path of §4.7: fetch metadata, download a merged video+audio file,
// upload it, and patch episodeUri onto the caller-owned row. No new
// catalog row is created and no transcode ladder runs.
func (o *Orchestrator) RunExistingEpisode(ctx context.Context, job *JobInfo, episodeID, videoURL string) {
	o.Deps.Protection.JobStarted()
	defer o.Deps.Protection.JobFinished()

	tempDir, err := os.MkdirTemp(filepath.Join(o.Deps.WorkDir, "temp"), fmt.Sprintf("existing_%d_", time.Now().UnixNano()))
	if err != nil {
		job.SetError(fmt.Errorf("creating temp dir: %w", err))
		return
	}
	job.TempDir = tempDir
	job.EpisodeID = episodeID
	defer o.cleanup(job.ID, tempDir)

	if err := o.runExistingEpisode(ctx, job, episodeID, videoURL); err != nil {
		job.SetError(err)
		status := job.Snapshot().Status
		metrics.StepFailure("pipeline_existing_episode", status.string())
		log.LogError(job.ID, "existing-episode pipeline failed", err, "status", string(status))
		return
	}
	job.SetStatus(StatusCompleted)
	metrics.StepSuccess("pipeline_existing_episode")
}

func (o *Orchestrator) runExistingEpisode(ctx context.Context, job *JobInfo, episodeID, videoURL string) error {
	job.SetStatus(StatusFetchingMetadata)
	meta, err := o.Deps.Downloader.FetchMetadata(ctx, job.ID, videoURL)
	if err != nil {
		return fmt.Errorf("fetching metadata: %w", err)
	}
	job.Metadata = meta

	maxHeight := int64(720)
	if meta.Height >= 1080 {
		maxHeight = 1080
	}

	job.SetStatus(StatusDownloading)
	mergedPath, err := o.Deps.Downloader.DownloadVideoWithAudio(ctx, job.ID, videoURL, job.TempDir, maxHeight, func(stage string, percent float64, eta time.Duration, speed, raw string) {
		job.SetProgress("merged", LegProgress{Percent: percent, ETA: eta, Speed: speed, Raw: raw})
	})
	if err != nil {
		return fmt.Errorf("downloading merged video: %w", err)
	}

	podcastSlug := video.Slug(firstNonEmpty(meta.Uploader))
	episodeSlug := video.Slug(firstNonEmpty(meta.Title))

	job.SetStatus(StatusUploading)
	videoKey := video.VideoKey(podcastSlug, episodeSlug, meta.Height)
	if err := o.uploadFile(ctx, mergedPath, videoKey.String()); err != nil {
		return fmt.Errorf("uploading merged video: %w", err)
	}
	episodeURI := video.PublicURL(o.Deps.Region, o.Deps.Bucket, o.Deps.KeyPrefix, videoKey.String())
	_ = os.Remove(mergedPath)

	if _, err := o.Deps.Catalog.UpdateEpisode(ctx, episodeID, catalog.EpisodePatch{
		EpisodeURI: &episodeURI,
	}); err != nil {
		return fmt.Errorf("patching episodeUri: %w", err)
	}
	return nil
}

// downloadAudioAndVideo runs Task A and Task B of step 3 concurrently
// under the disk semaphore, uploading audio as soon as it lands so the
// episodeUri is available even if the video leg is still running.
func (o *Orchestrator) downloadAudioAndVideo(ctx context.Context, job *JobInfo, url, podcastSlug, episodeSlug string, meta clients.VideoMetadata) (audioPath, videoPath string, err error) {
	group, gctx := errgroup.WithContext(ctx)
	maxHeight := int64(720)
	if meta.Height >= 1080 {
		maxHeight = 1080
	}

	group.Go(func() error {
		path, err := o.Deps.Downloader.DownloadAudio(gctx, job.ID, url, job.TempDir, func(stage string, percent float64, eta time.Duration, speed, raw string) {
			job.SetProgress("audio", LegProgress{Percent: percent, ETA: eta, Speed: speed, Raw: raw})
		})
		if err != nil {
			return err
		}
		audioPath = path
		audioKey := video.AudioKey(podcastSlug, episodeSlug)
		return o.uploadFile(gctx, path, audioKey.String())
	})

	group.Go(func() error {
		path, err := o.Deps.Downloader.DownloadVideoNoAudio(gctx, job.ID, url, job.TempDir, maxHeight, func(stage string, percent float64, eta time.Duration, speed, raw string) {
			job.SetProgress("video", LegProgress{Percent: percent, ETA: eta, Speed: speed, Raw: raw})
		})
		if err != nil {
			return err
		}
		videoPath = path
		return nil
	})

	if err := group.Wait(); err != nil {
		return "", "", err
	}
	return audioPath, videoPath, nil
}

func (o *Orchestrator) createOrFetchEpisode(ctx context.Context, msg clients.IngestMessage, meta clients.VideoMetadata, podcastSlug, episodeSlug string, enrich clients.EnrichmentResult) (*catalog.EpisodeRecord, error) {
	audioKey := video.AudioKey(podcastSlug, episodeSlug)
	episodeURI := video.PublicURL(o.Deps.Region, o.Deps.Bucket, o.Deps.KeyPrefix, audioKey.String())

	additionalData := catalog.AdditionalData{
		catalog.KeyYoutubeVideoID: meta.ID,
		catalog.KeyThumbnail:      meta.Thumbnail,
	}
	if len(enrich.GuestProvenance) > 0 {
		additionalData[catalog.KeyGuestEnrichment] = enrich.GuestProvenance
	}
	if len(enrich.TopicProvenance) > 0 {
		additionalData[catalog.KeyTopicEnrichment] = enrich.TopicProvenance
	}

	return o.Deps.Catalog.CreateEpisode(ctx, catalog.EpisodeRecord{
		EpisodeTitle:       firstNonEmpty(msg.EpisodeTitle, meta.Title),
		EpisodeDescription: meta.Description,
		ChannelName:        firstNonEmpty(msg.ChannelName, meta.Uploader),
		ChannelID:          msg.ChannelID,
		HostName:           msg.HostName,
		HostDescription:    msg.HostDescription,
		OriginalURI:        msg.OriginalURI,
		PublishedDate:      firstNonZeroTime(meta.PublishedAt),
		ContentType:        "Video",
		DurationMillis:     int64(meta.DurationSec * 1000),
		Country:            msg.Country,
		Genre:              msg.Genre,
		Guests:             enrich.Guests,
		GuestDescriptions:  enrich.GuestDescriptions,
		Topics:             enrich.Topics,
		AdditionalData:     additionalData,
		EpisodeURI:         episodeURI,
	})
}

func (o *Orchestrator) downloadExistingSource(ctx context.Context, videoLocation, dst string) error {
	key := keyFromPublicURL(videoLocation)
	if key == "" {
		return fmt.Errorf("could not derive object key from %q", videoLocation)
	}
	data, err := o.Deps.Storage.Get(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (o *Orchestrator) uploadFile(ctx context.Context, path, key string) error {
	_, err := concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() (struct{}, error) {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return struct{}{}, fmt.Errorf("reading %s: %w", path, readErr)
		}
		return struct{}{}, o.Deps.Storage.PutBytes(ctx, key, data, contentTypeForFile(path))
	})
	return err
}

func contentTypeForFile(path string) string {
	switch filepath.Ext(path) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func (o *Orchestrator) uploadHLSTree(ctx context.Context, result *clients.TranscodeResult, podcastSlug, episodeSlug string) error {
	return filepath.Walk(result.OutputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(result.OutputDir, path)
		if err != nil {
			return err
		}
		key := video.ArtifactKey{
			PodcastSlug: video.Slug(podcastSlug),
			EpisodeSlug: video.Slug(episodeSlug),
			Kind:        video.ArtifactVideoStream,
			Filename:    rel,
		}.String()
		return o.uploadFile(ctx, path, key)
	})
}

func (o *Orchestrator) cleanup(requestID, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Log(requestID, "cleanup: failed to remove temp dir", "dir", dir, "err", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func (s JobStatus) string() string { return string(s) }
