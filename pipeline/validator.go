package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	m3u8 "github.com/grafov/m3u8"

	"github.com/openpodcast/episode-ingest-worker/catalog"
	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/openpodcast/episode-ingest-worker/metrics"
)

// requiredAdditionalDataKeys are asserted present in batch mode (§4.8).
var requiredAdditionalDataKeys = []string{
	catalog.KeyVideoLocation,
	catalog.KeyMasterM3U8,
}

// ValidationResult is the per-job or per-row audit outcome.
type ValidationResult struct {
	EpisodeID string
	Errors    []string
	Warnings  []string
}

func (r ValidationResult) Failed() bool { return len(r.Errors) > 0 }

// Validator runs the post-pipeline integrity checks of §4.8, both
// per-job (after each completion) and in batch (periodic sweep).
type Validator struct {
	Catalog          Catalog
	Storage          *clients.ObjectStore
	ToleranceSeconds float64
}

// Catalog is the subset of clients.Catalog the validator needs; declared
// as an interface here so tests can stub it without a real database.
type Catalog interface {
	GetEpisode(ctx context.Context, id string) (*catalog.EpisodeRecord, error)
}

func NewValidator(cat *clients.Catalog, storage *clients.ObjectStore, toleranceSeconds float64) *Validator {
	return &Validator{Catalog: cat, Storage: storage, ToleranceSeconds: toleranceSeconds}
}

// ValidateEpisode runs the per-job checks of §4.8 for one episode.
func (v *Validator) ValidateEpisode(ctx context.Context, episodeID string) ValidationResult {
	result := ValidationResult{EpisodeID: episodeID}

	rec, err := v.Catalog.GetEpisode(ctx, episodeID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetching episode: %s", err))
		return result
	}
	if rec == nil {
		result.Errors = append(result.Errors, "episode row not found")
		return result
	}

	if !rec.ProcessingDone {
		result.Errors = append(result.Errors, "processingDone is false")
	}
	if rec.ContentType != "Video" {
		result.Errors = append(result.Errors, fmt.Sprintf("contentType is %q, want Video", rec.ContentType))
	}

	videoLocation, hasVideo := rec.AdditionalData.GetString(catalog.KeyVideoLocation)
	masterM3U8, hasMaster := rec.AdditionalData.GetString(catalog.KeyMasterM3U8)
	if !hasVideo {
		result.Errors = append(result.Errors, "additionalData.videoLocation missing")
	}
	if !hasMaster {
		result.Errors = append(result.Errors, "additionalData.master_m3u8 missing")
	}

	if hasVideo {
		v.checkURLExists(ctx, &result, "videoLocation", videoLocation)
	}
	if hasMaster {
		v.checkMasterPlaylist(ctx, &result, masterM3U8, rec.DurationMillis)
	}

	v.emitMetrics(result)
	return result
}

func (v *Validator) checkURLExists(ctx context.Context, result *ValidationResult, field, rawURL string) {
	key := keyFromPublicURL(rawURL)
	if key == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: could not derive object key from URL", field))
		return
	}
	exists, err := v.Storage.Exists(ctx, key)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: checking existence: %s", field, err))
		return
	}
	if !exists {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: object does not exist at %s", field, rawURL))
	}
}

// checkMasterPlaylist fetches master.m3u8 and asserts it contains at
// least one #EXT-X-STREAM-INF line; optionally sums the highest-bandwidth
// variant's #EXTINF durations against the episode's recorded duration.
func (v *Validator) checkMasterPlaylist(ctx context.Context, result *ValidationResult, masterURL string, durationMillis int64) {
	key := keyFromPublicURL(masterURL)
	if key == "" {
		result.Warnings = append(result.Warnings, "master_m3u8: could not derive object key from URL")
		return
	}
	data, err := v.Storage.Get(ctx, key)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("master_m3u8: fetching: %s", err))
		return
	}
	body := string(data)
	if !hasStreamVariants(body) {
		result.Errors = append(result.Errors, "master_m3u8: no #EXT-X-STREAM-INF entries")
		return
	}

	variant := highestBandwidthVariant(body, key)
	if variant == "" {
		result.Warnings = append(result.Warnings, "master_m3u8: could not resolve a variant playlist path")
		return
	}
	variantData, err := v.Storage.Get(ctx, variant)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("variant playlist: fetching: %s", err))
		return
	}
	sum := sumExtinf(string(variantData))
	want := float64(durationMillis) / 1000.0
	if durationMillis > 0 && diff(sum, want) > v.tolerance() {
		result.Errors = append(result.Errors, fmt.Sprintf("variant duration %.1fs differs from episode duration %.1fs by more than %.1fs", sum, want, v.tolerance()))
	}
}

func (v *Validator) tolerance() float64 {
	if v.ToleranceSeconds > 0 {
		return v.ToleranceSeconds
	}
	return 2.0
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// hasStreamVariants reports whether body decodes as a master playlist with
// at least one variant stream.
func hasStreamVariants(body string) bool {
	master, ok := decodeMasterPlaylist(body)
	if !ok {
		return false
	}
	for _, variant := range master.Variants {
		if variant != nil {
			return true
		}
	}
	return false
}

func decodeMasterPlaylist(body string) (*m3u8.MasterPlaylist, bool) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil || listType != m3u8.MASTER {
		return nil, false
	}
	master, ok := playlist.(*m3u8.MasterPlaylist)
	return master, ok
}

func highestBandwidthVariant(masterBody, masterKey string) string {
	master, ok := decodeMasterPlaylist(masterBody)
	if !ok {
		return ""
	}
	var bestBandwidth uint32
	bestPath := ""
	found := false
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		if !found || variant.Bandwidth > bestBandwidth {
			bestBandwidth = variant.Bandwidth
			bestPath = variant.URI
			found = true
		}
	}
	if bestPath == "" {
		return ""
	}
	return joinRelative(masterKey, bestPath)
}

func joinRelative(baseKey, relative string) string {
	idx := strings.LastIndex(baseKey, "/")
	if idx < 0 {
		return relative
	}
	return baseKey[:idx+1] + relative
}

func sumExtinf(playlist string) float64 {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(playlist), false)
	if err != nil || listType != m3u8.MEDIA {
		return 0
	}
	media, ok := p.(*m3u8.MediaPlaylist)
	if !ok {
		return 0
	}
	var sum float64
	for _, segment := range media.Segments {
		if segment == nil {
			continue
		}
		sum += segment.Duration
	}
	return sum
}

func keyFromPublicURL(rawURL string) string {
	idx := strings.Index(rawURL, ".amazonaws.com/")
	if idx < 0 {
		return ""
	}
	return rawURL[idx+len(".amazonaws.com/"):]
}

func (v *Validator) emitMetrics(result ValidationResult) {
	metrics.Metrics.IntegrityScanTotal.Inc()
	if result.Failed() {
		metrics.Metrics.IntegrityScanFailed.Set(1)
	} else {
		metrics.Metrics.IntegrityScanFailed.Set(0)
	}
	metrics.Metrics.IntegrityScanErrors.Add(float64(len(result.Errors)))
	metrics.Metrics.IntegrityScanWarnings.Add(float64(len(result.Warnings)))
}

// RunBatch validates every row created after cutoff (§4.8 batch mode),
// additionally requiring durationMillis > 0 and every required
// additionalData key present.
func (v *Validator) RunBatch(ctx context.Context, rows []catalog.EpisodeRecord) []ValidationResult {
	results := make([]ValidationResult, 0, len(rows))
	for _, row := range rows {
		result := v.ValidateEpisode(ctx, row.EpisodeID)
		if row.DurationMillis <= 0 {
			result.Errors = append(result.Errors, "durationMillis is not positive")
		}
		if row.HasMasterManifest() && !row.HasVideoLocation() {
			result.Errors = append(result.Errors, "MASTER_WITHOUT_VIDEO violation")
		}
		for _, key := range requiredAdditionalDataKeys {
			if _, ok := row.AdditionalData.GetString(key); !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("required additionalData key %q missing", key))
			}
		}
		results = append(results, result)
	}
	return results
}

// RunBatchPeriodically runs RunBatch on a ticker; intended to be launched
// as a goroutine from cmd/worker/main.go.
func (v *Validator) RunBatchPeriodically(ctx context.Context, interval time.Duration, fetch func(ctx context.Context) ([]catalog.EpisodeRecord, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := fetch(ctx)
			if err != nil {
				log.LogNoRequestID("batch validator fetch failed", "err", err)
				continue
			}
			v.RunBatch(ctx, rows)
		}
	}
}
