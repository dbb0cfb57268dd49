package pipeline

import (
	"sync"
	"time"

	"github.com/openpodcast/episode-ingest-worker/clients"
)

// JobStatus is the pipeline state machine of §4.7.
type JobStatus string

const (
	StatusPending            JobStatus = "pending"
	StatusFetchingMetadata   JobStatus = "fetching-metadata"
	StatusExtractingGuests   JobStatus = "extracting-guests"
	StatusDownloading        JobStatus = "downloading"
	StatusMerging            JobStatus = "merging"
	StatusUploading          JobStatus = "uploading"
	StatusTranscoding        JobStatus = "transcoding"
	StatusCompleted          JobStatus = "completed"
	StatusError              JobStatus = "error"
)

// LegProgress is the advisory per-leg progress snapshot of §3.
type LegProgress struct {
	Percent float64
	ETA     time.Duration
	Speed   string
	Raw     string
}

// JobInfo is the work unit of §3: created on ingest, mutated only by its
// owning pipeline invocation, destroyed on completion or process exit.
// Grounded on pipeline/coordinator.go's JobInfo (mutex-guarded, goroutine-
// per-job) generalized from Mist-trigger fields to this domain's fields.
type JobInfo struct {
	mu sync.Mutex

	ID          string
	SourceURL   string
	EpisodeID   string // caller-supplied or allocated once known
	Status      JobStatus
	ErrorText   string
	StartedAt   time.Time
	UpdatedAt   time.Time

	Progress map[string]LegProgress // keyed by leg: "audio", "video", "merged"

	Metadata        clients.VideoMetadata
	ReceiptHandle   string
	ReprocessMode   bool
	TempDir         string
}

func NewJobInfo(id, sourceURL, receiptHandle string) *JobInfo {
	now := time.Now()
	return &JobInfo{
		ID:            id,
		SourceURL:     sourceURL,
		ReceiptHandle: receiptHandle,
		Status:        StatusPending,
		StartedAt:     now,
		UpdatedAt:     now,
		Progress:      map[string]LegProgress{},
	}
}

func (j *JobInfo) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.UpdatedAt = time.Now()
}

func (j *JobInfo) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusError
	j.ErrorText = err.Error()
	j.UpdatedAt = time.Now()
}

func (j *JobInfo) SetProgress(leg string, p LegProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress[leg] = p
	j.UpdatedAt = time.Now()
}

func (j *JobInfo) Snapshot() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress := make(map[string]LegProgress, len(j.Progress))
	for k, v := range j.Progress {
		progress[k] = v
	}
	return JobInfo{
		ID:        j.ID,
		SourceURL: j.SourceURL,
		EpisodeID: j.EpisodeID,
		Status:    j.Status,
		ErrorText: j.ErrorText,
		StartedAt: j.StartedAt,
		UpdatedAt: j.UpdatedAt,
		Progress:  progress,
		Metadata:  j.Metadata,
	}
}

// JobTracker bounds in-flight pipeline invocations (§4.6): a map from job
// id to start time, with a max-concurrency cap.
type JobTracker struct {
	mu            sync.Mutex
	active        map[string]time.Time
	maxConcurrent int
}

func NewJobTracker(maxConcurrent int) *JobTracker {
	return &JobTracker{active: map[string]time.Time{}, maxConcurrent: maxConcurrent}
}

// StartJob registers id as active if there is capacity, returning false
// if the tracker is already at maxConcurrent.
func (t *JobTracker) StartJob(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.active) >= t.maxConcurrent {
		return false
	}
	t.active[id] = time.Now()
	return true
}

func (t *JobTracker) CompleteJob(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

func (t *JobTracker) CanAcceptMoreJobs() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) < t.maxConcurrent
}

func (t *JobTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ActiveIDs returns a snapshot of currently tracked job ids, used when
// draining in-flight work on preemptible-capacity shutdown (§4.10).
func (t *JobTracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	return ids
}
