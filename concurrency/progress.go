package concurrency

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is swappable in tests so progress-report throttling doesn't depend
// on wall time. Grounded on the teacher's progress.Clock (benbjohnson/clock).
var Clock = clock.New()

var progressReportBuckets = []float64{0, 0.25, 0.5, 0.75, 1}

const minProgressReportInterval = 10 * time.Second

// ProgressEvent is the typed progress channel of spec §9 design notes,
// replacing the teacher's callback-posting ProgressReporter. Consumers read
// from the channel and can ignore it without back-pressure: Reporter drops
// events rather than blocking when nobody is listening.
type ProgressEvent struct {
	Stage   string
	Percent float64
	ETA     time.Duration
	Speed   string
	Raw     string
}

// Reporter throttles raw progress callbacks from the downloader/transcoder
// adapters down to at most one event per quartile-crossing or every
// minProgressReportInterval, whichever comes first, and forwards them on a
// buffered channel a job's consumers can select on.
type Reporter struct {
	mu           sync.Mutex
	events       chan ProgressEvent
	lastReport   time.Time
	lastProgress float64
	stage        string
}

func NewReporter() *Reporter {
	return &Reporter{
		events: make(chan ProgressEvent, 16),
	}
}

func (r *Reporter) Events() <-chan ProgressEvent {
	return r.events
}

func (r *Reporter) Close() {
	close(r.events)
}

// Report is the onProgress callback signature used by the downloader and
// transcoder adapters (§4.2). It is advisory only and never mutates catalog
// state.
func (r *Reporter) Report(stage string, percent float64, eta time.Duration, speed, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if percent < r.lastProgress && stage == r.stage {
		// non-monotonic within the same stage; ignore rather than error,
		// progress is advisory only.
		return
	}
	if stage != r.stage {
		r.stage = stage
		r.lastProgress = 0
		r.lastReport = time.Time{}
	}
	if !shouldReportProgress(percent, r.lastProgress, r.lastReport) {
		return
	}
	r.lastProgress = percent
	r.lastReport = Clock.Now()

	ev := ProgressEvent{Stage: stage, Percent: percent, ETA: eta, Speed: speed, Raw: raw}
	select {
	case r.events <- ev:
	default:
		// consumer isn't keeping up; drop rather than block the download.
	}
}

func shouldReportProgress(newP, oldP float64, lastReportedAt time.Time) bool {
	return progressBucket(newP) != progressBucket(oldP) || Clock.Since(lastReportedAt) >= minProgressReportInterval
}

func progressBucket(progress float64) int {
	return sort.SearchFloat64s(progressReportBuckets, progress)
}
