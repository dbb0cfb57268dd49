package config

import (
	"fmt"
	"time"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Somewhat arbitrary and conservative number of maximum jobs the poller will
// keep in flight at one time. Overridden by MAX_CONCURRENT_JOBS.
const DefaultMaxConcurrentJobs = 4

// The maximum allowed input file size
const MaxInputFileSizeBytes = 30 * 1024 * 1024 * 1024 // 30 GiB

// Concurrency kernel tunables. cmd/worker/main.go does not copy the parsed
// Cli values into these vars; it passes the resolved limits straight to
// concurrency.Configure. See concurrency.DefaultConcurrency.
var (
	DiskConcurrency       int
	IOConcurrency         int
	HTTPConcurrency       int
	DBMaxInFlight         int
	YTDLPConnections      int
	FFmpegThreads         int
	GreedyPerJob          = true
	EffectiveCPUCoresFlag int
)

// S3 transfer tuning
var (
	S3UploadPartSizeMB    int64 = 32
	S3UploadQueueSize     int   = 16
	S3DownloadPartSizeMB  int64 = 32
	S3DownloadConcurrency int
)

// Retry tuning
var (
	RetryAttempts              = 3
	RetryBaseDelay             = 500 * time.Millisecond
	RDSUpdateValidateRetries   = 3
	RDSUpdateValidateBaseDelay = 200 * time.Millisecond
	RDSConnectionTimeout       = 2000 * time.Millisecond
)

// Queue / poller tuning
var (
	PollingInterval          = 5000 * time.Millisecond
	VisibilityExtendInterval = 120 * time.Second
	VisibilityExtendDelta    = 900 * time.Second
	SpotRequeueVisibility    = 5 * time.Second
	ShutdownGrace            = 30 * time.Second
)

// CapacityMode is the process capacity mode, read once at startup from
// FARGATE_CAPACITY. See pipeline.ProtectionController.
type CapacityMode string

const (
	CapacityOnDemand    CapacityMode = "on_demand"
	CapacityPreemptible CapacityMode = "spot"
	CapacityUnknown     CapacityMode = "unknown"
)

func (m CapacityMode) Valid() bool {
	switch m {
	case CapacityOnDemand, CapacityPreemptible, CapacityUnknown:
		return true
	default:
		return false
	}
}

func ParseCapacityMode(s string) (CapacityMode, error) {
	if s == "" {
		return CapacityUnknown, nil
	}
	m := CapacityMode(s)
	if !m.Valid() {
		return CapacityUnknown, fmt.Errorf("invalid capacity mode %q", s)
	}
	return m, nil
}

// S3ArtifactBucket is the single bucket used for every artifact kind
// (audio/video/stream/image) -- Open Question #1 in SPEC_FULL.md resolves
// the source's two-bucket ambiguity in favor of one bucket.
var S3ArtifactBucket string
var S3Region = "us-east-1"
var S3KeyPrefix string

// ValidatorDurationToleranceSeconds bounds the validator's |hlsDuration -
// durationSeconds| check (P7).
var ValidatorDurationToleranceSeconds = 2.0
