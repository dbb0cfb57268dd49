package config

// Cli holds every flag/env tunable named in spec.md §6. Populated by
// ff.Parse with ff.WithEnvVarPrefix("") in cmd/worker/main.go, so each field
// doubles as the literal environment variable name below.
type Cli struct {
	Port int // PORT

	// Concurrency
	MaxConcurrentJobs int  // MAX_CONCURRENT_JOBS
	EffectiveCPUCores int  // EFFECTIVE_CPU_CORES
	GreedyPerJob      bool // GREEDY_PER_JOB
	DiskConcurrency   int  // DISK_CONCURRENCY
	S3UploadConcurrency int // S3_UPLOAD_CONCURRENCY
	HTTPConcurrency   int  // HTTP_CONCURRENCY
	DBMaxInFlight     int  // DB_MAX_INFLIGHT
	YTDLPConnections  int  // YTDLP_CONNECTIONS
	FFmpegThreads     int  // FFMPEG_THREADS

	// Transfer tuning
	S3UploadPartSizeMB    int64 // S3_UPLOAD_PART_SIZE_MB
	S3UploadQueueSize     int   // S3_UPLOAD_QUEUE_SIZE
	S3DownloadPartSizeMB  int64 // S3_DOWNLOAD_PART_SIZE_MB
	S3DownloadConcurrency int   // S3_DOWNLOAD_CONCURRENCY

	// Retry
	RetryAttempts              int // RETRY_ATTEMPTS
	RetryBaseDelayMS           int // RETRY_BASE_DELAY_MS
	RDSUpdateValidateRetries   int // RDS_UPDATE_VALIDATE_RETRIES
	RDSUpdateValidateBaseDelayMS int // RDS_UPDATE_VALIDATE_BASE_DELAY_MS
	RDSConnectionTimeoutMS    int // RDS_CONNECTION_TIMEOUT

	// Queue
	PollingIntervalMS         int // POLLING_INTERVAL_MS
	VisibilityExtendIntervalS int // VISIBILITY_EXTEND_INTERVAL_S
	VisibilityExtendDeltaS    int // VISIBILITY_EXTEND_DELTA_S
	SpotRequeueVisibilityS    int // SPOT_REQUEUE_VISIBILITY_SECONDS
	ShutdownGraceMS           int // SHUTDOWN_GRACE_MS
	QueueURL                  string // QUEUE_URL

	// Capacity
	FargateCapacity string // FARGATE_CAPACITY

	// Integrations
	S3ArtifactBucket     string // S3_ARTIFACT_BUCKET
	S3Region             string // S3_REGION
	S3KeyPrefix          string // S3_KEY_PREFIX
	CatalogDSN           string // CATALOG_DSN
	MetricsNamespace     string // METRICS_NAMESPACE
	MetricsEnabled       bool   // METRICS_ENABLED
	DownloaderCookiePath string // DOWNLOADER_COOKIES_PATH
	ExtractorHelperURL   string // EXTRACTOR_HELPER_URL
	YTDLPPath            string // YTDLP_PATH
	FFmpegPath           string // FFMPEG_PATH
	FFprobePath          string // FFPROBE_PATH
	PreferredAudioFormat string // PREFERRED_AUDIO_FORMAT

	// Enrichment
	AnthropicAPIKey string // ANTHROPIC_API_KEY
	EnrichmentModel string // ENRICHMENT_MODEL

	// Validator
	ValidatorToleranceSeconds float64 // VALIDATOR_DURATION_TOLERANCE_SECONDS
}
