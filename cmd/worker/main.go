package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/peterbourgon/ff/v3"

	"github.com/openpodcast/episode-ingest-worker/cache"
	"github.com/openpodcast/episode-ingest-worker/catalog"
	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/concurrency"
	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/openpodcast/episode-ingest-worker/metrics"
	"github.com/openpodcast/episode-ingest-worker/pipeline"

	_ "github.com/lib/pq"
)

func main() {
	cli := parseCli()

	mode, err := config.ParseCapacityMode(cli.FargateCapacity)
	if err != nil {
		log.LogNoRequestID("invalid FARGATE_CAPACITY, defaulting to unknown", "err", err)
	}

	cores := concurrency.DetectEffectiveCores(cli.EffectiveCPUCores)
	diskLimit := orDefault(cli.DiskConcurrency, concurrency.DefaultConcurrency("cpu", cores))
	httpLimit := orDefault(cli.HTTPConcurrency, concurrency.DefaultConcurrency("io", cores))
	ioLimit := orDefault(cli.S3UploadConcurrency, concurrency.DefaultConcurrency("io", cores))
	dbLimit := orDefault(cli.DBMaxInFlight, concurrency.DefaultConcurrency("cpu", cores))
	concurrency.Configure(diskLimit, ioLimit, httpLimit, dbLimit)

	awsSess, err := session.NewSession(&aws.Config{Region: aws.String(orDefaultString(cli.S3Region, "us-east-1"))})
	if err != nil {
		log.LogNoRequestID("failed to create AWS session", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cli.CatalogDSN)
	if err != nil {
		log.LogNoRequestID("failed to open catalog database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	storage := clients.NewObjectStore(awsSess, cli.S3ArtifactBucket)
	catalogClient := clients.NewCatalog(db)
	if cli.RDSUpdateValidateRetries > 0 {
		catalogClient.UpdateValidateRetries = cli.RDSUpdateValidateRetries
	}
	if cli.RDSUpdateValidateBaseDelayMS > 0 {
		catalogClient.UpdateValidateBaseDelay = time.Duration(cli.RDSUpdateValidateBaseDelayMS) * time.Millisecond
	}

	downloader := clients.NewDownloader(cli.YTDLPPath)
	downloader.CookiesPath = cli.DownloaderCookiePath
	downloader.PluginDir = ""
	downloader.ExtractorArgs = ""
	if cli.YTDLPConnections > 0 {
		downloader.Connections = cli.YTDLPConnections
	}
	if cli.PreferredAudioFormat != "" {
		downloader.PreferredAudio = []string{cli.PreferredAudioFormat, "m4a", "aac", "opus"}
	}

	transcoder := &clients.Transcoder{FFmpegThreads: orDefault(cli.FFmpegThreads, cores)}

	enrichment := clients.NewEnrichment(cli.AnthropicAPIKey, cli.EnrichmentModel)

	validator := pipeline.NewValidator(catalogClient, storage, orDefaultFloat(cli.ValidatorToleranceSeconds, config.ValidatorDurationToleranceSeconds))

	protectionBackend := clients.NewECSTaskProtectionBackend("")
	protection := pipeline.NewProtectionController(mode, protectionBackend)

	workDir := orDefaultString(os.Getenv("WORKER_WORKDIR"), "/tmp/episode-ingest-worker")
	if err := os.MkdirAll(filepath.Join(workDir, "temp"), 0o755); err != nil {
		log.LogNoRequestID("failed to create work dir", "err", err, "dir", workDir)
		os.Exit(1)
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.PipelineDeps{
		Downloader: downloader,
		Transcoder: transcoder,
		Storage:    storage,
		Catalog:    catalogClient,
		Enrichment: enrichment,
		Validator:  validator,
		Protection: protection,
		Bucket:     cli.S3ArtifactBucket,
		Region:     orDefaultString(cli.S3Region, "us-east-1"),
		KeyPrefix:  cli.S3KeyPrefix,
		WorkDir:    workDir,
	})

	tracker := pipeline.NewJobTracker(orDefault(cli.MaxConcurrentJobs, config.DefaultMaxConcurrentJobs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cli.QueueURL != "" {
		queue := clients.NewQueue(awsSess, cli.QueueURL)
		poller := newPollerFromCli(queue, orchestrator, tracker, mode, cli)
		go poller.Run(ctx)
	} else {
		log.LogNoRequestID("QUEUE_URL not set, poller disabled; serving HTTP only")
	}

	go validator.RunBatchPeriodically(ctx, 15*time.Minute, func(ctx context.Context) ([]catalog.EpisodeRecord, error) {
		return catalogClient.ListRecentEpisodes(ctx, time.Now().Add(-24*time.Hour))
	})

	if cli.MetricsEnabled {
		go func() {
			if err := metrics.ListenAndServe(promPort(cli.Port)); err != nil {
				log.LogNoRequestID("metrics server exited", "err", err)
			}
		}()
	}

	server := &Server{
		BaseCtx:      ctx,
		Orchestrator: orchestrator,
		Tracker:      tracker,
		Protection:   protection,
		Mode:         mode,
		Jobs:         cache.New[*pipeline.JobInfo](),
	}
	router := NewRouter(server)

	listen := fmt.Sprintf("0.0.0.0:%d", cli.Port)
	httpServer := &http.Server{Addr: listen, Handler: router}

	go func() {
		log.LogNoRequestID("starting episode ingest worker", "listen", listen, "capacityMode", string(mode))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogNoRequestID("http server exited", "err", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, httpServer *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	log.LogNoRequestID("received shutdown signal, draining")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func parseCli() *config.Cli {
	cli := &config.Cli{}
	fs := newFlagSet(cli)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("")); err != nil {
		log.LogNoRequestID("failed to parse flags", "err", err)
		os.Exit(1)
	}
	return cli
}

// newFlagSet registers every config.Cli field as a flag so ff.Parse can
// populate it from either the flag or its matching uppercase env var,
// grounded on the teacher's fs.*Var wiring in main.go.
func newFlagSet(cli *config.Cli) *flag.FlagSet {
	fs := flag.NewFlagSet("episode-ingest-worker", flag.ExitOnError)

	fs.IntVar(&cli.Port, "port", 8080, "HTTP listen port")

	fs.IntVar(&cli.MaxConcurrentJobs, "max-concurrent-jobs", config.DefaultMaxConcurrentJobs, "Maximum number of jobs processed concurrently")
	fs.IntVar(&cli.EffectiveCPUCores, "effective-cpu-cores", 0, "Effective CPU cores, used when no container CPU limit is found (0 = OS core count)")
	fs.BoolVar(&cli.GreedyPerJob, "greedy-per-job", true, "Allow a single job to use the full concurrency budget")
	fs.IntVar(&cli.DiskConcurrency, "disk-concurrency", 0, "Concurrent disk-bound operations (0 = derived from cores)")
	fs.IntVar(&cli.S3UploadConcurrency, "s3-upload-concurrency", 0, "Concurrent S3 upload operations (0 = derived from cores)")
	fs.IntVar(&cli.HTTPConcurrency, "http-concurrency", 0, "Concurrent outbound HTTP calls (0 = derived from cores)")
	fs.IntVar(&cli.DBMaxInFlight, "db-max-inflight", 0, "Concurrent catalog DB operations (0 = derived from cores)")
	fs.IntVar(&cli.YTDLPConnections, "ytdlp-connections", 4, "yt-dlp -N connections per fragment download")
	fs.IntVar(&cli.FFmpegThreads, "ffmpeg-threads", 0, "ffmpeg -threads per encode (0 = effective core count)")

	fs.Int64Var(&cli.S3UploadPartSizeMB, "s3-upload-part-size-mb", 16, "S3 multipart upload part size in MB")
	fs.IntVar(&cli.S3UploadQueueSize, "s3-upload-queue-size", 4, "S3 uploader concurrent part queue size")
	fs.Int64Var(&cli.S3DownloadPartSizeMB, "s3-download-part-size-mb", 16, "S3 download part size in MB")
	fs.IntVar(&cli.S3DownloadConcurrency, "s3-download-concurrency", 4, "S3 downloader concurrent parts")

	fs.IntVar(&cli.RetryAttempts, "retry-attempts", config.RetryAttempts, "Default retry attempts for transient client failures")
	fs.IntVar(&cli.RetryBaseDelayMS, "retry-base-delay-ms", int(config.RetryBaseDelay.Milliseconds()), "Base delay in ms for exponential retry backoff")
	fs.IntVar(&cli.RDSUpdateValidateRetries, "rds-update-validate-retries", config.RDSUpdateValidateRetries, "Retries for the read-after-write catalog update validation")
	fs.IntVar(&cli.RDSUpdateValidateBaseDelayMS, "rds-update-validate-base-delay-ms", int(config.RDSUpdateValidateBaseDelay.Milliseconds()), "Base delay in ms between catalog update validation attempts")
	fs.IntVar(&cli.RDSConnectionTimeoutMS, "rds-connection-timeout", int(config.RDSConnectionTimeout.Milliseconds()), "Catalog DB connection timeout in ms")

	fs.IntVar(&cli.PollingIntervalMS, "polling-interval-ms", int(config.PollingInterval.Milliseconds()), "SQS long-poll interval in ms between drain-loop iterations")
	fs.IntVar(&cli.VisibilityExtendIntervalS, "visibility-extend-interval-s", int(config.VisibilityExtendInterval.Seconds()), "How often an in-flight job extends its message visibility")
	fs.IntVar(&cli.VisibilityExtendDeltaS, "visibility-extend-delta-s", int(config.VisibilityExtendDelta.Seconds()), "Seconds added to message visibility on each extension")
	fs.IntVar(&cli.SpotRequeueVisibilityS, "spot-requeue-visibility-seconds", int(config.SpotRequeueVisibility.Seconds()), "Visibility timeout set on messages requeued during a spot interruption")
	fs.IntVar(&cli.ShutdownGraceMS, "shutdown-grace-ms", int(config.ShutdownGrace.Milliseconds()), "Grace period in ms to drain in-flight jobs on shutdown")
	fs.StringVar(&cli.QueueURL, "queue-url", "", "SQS queue URL to poll for ingest messages")

	fs.StringVar(&cli.FargateCapacity, "fargate-capacity", string(config.CapacityOnDemand), "Capacity mode: on_demand, spot, or unknown")

	fs.StringVar(&cli.S3ArtifactBucket, "s3-artifact-bucket", "", "S3 bucket that stores encoded renditions and thumbnails")
	fs.StringVar(&cli.S3Region, "s3-region", "us-east-1", "AWS region for S3/SQS clients")
	fs.StringVar(&cli.S3KeyPrefix, "s3-key-prefix", "", "Key prefix under which all artifacts are stored")
	fs.StringVar(&cli.CatalogDSN, "catalog-dsn", "", "Postgres connection string for the episode catalog")
	fs.StringVar(&cli.MetricsNamespace, "metrics-namespace", "episode_ingest_worker", "Prometheus metric namespace")
	fs.BoolVar(&cli.MetricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics")
	fs.StringVar(&cli.DownloaderCookiePath, "downloader-cookies-path", "", "Path to a cookies.txt file passed to yt-dlp")
	fs.StringVar(&cli.ExtractorHelperURL, "extractor-helper-url", "", "URL of an optional yt-dlp extractor helper service")
	fs.StringVar(&cli.YTDLPPath, "ytdlp-path", "yt-dlp", "Path to the yt-dlp binary")
	fs.StringVar(&cli.FFmpegPath, "ffmpeg-path", "ffmpeg", "Path to the ffmpeg binary")
	fs.StringVar(&cli.FFprobePath, "ffprobe-path", "ffprobe", "Path to the ffprobe binary")
	fs.StringVar(&cli.PreferredAudioFormat, "preferred-audio-format", "mp3", "Preferred extracted audio format")

	fs.StringVar(&cli.AnthropicAPIKey, "anthropic-api-key", "", "API key for LLM-based guest/topic enrichment (pattern/keyword fallback when empty)")
	fs.StringVar(&cli.EnrichmentModel, "enrichment-model", "claude-3-5-haiku-latest", "Anthropic model used for enrichment")

	fs.Float64Var(&cli.ValidatorToleranceSeconds, "validator-duration-tolerance-seconds", config.ValidatorDurationToleranceSeconds, "Allowed drift in seconds between source and HLS manifest duration")

	return fs
}

// newPollerFromCli builds a Poller with its tunables sourced from the
// parsed CLI/env configuration, falling back to config package defaults.
func newPollerFromCli(queue *clients.Queue, orch *pipeline.Orchestrator, tracker *pipeline.JobTracker, mode config.CapacityMode, cli *config.Cli) *pipeline.Poller {
	p := pipeline.NewPoller(queue, orch, tracker, mode)
	if cli.PollingIntervalMS > 0 {
		p.PollingInterval = time.Duration(cli.PollingIntervalMS) * time.Millisecond
	}
	if cli.VisibilityExtendIntervalS > 0 {
		p.VisibilityExtend = time.Duration(cli.VisibilityExtendIntervalS) * time.Second
	}
	if cli.VisibilityExtendDeltaS > 0 {
		p.VisibilityDelta = int64(cli.VisibilityExtendDeltaS)
	}
	if cli.SpotRequeueVisibilityS > 0 {
		p.SpotRequeueVisSec = int64(cli.SpotRequeueVisibilityS)
	}
	if cli.ShutdownGraceMS > 0 {
		p.ShutdownGrace = time.Duration(cli.ShutdownGraceMS) * time.Millisecond
	}
	return p
}

func promPort(apiPort int) int {
	if apiPort == 0 {
		return 9090
	}
	return apiPort + 1000
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
