package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/openpodcast/episode-ingest-worker/log"
	"github.com/openpodcast/episode-ingest-worker/metrics"
)

// Poller drains the input queue with at most maxConcurrent in-flight
// pipeline invocations (§4.6). Grounded on pipeline/coordinator.go's
// goroutine-per-trigger dispatch, generalized to SQS polling plus
// visibility extension instead of a webhook receiver.
type Poller struct {
	Queue        *clients.Queue
	Orchestrator *Orchestrator
	Tracker      *JobTracker
	Mode         config.CapacityMode

	PollingInterval   time.Duration
	VisibilityExtend  time.Duration
	VisibilityDelta   int64
	SpotRequeueVisSec int64
	ShutdownGrace     time.Duration

	mu            sync.Mutex
	receiptByJob  map[string]string
}

func NewPoller(queue *clients.Queue, orch *Orchestrator, tracker *JobTracker, mode config.CapacityMode) *Poller {
	return &Poller{
		Queue:             queue,
		Orchestrator:      orch,
		Tracker:           tracker,
		Mode:              mode,
		PollingInterval:   config.PollingInterval,
		VisibilityExtend:  config.VisibilityExtendInterval,
		VisibilityDelta:   int64(config.VisibilityExtendDelta.Seconds()),
		SpotRequeueVisSec: int64(config.SpotRequeueVisibility.Seconds()),
		ShutdownGrace:     config.ShutdownGrace,
		receiptByJob:      map[string]string{},
	}
}

// Run is the §4.6 drain loop. It returns when ctx is cancelled, having
// already branched on capacity mode for graceful shutdown.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		default:
		}

		if !p.Tracker.CanAcceptMoreJobs() {
			time.Sleep(p.PollingInterval)
			continue
		}

		messages, err := p.Queue.Receive(ctx, 10, 10)
		if err != nil {
			log.LogNoRequestID("poller: receive failed", "err", err)
			time.Sleep(p.PollingInterval)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			p.dispatch(ctx, msg)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, msg clients.Message) {
	ingest, err := clients.ParseMessage([]byte(msg.Body))
	if err != nil {
		log.LogNoRequestID("poller: poison message, deleting", "err", err, "messageId", msg.ID)
		if delErr := p.Queue.Delete(ctx, msg.ReceiptHandle); delErr != nil {
			log.LogNoRequestID("poller: failed to delete poison message", "err", delErr)
		}
		metrics.StepFailure("poller_parse", "poison")
		return
	}

	if !p.Tracker.CanAcceptMoreJobs() {
		// leave the message in place; its visibility timeout will expire
		// and it will be redelivered on a future Receive.
		return
	}

	jobID := firstNonEmpty(ingest.JobID, uuid.NewString())
	if !p.Tracker.StartJob(jobID) {
		return
	}

	sourceURL := firstNonEmpty(ingest.OriginalURI, ingest.VideoURL)
	job := NewJobInfo(jobID, sourceURL, msg.ReceiptHandle)

	p.trackReceipt(jobID, msg.ReceiptHandle)
	if err := p.Queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		log.LogNoRequestID("poller: failed to delete dispatched message", "err", err, "messageId", msg.ID)
	}

	go p.runJob(ctx, job, ingest)
}

func (p *Poller) runJob(ctx context.Context, job *JobInfo, msg clients.IngestMessage) {
	defer p.Tracker.CompleteJob(job.ID)
	defer p.untrackReceipt(job.ID)

	extendCtx, stopExtend := context.WithCancel(ctx)
	defer stopExtend()
	go p.extendVisibility(extendCtx, job)

	switch msg.Kind {
	case clients.MessageExistingEpisode:
		p.Orchestrator.RunExistingEpisode(ctx, job, msg.EpisodeID, msg.VideoURL)
	default:
		msg.OriginalURI = firstNonEmpty(msg.OriginalURI, msg.VideoURL)
		p.Orchestrator.Run(ctx, job, msg)
	}
}

// extendVisibility keeps a long-running job's queue message invisible
// (§4.6 point 4) until the job completes or ctx is cancelled.
func (p *Poller) extendVisibility(ctx context.Context, job *JobInfo) {
	ticker := time.NewTicker(p.VisibilityExtend)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Queue.ExtendVisibility(ctx, job.ReceiptHandle, p.VisibilityDelta); err != nil {
				log.Log(job.ID, "poller: failed to extend message visibility", "err", err)
			}
		}
	}
}

func (p *Poller) trackReceipt(jobID, receiptHandle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiptByJob[jobID] = receiptHandle
}

func (p *Poller) untrackReceipt(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.receiptByJob, jobID)
}

// shutdown implements §4.6's cancellation branch: on preemptible capacity,
// requeue every in-flight message almost immediately so another worker
// can pick it up; on on-demand, let jobs finish within ShutdownGrace.
func (p *Poller) shutdown() {
	if p.Mode == config.CapacityPreemptible {
		p.requeueAllInFlight()
		return
	}

	deadline := time.Now().Add(p.ShutdownGrace)
	for time.Now().Before(deadline) && p.Tracker.ActiveCount() > 0 {
		time.Sleep(500 * time.Millisecond)
	}
}

// requeueAllInFlight resets every tracked message's visibility timeout to
// SpotRequeueVisSec so another worker picks it up almost immediately,
// per §4.10's requeueAllInFlightAndStop.
func (p *Poller) requeueAllInFlight() {
	ctx := context.Background()
	p.mu.Lock()
	receipts := make([]string, 0, len(p.receiptByJob))
	for _, r := range p.receiptByJob {
		receipts = append(receipts, r)
	}
	p.mu.Unlock()

	for _, receiptHandle := range receipts {
		if err := p.Queue.RequeueNow(ctx, receiptHandle, p.SpotRequeueVisSec); err != nil {
			log.LogNoRequestID("poller: failed to requeue in-flight message", "err", err)
		}
	}
}
