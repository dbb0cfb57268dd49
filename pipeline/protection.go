package pipeline

import (
	"sync"
	"time"

	"github.com/openpodcast/episode-ingest-worker/config"
	"github.com/openpodcast/episode-ingest-worker/log"
)

// ProtectionBackend is the platform call the controller drives --
// typically a Fargate/ECS "protect this task from scale-in" API. Swappable
// for tests.
type ProtectionBackend interface {
	Enable(duration time.Duration) error
	Disable() error
}

// NoopProtectionBackend is used on preemptible capacity, where protection
// calls are no-ops (§4.10) since the instance can be reclaimed regardless.
type NoopProtectionBackend struct{}

func (NoopProtectionBackend) Enable(time.Duration) error { return nil }
func (NoopProtectionBackend) Disable() error              { return nil }

// ProtectionController implements §4.10: on on-demand capacity, enables
// protection on the first active job and renews it every 30 min while the
// active set is non-empty; on preemptible capacity every call is a no-op
// and drain is handled by the poller's SIGTERM branch instead.
type ProtectionController struct {
	mode     config.CapacityMode
	backend  ProtectionBackend
	mu       sync.Mutex
	active   int
	renewing bool
	stopCh   chan struct{}
}

func NewProtectionController(mode config.CapacityMode, backend ProtectionBackend) *ProtectionController {
	if mode == config.CapacityPreemptible {
		backend = NoopProtectionBackend{}
	}
	return &ProtectionController{mode: mode, backend: backend}
}

const (
	protectionDuration = 60 * time.Minute
	protectionRenewal  = 30 * time.Minute
)

// JobStarted marks one more job active, enabling protection on the
// transition from zero to one.
func (p *ProtectionController) JobStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active++
	if p.active == 1 && p.mode == config.CapacityOnDemand {
		if err := p.backend.Enable(protectionDuration); err != nil {
			log.LogNoRequestID("failed to enable platform protection", "err", err)
		}
		p.startRenewalLocked()
	}
}

// JobFinished releases one active job, disabling protection and stopping
// renewal once the active set is empty.
func (p *ProtectionController) JobFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > 0 {
		p.active--
	}
	if p.active == 0 {
		p.stopRenewalLocked()
		if err := p.backend.Disable(); err != nil {
			log.LogNoRequestID("failed to disable platform protection", "err", err)
		}
	}
}

// Bump lets a long-running stage extend the protection window from
// within, without waiting for the next renewal tick.
func (p *ProtectionController) Bump() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != config.CapacityOnDemand || p.active == 0 {
		return
	}
	if err := p.backend.Enable(protectionDuration); err != nil {
		log.LogNoRequestID("failed to bump platform protection", "err", err)
	}
}

func (p *ProtectionController) startRenewalLocked() {
	if p.renewing {
		return
	}
	p.renewing = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	go func() {
		ticker := time.NewTicker(protectionRenewal)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				active := p.active
				p.mu.Unlock()
				if active == 0 {
					return
				}
				if err := p.backend.Enable(protectionDuration); err != nil {
					log.LogNoRequestID("failed to renew platform protection", "err", err)
				}
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *ProtectionController) stopRenewalLocked() {
	if !p.renewing {
		return
	}
	close(p.stopCh)
	p.renewing = false
}

// ActiveJobs reports the current active-job count (used by /health).
func (p *ProtectionController) ActiveJobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsActive reports whether protection is currently believed to be held
// (used by /health's protectionActive field).
func (p *ProtectionController) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode == config.CapacityOnDemand && p.active > 0
}
