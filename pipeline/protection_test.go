package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpodcast/episode-ingest-worker/config"
)

type countingBackend struct {
	enables  int32
	disables int32
}

func (b *countingBackend) Enable(time.Duration) error {
	atomic.AddInt32(&b.enables, 1)
	return nil
}

func (b *countingBackend) Disable() error {
	atomic.AddInt32(&b.disables, 1)
	return nil
}

func TestProtectionEnablesOnFirstJobOnDemand(t *testing.T) {
	backend := &countingBackend{}
	p := NewProtectionController(config.CapacityOnDemand, backend)

	p.JobStarted()
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.enables))
	require.True(t, p.IsActive())

	p.JobFinished()
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.disables))
	require.False(t, p.IsActive())
}

func TestProtectionNoopOnPreemptible(t *testing.T) {
	backend := &countingBackend{}
	p := NewProtectionController(config.CapacityPreemptible, backend)
	p.JobStarted()
	require.Equal(t, int32(0), atomic.LoadInt32(&backend.enables))
	require.False(t, p.IsActive())
}

func TestProtectionMultipleJobsOnlyEnableOnce(t *testing.T) {
	backend := &countingBackend{}
	p := NewProtectionController(config.CapacityOnDemand, backend)
	p.JobStarted()
	p.JobStarted()
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.enables))
	require.Equal(t, 2, p.ActiveJobs())

	p.JobFinished()
	require.Equal(t, int32(0), atomic.LoadInt32(&backend.disables))
	p.JobFinished()
	require.Equal(t, int32(1), atomic.LoadInt32(&backend.disables))
}
