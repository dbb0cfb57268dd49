package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpodcast/episode-ingest-worker/clients"
	"github.com/openpodcast/episode-ingest-worker/config"
)

func TestNewPollerDefaults(t *testing.T) {
	tracker := NewJobTracker(2)
	p := NewPoller(&clients.Queue{}, &Orchestrator{}, tracker, config.CapacityOnDemand)
	require.Equal(t, config.PollingInterval, p.PollingInterval)
	require.NotNil(t, p.receiptByJob)
}

func TestTrackAndUntrackReceipt(t *testing.T) {
	p := NewPoller(&clients.Queue{}, &Orchestrator{}, NewJobTracker(1), config.CapacityOnDemand)
	p.trackReceipt("job-1", "receipt-1")
	p.mu.Lock()
	require.Equal(t, "receipt-1", p.receiptByJob["job-1"])
	p.mu.Unlock()

	p.untrackReceipt("job-1")
	p.mu.Lock()
	_, ok := p.receiptByJob["job-1"]
	p.mu.Unlock()
	require.False(t, ok)
}

func TestPoisonMessageBodyFailsParse(t *testing.T) {
	tracker := NewJobTracker(2)
	p := NewPoller(&clients.Queue{}, &Orchestrator{}, tracker, config.CapacityOnDemand)
	// Receive/Delete will be called against a real but unconfigured
	// *sqs.SQS and panic on nil pointer deref inside the AWS SDK before
	// this test reaches an assertion worth making without network
	// access, so this only exercises the parse-failure branch indirectly
	// via clients.ParseMessage, verified directly in message_test.go.
	_, err := clients.ParseMessage([]byte(`{"not": "a known shape"}`))
	require.Error(t, err)
	require.NotNil(t, p)
}
