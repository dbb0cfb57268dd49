package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openpodcast/episode-ingest-worker/metrics"
)

// ECSTaskProtectionBackend implements pipeline.ProtectionBackend against
// the Fargate task metadata endpoint's task-protection API (called from
// inside the task itself via $ECS_AGENT_URI, not the control-plane ECS
// API), grounded the same way clients/downloader.go wraps an external
// tool invocation under step metrics and retry.
type ECSTaskProtectionBackend struct {
	AgentURI string // $ECS_AGENT_URI, e.g. http://169.254.170.2/v1
	client   *retryablehttp.Client
}

func NewECSTaskProtectionBackend(agentURI string) *ECSTaskProtectionBackend {
	if agentURI == "" {
		agentURI = os.Getenv("ECS_AGENT_URI")
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.CheckRetry = metrics.HttpRetryHook
	return &ECSTaskProtectionBackend{AgentURI: agentURI, client: client}
}

type taskProtectionRequest struct {
	ProtectionEnabled bool `json:"ProtectionEnabled"`
	ExpiresInMinutes  int  `json:"ExpiresInMinutes,omitempty"`
}

func (b *ECSTaskProtectionBackend) Enable(duration time.Duration) error {
	return b.putProtection(taskProtectionRequest{
		ProtectionEnabled: true,
		ExpiresInMinutes:  int(duration.Minutes()),
	})
}

func (b *ECSTaskProtectionBackend) Disable() error {
	return b.putProtection(taskProtectionRequest{ProtectionEnabled: false})
}

func (b *ECSTaskProtectionBackend) putProtection(body taskProtectionRequest) error {
	if b.AgentURI == "" {
		return fmt.Errorf("ECS_AGENT_URI not set, cannot manage task protection")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, b.AgentURI+"/task-protection/v1/state", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	retryableReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return err
	}

	res, err := metrics.MonitorRequest("ecs_task_protection", b.client.StandardClient(), retryableReq.Request)
	if err != nil {
		return fmt.Errorf("calling task protection endpoint: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("task protection endpoint returned status %d", res.StatusCode)
	}
	return nil
}
