// Package dispatch fans diagnostic triggers out to node agents and
// aggregates per-node outcomes.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/probelabs/fleet-master/internal/models"
	"github.com/probelabs/fleet-master/pkg/config"
)

// apiKeyHeader carries the shared control credential on every trigger call.
const apiKeyHeader = "x-agent-api-key"

// StatusError reports a non-2xx response from an agent control endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent returned status %d", e.StatusCode)
}

// Client issues control calls to node agents.
type Client interface {
	// Trigger asks the agent at host to start the given diagnostic. The
	// call must respect the context deadline; a 2xx response means the
	// agent queued the work.
	Trigger(ctx context.Context, host string, kind models.DiagnosticKind) error
}

// triggerRequest is the control call body.
type triggerRequest struct {
	Origin      string                `json:"origin"`
	TriggeredAt string                `json:"triggeredAt"`
	Kind        models.DiagnosticKind `json:"kind"`
}

// HTTPClient implements Client over plain HTTP with the shared secret header.
type HTTPClient struct {
	cfg    config.AgentConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates an agent control client. The underlying http.Client
// carries no timeout of its own; every call is bounded by its context.
func NewHTTPClient(cfg config.AgentConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

// Trigger posts the diagnostic trigger to the agent's control endpoint.
func (c *HTTPClient) Trigger(ctx context.Context, host string, kind models.DiagnosticKind) error {
	url := fmt.Sprintf("%s://%s:%d/api/task", c.cfg.Protocol, host, c.cfg.ControlPort)

	body, err := json.Marshal(triggerRequest{
		Origin:      "master",
		TriggeredAt: time.Now().UTC().Format(time.RFC3339),
		Kind:        kind,
	})
	if err != nil {
		return fmt.Errorf("encoding trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling agent at %s: %w", host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("agent trigger accepted", "host", host, "kind", kind)
	return nil
}
