package latency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/probelabs/fleet-master/internal/models"
)

// HTTPSessionStarter drives a latency test against a fleet master over its
// HTTP API. It is the transport used by coordinators embedded in dashboards
// and the probe CLI.
type HTTPSessionStarter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSessionStarter creates a starter for the master at baseURL, for
// example "http://master.example.com:8080". The underlying http.Client
// carries no timeout of its own; every call is bounded by its context.
func NewHTTPSessionStarter(baseURL string) *HTTPSessionStarter {
	return &HTTPSessionStarter{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// StartTest begins a session on the master.
func (s *HTTPSessionStarter) StartTest(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/latency/start", nil)
	if err != nil {
		return "", "", fmt.Errorf("building start request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("starting session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("starting session: master returned status %d", resp.StatusCode)
	}

	var started struct {
		SessionID string `json:"session_id"`
		ClientIP  string `json:"client_ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return "", "", fmt.Errorf("decoding start response: %w", err)
	}
	return started.SessionID, started.ClientIP, nil
}

// FetchResults polls the session's current result set.
func (s *HTTPSessionStarter) FetchResults(ctx context.Context, sessionID string) ([]models.TargetResult, error) {
	url := fmt.Sprintf("%s/v1/latency/%s/results", s.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building results request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching results: master returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []models.TargetResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	return body.Results, nil
}
