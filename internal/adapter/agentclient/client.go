// Package agentclient provides the HTTP client for invoking external agent
// endpoints.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ambitus/orchestrator/internal/domain"
)

// Client invokes an agent's /invoke endpoint. Failures at this boundary are
// classified UpstreamTransient: the backing model or API failed, not the
// output shape.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for one agent endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke posts the structured request and decodes the agent's reply.
func (c *Client) Invoke(ctx context.Context, req *domain.AgentInvokeRequest) (*domain.AgentInvokeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.endpoint + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Run-ID", req.RunID)
	httpReq.Header.Set("X-Stage", string(req.Stage))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindUpstreamTransient,
			Stage:   req.Stage,
			Message: "agent endpoint unreachable",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindUpstreamTransient,
			Stage:   req.Stage,
			Message: fmt.Sprintf("agent returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var agentResp domain.AgentInvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&agentResp); err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   req.Stage,
			Message: "agent reply is not valid JSON",
			Err:     err,
		}
	}
	if len(agentResp.Output) == 0 {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   req.Stage,
			Message: "agent reply has no output",
		}
	}
	return &agentResp, nil
}
