// Package toolclient discovers and invokes named tools on an external tool
// server.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/policy"
)

const defaultToolTimeout = 30 * time.Second

// Client resolves tool names to capability descriptors once, caches the
// resolution, and invokes tools over HTTP. The cache is read-mostly and
// replaced atomically on refresh; a ToolUnavailable failure invalidates it
// and triggers one re-discovery before the failure surfaces.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     *policy.Engine
	timeout    time.Duration

	cache atomic.Pointer[map[string]domain.ToolDescriptor]
}

// NewClient creates a tool client for the given tool server base URL.
// policyEngine may be nil to skip policy evaluation.
func NewClient(baseURL string, timeout time.Duration, policyEngine *policy.Engine) *Client {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		policy:     policyEngine,
		timeout:    timeout,
	}
}

// Discover fetches the tool_name -> capability descriptor mapping from the
// server and replaces the cache.
func (c *Client) Discover(ctx context.Context) (map[string]domain.ToolDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ToolError{Kind: domain.ErrKindToolUnavailable, Tool: "discover", Message: "tool server unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.ToolError{
			Kind:    domain.ErrKindToolUnavailable,
			Tool:    "discover",
			Message: fmt.Sprintf("discovery returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var discovered domain.DiscoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&discovered); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}

	tools := make(map[string]domain.ToolDescriptor, len(discovered.Tools))
	for _, t := range discovered.Tools {
		tools[t.Name] = t
	}
	c.cache.Store(&tools)
	return tools, nil
}

// Invalidate drops the cached discovery so the next call re-discovers.
func (c *Client) Invalidate() {
	c.cache.Store(nil)
}

// CallTool invokes a named tool. Unresolvable or unreachable tools yield a
// ToolError with kind ToolUnavailable after one re-discovery attempt;
// deadline overruns yield ToolTimeout.
func (c *Client) CallTool(ctx context.Context, toolName string, req domain.ToolInvokeRequest) (json.RawMessage, error) {
	desc, err := c.resolve(ctx, toolName, false)
	if err != nil {
		return nil, err
	}

	if c.policy != nil {
		var params map[string]any
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &params)
		}
		decision, reason, err := c.policy.Evaluate(ctx, map[string]any{
			"tool_name": toolName,
			"params":    params,
			"run_id":    req.RunID,
		})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision == "block" {
			return nil, &domain.ToolError{
				Kind:    domain.ErrKindToolUnavailable,
				Tool:    toolName,
				Message: "blocked by policy: " + reason,
			}
		}
	}

	result, err := c.invoke(ctx, desc, req)
	if err == nil {
		return result, nil
	}

	// One re-discovery attempt before surfacing ToolUnavailable.
	var te *domain.ToolError
	if errors.As(err, &te) && te.Kind == domain.ErrKindToolUnavailable {
		c.Invalidate()
		desc, rerr := c.resolve(ctx, toolName, true)
		if rerr != nil {
			return nil, err
		}
		return c.invoke(ctx, desc, req)
	}
	return nil, err
}

// Cite resolves a claim or URL to a CitationRecord via the citation tool.
func (c *Client) Cite(ctx context.Context, runID string, params domain.CitationParams) (*domain.CitationRecord, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal citation params: %w", err)
	}

	result, err := c.CallTool(ctx, "citation", domain.ToolInvokeRequest{RunID: runID, Params: raw})
	if err != nil {
		return nil, err
	}

	var record domain.CitationRecord
	if err := json.Unmarshal(result, &record); err != nil {
		return nil, fmt.Errorf("failed to decode citation record: %w", err)
	}
	return &record, nil
}

func (c *Client) resolve(ctx context.Context, toolName string, fresh bool) (*domain.ToolDescriptor, error) {
	var tools map[string]domain.ToolDescriptor
	discovered := fresh
	if p := c.cache.Load(); p != nil && !fresh {
		tools = *p
	} else {
		fetched, err := c.Discover(ctx)
		if err != nil {
			return nil, err
		}
		tools = fetched
		discovered = true
	}

	desc, ok := tools[toolName]
	if !ok && !discovered {
		// The cache may be stale; refresh once.
		fetched, err := c.Discover(ctx)
		if err != nil {
			return nil, err
		}
		desc, ok = fetched[toolName]
	}
	if !ok {
		return nil, &domain.ToolError{
			Kind:    domain.ErrKindToolUnavailable,
			Tool:    toolName,
			Message: "tool not advertised by server",
		}
	}
	return &desc, nil
}

func (c *Client) invoke(ctx context.Context, desc *domain.ToolDescriptor, req domain.ToolInvokeRequest) (json.RawMessage, error) {
	timeout := c.timeout
	if desc.TimeoutMs > 0 {
		timeout = time.Duration(desc.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool request: %w", err)
	}

	url := c.baseURL + "/tools/" + desc.Name + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ToolError{Kind: domain.ErrKindToolTimeout, Tool: desc.Name, Message: "tool call timed out", Err: err}
		}
		return nil, &domain.ToolError{Kind: domain.ErrKindToolUnavailable, Tool: desc.Name, Message: "tool server unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &domain.ToolError{
			Kind:    domain.ErrKindToolUnavailable,
			Tool:    desc.Name,
			Message: fmt.Sprintf("tool returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var toolResp domain.ToolInvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&toolResp); err != nil {
		return nil, fmt.Errorf("failed to decode tool response: %w", err)
	}
	if toolResp.Error != nil {
		kind := domain.ErrKindToolUnavailable
		if toolResp.Error.Code == "timeout" {
			kind = domain.ErrKindToolTimeout
		}
		return nil, &domain.ToolError{Kind: kind, Tool: desc.Name, Message: toolResp.Error.Message}
	}
	return toolResp.Result, nil
}
