package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/schema"
)

const citationParamsSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"url": {"type": "string"}
	}
}`

// RegisterBuiltins registers the standard tool set: ping, search, and the
// citation tool. citationEndpoint may be empty, in which case citation runs
// an offline deterministic fallback instead of proxying to a citation agent.
func RegisterBuiltins(r *Registry, citationEndpoint string, httpClient *http.Client) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	r.MustRegister(domain.ToolDescriptor{
		Name:        "ping",
		Description: "liveness probe",
		TimeoutMs:   2000,
	}, func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"pong":true,"ts":%d}`, time.Now().UnixMilli())), nil
	})

	r.MustRegister(domain.ToolDescriptor{
		Name:        "search",
		Description: "web search returning candidate source URLs",
		TimeoutMs:   15000,
	}, func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var p struct {
			Query string `json:"query"`
		}
		if err := schema.Unmarshal(params, &p); err != nil || p.Query == "" {
			return nil, fmt.Errorf("search requires a query")
		}
		// Stub results; a production deployment points agents at a real
		// search provider instead.
		results := []string{
			"https://duckduckgo.com/?q=" + url.QueryEscape(p.Query),
		}
		return json.Marshal(map[string]any{"links": results})
	})

	r.MustRegister(domain.ToolDescriptor{
		Name:        "citation",
		Description: "resolve a claim or URL to a cited source",
		Params:      json.RawMessage(citationParamsSchema),
		TimeoutMs:   20000,
	}, citationExecutor(citationEndpoint, httpClient))
}

func citationExecutor(endpoint string, httpClient *http.Client) ExecutorFunc {
	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var p domain.CitationParams
		if err := schema.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid citation params: %w", err)
		}
		if p.Query == "" && p.URL == "" {
			return nil, fmt.Errorf("citation requires a query or url")
		}

		if endpoint != "" {
			return proxyCitation(ctx, endpoint, params, httpClient)
		}

		record := offlineCitation(p)
		return json.Marshal(record)
	}
}

func proxyCitation(ctx context.Context, endpoint string, params json.RawMessage, httpClient *http.Client) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(params))
	if err != nil {
		return nil, fmt.Errorf("failed to create citation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("citation agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("citation agent returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read citation response: %w", err)
	}

	// Validate the shape before handing it back.
	var record domain.CitationRecord
	if err := schema.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("citation agent returned invalid record: %w", err)
	}
	return json.Marshal(record)
}

// offlineCitation builds a best-effort record without network access. URLs
// keep their host as title; free-text claims become a search link.
func offlineCitation(p domain.CitationParams) domain.CitationRecord {
	if p.URL != "" {
		title := p.URL
		if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
			title = u.Host
		}
		return domain.CitationRecord{
			URL:     p.URL,
			Excerpt: p.Query,
			Title:   title,
		}
	}
	return domain.CitationRecord{
		URL:     "https://duckduckgo.com/?q=" + url.QueryEscape(p.Query),
		Excerpt: p.Query,
		Title:   strings.TrimSpace(p.Query),
	}
}
