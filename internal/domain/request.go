package domain

import "encoding/json"

// StartRunRequest starts a pipeline run for a company.
type StartRunRequest struct {
	CompanyName string `json:"company_name"`
}

// StartRunResponse is returned after a run is accepted.
type StartRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// RunView is the externally visible projection of a RunContext.
type RunView struct {
	RunID         string            `json:"run_id"`
	Company       string            `json:"company"`
	Status        RunStatus         `json:"status"`
	CreatedAt     int64             `json:"created_at"`
	EndedAt       int64             `json:"ended_at,omitempty"`
	Stages        []Stage           `json:"stages"`
	AwaitingInput bool              `json:"awaiting_input"`
	Candidates    []DomainCandidate `json:"candidates,omitempty"`
	Selection     *DomainSelection  `json:"selection,omitempty"`
	Failure       *FailureRecord    `json:"failure,omitempty"`
}

// SelectionRequest submits a human domain selection.
type SelectionRequest struct {
	Domain string `json:"domain"`
}

// SelectionResponse acknowledges a domain selection.
type SelectionResponse struct {
	RunID        string    `json:"run_id"`
	ChosenDomain string    `json:"chosen_domain"`
	Status       RunStatus `json:"status"`
}

// AgentInvokeRequest is the request sent to an external agent endpoint.
type AgentInvokeRequest struct {
	Stage     Stage                     `json:"stage"`
	RunID     string                    `json:"run_id"`
	Company   string                    `json:"company"`
	Domain    string                    `json:"domain,omitempty"`
	Inputs    map[Stage]json.RawMessage `json:"inputs"`
	RetryHint string                    `json:"retry_hint,omitempty"`
}

// AgentInvokeResponse is the structured reply from an agent endpoint. Output
// must validate against the stage's declared schema. CitationQueries are
// claims or URLs the orchestrator resolves to CitationRecords through the
// citation tool.
type AgentInvokeResponse struct {
	Output          json.RawMessage `json:"output"`
	CitationQueries []string        `json:"citation_queries,omitempty"`
}

// ToolDescriptor describes one callable tool advertised by a tool server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"` // JSON schema
	TimeoutMs   int             `json:"timeout_ms,omitempty"`
}

// DiscoverResponse is the reply to a tool discovery request.
type DiscoverResponse struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolInvokeRequest invokes a named tool.
type ToolInvokeRequest struct {
	RunID  string          `json:"run_id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// ToolInvokeResponse is the reply from a tool invocation.
type ToolInvokeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ToolErrorBody  `json:"error,omitempty"`
}

// ToolErrorBody is the wire form of a tool failure.
type ToolErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CitationParams are the parameters of the citation tool: either a free-text
// claim to search for or a URL to excerpt.
type CitationParams struct {
	Query string `json:"query,omitempty"`
	URL   string `json:"url,omitempty"`
}
