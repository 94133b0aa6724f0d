package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/domain"
)

type fakeInvoker struct {
	resp *domain.AgentInvokeResponse
	err  error
	got  *domain.AgentInvokeRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, req *domain.AgentInvokeRequest) (*domain.AgentInvokeResponse, error) {
	f.got = req
	return f.resp, f.err
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []domain.CitationParams
	err   error
}

func (f *fakeResolver) Cite(_ context.Context, _ string, params domain.CitationParams) (*domain.CitationRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	url := params.URL
	if url == "" {
		url = "https://search.example/?q=" + params.Query
	}
	return &domain.CitationRecord{URL: url, Title: "resolved"}, nil
}

func newTestAdapter(t *testing.T, stage domain.Stage, inv Invoker, resolver CitationResolver) *Adapter {
	t.Helper()
	return NewAdapter(map[domain.Stage]Invoker{stage: inv}, resolver, config.DefaultPipeline(), 2)
}

func TestAdapterResolvesCitationsAndValidates(t *testing.T) {
	inv := &fakeInvoker{resp: &domain.AgentInvokeResponse{
		Output: json.RawMessage(`{
			"name": "Acme", "industry": "robotics", "description": "makes robots",
			"products": ["arms"], "headquarters": "Reno", "sources": []
		}`),
		CitationQueries: []string{"acme corporate history", "https://acme.example/about"},
	}}
	resolver := &fakeResolver{}
	a := newTestAdapter(t, domain.StageCompanyResearch, inv, resolver)

	out, err := a.Invoke(context.Background(), Invocation{
		RunID:   "run_ab12cd34",
		Stage:   domain.StageCompanyResearch,
		Company: "Acme",
	})
	require.NoError(t, err)

	var profile domain.CompanyProfile
	require.NoError(t, json.Unmarshal(out, &profile))
	assert.Equal(t, "Acme", profile.Name)
	require.Len(t, profile.Sources, 2)

	require.Len(t, resolver.calls, 2)
	var queries, urls int
	for _, c := range resolver.calls {
		if c.URL != "" {
			urls++
		} else {
			queries++
		}
	}
	assert.Equal(t, 1, queries)
	assert.Equal(t, 1, urls)

	require.NotNil(t, inv.got)
	assert.Equal(t, "run_ab12cd34", inv.got.RunID)
	assert.Equal(t, domain.StageCompanyResearch, inv.got.Stage)
}

func TestAdapterDegradesWhenCitationsOptional(t *testing.T) {
	inv := &fakeInvoker{resp: &domain.AgentInvokeResponse{
		Output:          json.RawMessage(`{"gaps": [{"gap": "no SMB tier", "impact": "high", "evidence": "pricing pages"}], "sources": []}`),
		CitationQueries: []string{"smb pricing gap"},
	}}
	resolver := &fakeResolver{err: &domain.ToolError{Kind: domain.ErrKindToolUnavailable, Tool: "citation", Message: "down"}}
	a := newTestAdapter(t, domain.StageGapAnalysis, inv, resolver)

	out, err := a.Invoke(context.Background(), Invocation{RunID: "run_1", Stage: domain.StageGapAnalysis, Company: "Acme"})
	require.NoError(t, err)

	var gaps domain.GapList
	require.NoError(t, json.Unmarshal(out, &gaps))
	require.Len(t, gaps.Gaps, 1)
	assert.Empty(t, gaps.Sources)
}

func TestAdapterPropagatesCitationFailureWhenRequired(t *testing.T) {
	inv := &fakeInvoker{resp: &domain.AgentInvokeResponse{
		Output: json.RawMessage(`{
			"name": "Acme", "industry": "robotics", "description": "makes robots",
			"products": [], "headquarters": "Reno", "sources": []
		}`),
		CitationQueries: []string{"acme history"},
	}}
	resolver := &fakeResolver{err: &domain.ToolError{Kind: domain.ErrKindToolUnavailable, Tool: "citation", Message: "down"}}
	a := newTestAdapter(t, domain.StageCompanyResearch, inv, resolver)

	_, err := a.Invoke(context.Background(), Invocation{RunID: "run_1", Stage: domain.StageCompanyResearch, Company: "Acme"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindToolUnavailable, domain.KindOf(err))
	// Exhausted the nested retry policy before surfacing.
	assert.Len(t, resolver.calls, 2)
}

func TestAdapterNormalizesAgentSuppliedSources(t *testing.T) {
	inv := &fakeInvoker{resp: &domain.AgentInvokeResponse{
		Output: json.RawMessage(`{
			"opportunities": [{"title": "SMB tier", "priority": "high", "description": "launch a low-cost tier"}],
			"sources": ["https://a.example/x", {"url": "https://b.example/y", "excerpt": "", "title": "report"}]
		}`),
	}}
	a := newTestAdapter(t, domain.StageOpportunity, inv, &fakeResolver{})

	out, err := a.Invoke(context.Background(), Invocation{RunID: "run_1", Stage: domain.StageOpportunity, Company: "Acme"})
	require.NoError(t, err)

	var list domain.OpportunityList
	require.NoError(t, json.Unmarshal(out, &list))
	require.Len(t, list.Sources, 2)
	assert.Equal(t, "https://a.example/x", list.Sources[0].URL)
	assert.Equal(t, "https://b.example/y", list.Sources[1].URL)
}

func TestAdapterRejectsInvalidOutput(t *testing.T) {
	inv := &fakeInvoker{resp: &domain.AgentInvokeResponse{
		Output: json.RawMessage(`{"name": 42}`),
	}}
	a := newTestAdapter(t, domain.StageCompanyResearch, inv, &fakeResolver{})

	_, err := a.Invoke(context.Background(), Invocation{RunID: "run_1", Stage: domain.StageCompanyResearch, Company: "Acme"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
}

func TestAdapterRequiresConfiguredStage(t *testing.T) {
	a := NewAdapter(map[domain.Stage]Invoker{}, &fakeResolver{}, config.DefaultPipeline(), 2)
	_, err := a.Invoke(context.Background(), Invocation{RunID: "run_1", Stage: domain.StageMarketData})
	require.Error(t, err)
}
