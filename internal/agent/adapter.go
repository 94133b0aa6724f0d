// Package agent provides the uniform interface for running pipeline agents,
// whichever backend serves them, and attaches tool-resolved citations to
// their outputs.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/schema"
	"github.com/ambitus/orchestrator/internal/supervisor"
)

// Invoker runs one agent invocation against whatever backs the agent.
type Invoker interface {
	Invoke(ctx context.Context, req *domain.AgentInvokeRequest) (*domain.AgentInvokeResponse, error)
}

// CitationResolver resolves a claim or URL to a citation record. Satisfied
// by the tool client.
type CitationResolver interface {
	Cite(ctx context.Context, runID string, params domain.CitationParams) (*domain.CitationRecord, error)
}

// Invocation is one agent step execution request. Inputs carry only the
// slice of run state the step declares; agents never see unrelated or
// future state.
type Invocation struct {
	RunID     string
	Stage     domain.Stage
	Company   string
	Domain    string
	Inputs    map[domain.Stage]json.RawMessage
	RetryHint string
}

// Adapter runs agents and post-processes their outputs: citation resolution
// through the tool client, then schema validation.
type Adapter struct {
	invokers      map[domain.Stage]Invoker
	citations     CitationResolver
	pipeline      *config.Pipeline
	nested        *supervisor.Supervisor
	citationLimit int
	onToolCall    func(runID string, params domain.CitationParams, err error)
}

// NewAdapter builds an adapter from per-stage invokers.
func NewAdapter(invokers map[domain.Stage]Invoker, citations CitationResolver, pipeline *config.Pipeline, citationLimit int) *Adapter {
	if citationLimit <= 0 {
		citationLimit = 4
	}
	return &Adapter{
		invokers:      invokers,
		citations:     citations,
		pipeline:      pipeline,
		nested:        supervisor.New(),
		citationLimit: citationLimit,
	}
}

// OnToolCall installs an observer for nested citation calls, used for event
// recording. May be nil.
func (a *Adapter) OnToolCall(fn func(runID string, params domain.CitationParams, err error)) {
	a.onToolCall = fn
}

// Invoke runs one agent step: backend invocation, citation resolution,
// schema validation. The returned bytes are the validated stage output ready
// to append to the run.
func (a *Adapter) Invoke(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	invoker, ok := a.invokers[inv.Stage]
	if !ok {
		return nil, fmt.Errorf("no agent configured for stage %s", inv.Stage)
	}

	resp, err := invoker.Invoke(ctx, &domain.AgentInvokeRequest{
		Stage:     inv.Stage,
		RunID:     inv.RunID,
		Company:   inv.Company,
		Domain:    inv.Domain,
		Inputs:    inv.Inputs,
		RetryHint: inv.RetryHint,
	})
	if err != nil {
		return nil, err
	}

	mode := a.pipeline.CitationModeFor(inv.Stage)
	var records []domain.CitationRecord
	if mode != config.CitationsNone && len(resp.CitationQueries) > 0 {
		records, err = a.resolveCitations(ctx, inv.RunID, resp.CitationQueries)
		if err != nil {
			if mode == config.CitationsRequired {
				return nil, err
			}
			// Degrade: this stage proceeds without the citation tool's
			// contribution.
			log.Printf("WARN: stage %s proceeding without citations: %v", inv.Stage, err)
			records = nil
		}
	}

	output, err := attachSources(resp.Output, records)
	if err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   inv.Stage,
			Message: "output is not a JSON object",
			Err:     err,
		}
	}

	return schema.ValidateStageOutput(inv.Stage, output)
}

// resolveCitations turns queries into citation records through the tool
// client, bounded by the configured concurrency limit. Each lookup is a
// nested supervised step.
func (a *Adapter) resolveCitations(ctx context.Context, runID string, queries []string) ([]domain.CitationRecord, error) {
	records := make([]*domain.CitationRecord, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.citationLimit)

	for i, q := range queries {
		g.Go(func() error {
			params := citationParams(q)
			var record *domain.CitationRecord
			_, err := a.nested.Do(gctx, func(ctx context.Context, attempt int, lastErr error) error {
				var cerr error
				record, cerr = a.citations.Cite(ctx, runID, params)
				return cerr
			})
			if a.onToolCall != nil {
				a.onToolCall(runID, params, err)
			}
			if err != nil {
				return err
			}
			records[i] = record
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.CitationRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func citationParams(q string) domain.CitationParams {
	if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
		return domain.CitationParams{URL: q}
	}
	return domain.CitationParams{Query: q}
}

// attachSources sets the output's sources field to the resolved records,
// keeping any well-formed records the agent already supplied. Agents may
// list bare URL strings; those are normalized into records.
func attachSources(output json.RawMessage, records []domain.CitationRecord) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := schema.Unmarshal(output, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("output is null")
	}

	merged := existingSources(obj["sources"])
	merged = append(merged, records...)
	if merged == nil {
		merged = []domain.CitationRecord{}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	obj["sources"] = encoded
	return json.Marshal(obj)
}

func existingSources(raw json.RawMessage) []domain.CitationRecord {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	var out []domain.CitationRecord
	for _, e := range entries {
		var record domain.CitationRecord
		if err := json.Unmarshal(e, &record); err == nil && record.URL != "" {
			out = append(out, record)
			continue
		}
		var link string
		if err := json.Unmarshal(e, &link); err == nil && link != "" {
			out = append(out, domain.CitationRecord{URL: link})
		}
	}
	return out
}
