// Package engine drives a run through the fixed research pipeline: each step
// runs under the retry supervisor, appends its output to the run context,
// and the domain-selection branch suspends the run for human input.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ambitus/orchestrator/internal/agent"
	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/schema"
	"github.com/ambitus/orchestrator/internal/supervisor"
)

// StepRunner executes one agent step and returns its validated output.
// Satisfied by the agent adapter.
type StepRunner interface {
	Invoke(ctx context.Context, inv agent.Invocation) (json.RawMessage, error)
}

// TransitionHook observes run mutations. The engine calls it after every
// status or output change, from the goroutine driving the run, so hooks can
// snapshot the context without locking.
type TransitionHook func(rc *domain.RunContext, typ domain.EventType, payload any)

type step struct {
	stage       domain.Stage
	requires    []domain.Stage
	needsDomain bool
}

// The pipeline shape is fixed. market_data and competitive_landscape share
// their prerequisites and run concurrently between the selection branch and
// the gap_analysis join.
var (
	preBranchSteps = []step{
		{stage: domain.StageCompanyResearch},
		{stage: domain.StageIndustryAnalysis, requires: []domain.Stage{domain.StageCompanyResearch}},
	}
	parallelSteps = []step{
		{stage: domain.StageMarketData, requires: []domain.Stage{domain.StageCompanyResearch, domain.StageIndustryAnalysis}, needsDomain: true},
		{stage: domain.StageCompetitiveLandscape, requires: []domain.Stage{domain.StageCompanyResearch, domain.StageIndustryAnalysis}, needsDomain: true},
	}
	postJoinSteps = []step{
		{stage: domain.StageGapAnalysis, requires: []domain.Stage{domain.StageMarketData, domain.StageCompetitiveLandscape}, needsDomain: true},
		{stage: domain.StageOpportunity, requires: []domain.Stage{domain.StageGapAnalysis}, needsDomain: true},
		{stage: domain.StageReportSynthesis, requires: []domain.Stage{
			domain.StageCompanyResearch,
			domain.StageIndustryAnalysis,
			domain.StageMarketData,
			domain.StageCompetitiveLandscape,
			domain.StageGapAnalysis,
			domain.StageOpportunity,
		}, needsDomain: true},
	}
)

// Engine sequences pipeline steps over a run context. It is not safe for
// concurrent use on the same run; the service layer serializes access.
type Engine struct {
	runner StepRunner
	sup    *supervisor.Supervisor
	hook   TransitionHook
}

// New creates an engine with the default retry policy table.
func New(runner StepRunner) *Engine {
	return &Engine{runner: runner, sup: supervisor.New()}
}

// WithSupervisor replaces the retry supervisor, for tests.
func (e *Engine) WithSupervisor(sup *supervisor.Supervisor) *Engine {
	e.sup = sup
	return e
}

// OnTransition installs the transition hook. May be nil.
func (e *Engine) OnTransition(hook TransitionHook) { e.hook = hook }

func (e *Engine) emit(rc *domain.RunContext, typ domain.EventType, payload any) {
	if e.hook != nil {
		e.hook(rc, typ, payload)
	}
}

// Advance drives the run forward until it suspends at the selection branch,
// reaches a terminal status, or a step exhausts its retries. Advancing a run
// that is already terminal or awaiting input is a no-op.
func (e *Engine) Advance(ctx context.Context, rc *domain.RunContext) error {
	switch {
	case rc.Status.IsTerminal():
		return nil
	case rc.Status == domain.RunStatusAwaitingInput:
		return nil
	case rc.Status == domain.RunStatusPending:
		rc.Status = domain.RunStatusRunning
		e.emit(rc, domain.EventTypeRunStarted, nil)
	}

	for _, st := range preBranchSteps {
		if rc.Has(st.stage) {
			continue
		}
		if err := e.runStep(ctx, rc, st); err != nil {
			return err
		}
	}

	if rc.Selection == nil {
		return e.branch(rc)
	}

	if err := e.runParallel(ctx, rc); err != nil {
		return err
	}

	for _, st := range postJoinSteps {
		if rc.Has(st.stage) {
			continue
		}
		if err := e.runStep(ctx, rc, st); err != nil {
			return err
		}
	}

	rc.Status = domain.RunStatusSucceeded
	now := time.Now()
	rc.EndedAt = &now
	e.emit(rc, domain.EventTypeRunDone, nil)
	return nil
}

// Abort marks a non-terminal run failed with an Aborted failure record.
// Used for runs with no in-flight step, such as one suspended at the branch.
func (e *Engine) Abort(rc *domain.RunContext, reason string) {
	if rc.Status.IsTerminal() {
		return
	}
	_ = e.fail(rc, "cancel", 1, &domain.RunError{Kind: domain.ErrKindAborted, Message: reason})
}

// branch reads the ranked candidates out of the industry analysis and
// suspends the run for selection. An empty candidate list fails the run.
func (e *Engine) branch(rc *domain.RunContext) error {
	var analysis domain.DomainCandidateList
	if err := schema.Unmarshal(rc.Outputs[domain.StageIndustryAnalysis], &analysis); err != nil {
		return e.fail(rc, string(domain.StageIndustryAnalysis), 1, fmt.Errorf("decode industry analysis: %w", err))
	}
	if len(analysis.Opportunities) == 0 {
		return e.fail(rc, string(domain.StageIndustryAnalysis), 1, &domain.BranchError{
			Kind:    domain.ErrKindNoDomainCandidates,
			Message: "industry analysis produced no expansion domains",
		})
	}

	candidates := make([]domain.DomainCandidate, 0, len(analysis.Opportunities))
	for _, opp := range analysis.Opportunities {
		candidates = append(candidates, domain.DomainCandidate{Domain: opp.Domain, Score: opp.Score})
	}
	rc.Candidates = candidates
	rc.Status = domain.RunStatusAwaitingInput
	e.emit(rc, domain.EventTypeAwaitingSelection, candidates)
	return nil
}

// ApplySelection records a domain selection on a suspended run and moves it
// back to RUNNING. An empty chosenDomain applies the default selection
// policy. The selection is final; later submissions are rejected. The run is
// not advanced: the caller decides on which goroutine the remaining stages
// run.
func (e *Engine) ApplySelection(rc *domain.RunContext, chosenDomain string) error {
	if rc.Status != domain.RunStatusAwaitingInput {
		return &domain.BranchError{
			Kind:    domain.ErrKindInvalidDomain,
			Message: fmt.Sprintf("run is %s, not awaiting selection", rc.Status),
		}
	}

	defaulted := chosenDomain == ""
	if defaulted {
		chosenDomain = DefaultSelection(rc.Candidates)
	} else if !candidateListed(rc.Candidates, chosenDomain) {
		return &domain.BranchError{
			Kind:    domain.ErrKindInvalidDomain,
			Message: fmt.Sprintf("%q is not a ranked candidate", chosenDomain),
		}
	}

	rc.Selection = &domain.DomainSelection{
		ChosenDomain: chosenDomain,
		Defaulted:    defaulted,
		DecidedAt:    time.Now(),
	}
	rc.Status = domain.RunStatusRunning
	typ := domain.EventTypeSelectionSubmitted
	if defaulted {
		typ = domain.EventTypeSelectionDefaulted
	}
	e.emit(rc, typ, rc.Selection)
	return nil
}

// Resume applies a domain selection and drives the run through its remaining
// stages on the calling goroutine.
func (e *Engine) Resume(ctx context.Context, rc *domain.RunContext, chosenDomain string) error {
	if err := e.ApplySelection(rc, chosenDomain); err != nil {
		return err
	}
	return e.Advance(ctx, rc)
}

// DefaultSelection picks the highest-scored candidate; on a tie the one
// listed first wins.
func DefaultSelection(candidates []domain.DomainCandidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best.Domain
}

func candidateListed(candidates []domain.DomainCandidate, chosen string) bool {
	for _, c := range candidates {
		if c.Domain == chosen {
			return true
		}
	}
	return false
}

func (e *Engine) runStep(ctx context.Context, rc *domain.RunContext, st step) error {
	e.emit(rc, domain.EventTypeStageStarted, map[string]any{"stage": st.stage})

	out, attempts, err := e.attempt(ctx, rc, st)
	if err != nil {
		return e.fail(rc, string(st.stage), attempts, err)
	}

	if err := rc.Append(st.stage, out); err != nil {
		return e.fail(rc, string(st.stage), attempts, err)
	}
	e.emit(rc, domain.EventTypeStageDone, map[string]any{"stage": st.stage, "attempts": attempts})
	return nil
}

// attempt runs one step under the supervisor. Validation failures feed the
// previous error back as a corrective hint on the retry.
func (e *Engine) attempt(ctx context.Context, rc *domain.RunContext, st step) (json.RawMessage, int, error) {
	var out json.RawMessage
	attempts, err := e.sup.Do(ctx, func(ctx context.Context, attempt int, lastErr error) error {
		inv := agent.Invocation{
			RunID:   rc.RunID,
			Stage:   st.stage,
			Company: rc.Company,
			Inputs:  rc.Slice(st.requires...),
		}
		if st.needsDomain && rc.Selection != nil {
			inv.Domain = rc.Selection.ChosenDomain
		}
		if lastErr != nil && domain.KindOf(lastErr) == domain.ErrKindValidation {
			inv.RetryHint = lastErr.Error()
		}
		var ierr error
		out, ierr = e.runner.Invoke(ctx, inv)
		return ierr
	})
	return out, attempts, err
}

// runParallel executes market_data and competitive_landscape concurrently
// and joins them: both outputs are appended in stage order before either
// failure is surfaced, so a successful sibling is never lost.
func (e *Engine) runParallel(ctx context.Context, rc *domain.RunContext) error {
	type result struct {
		out      json.RawMessage
		attempts int
		err      error
	}
	results := make(map[domain.Stage]*result, len(parallelSteps))

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range parallelSteps {
		if rc.Has(st.stage) {
			continue
		}
		r := &result{}
		results[st.stage] = r
		e.emit(rc, domain.EventTypeStageStarted, map[string]any{"stage": st.stage})
		g.Go(func() error {
			r.out, r.attempts, r.err = e.attempt(gctx, rc, st)
			return r.err
		})
	}
	gerr := g.Wait()

	for _, st := range parallelSteps {
		r := results[st.stage]
		if r == nil || r.err != nil {
			continue
		}
		if err := rc.Append(st.stage, r.out); err != nil {
			return e.fail(rc, string(st.stage), r.attempts, err)
		}
		e.emit(rc, domain.EventTypeStageDone, map[string]any{"stage": st.stage, "attempts": r.attempts})
	}

	if gerr == nil {
		return nil
	}
	for _, st := range parallelSteps {
		if r := results[st.stage]; r != nil && r.err == gerr {
			return e.fail(rc, string(st.stage), r.attempts, r.err)
		}
	}
	for _, st := range parallelSteps {
		if r := results[st.stage]; r != nil && r.err != nil {
			return e.fail(rc, string(st.stage), r.attempts, r.err)
		}
	}
	return gerr
}

// fail records the terminal failure on the run and returns the causing error.
func (e *Engine) fail(rc *domain.RunContext, stepName string, attempts int, err error) error {
	rc.Failure = supervisor.Failure(stepName, attempts, err)
	rc.Status = domain.RunStatusFailed
	now := time.Now()
	rc.EndedAt = &now

	e.emit(rc, domain.EventTypeStageFailed, rc.Failure)
	if domain.KindOf(err) == domain.ErrKindAborted {
		e.emit(rc, domain.EventTypeRunCancelled, rc.Failure)
	} else {
		e.emit(rc, domain.EventTypeRunFailed, rc.Failure)
	}
	log.Printf("ERROR: run %s failed at %s after %d attempts: %v", rc.RunID, stepName, attempts, err)
	return err
}
