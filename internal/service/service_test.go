package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/agent"
	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/engine"
	"github.com/ambitus/orchestrator/internal/repository"
)

var cannedOutputs = map[domain.Stage]string{
	domain.StageCompanyResearch:      `{"name":"Acme","industry":"robotics","description":"makes robots","products":["arms"],"headquarters":"Reno","sources":[]}`,
	domain.StageIndustryAnalysis:     `{"opportunities":[{"domain":"A","score":0.9,"rationale":"large","sources":[]},{"domain":"B","score":0.95,"rationale":"underserved","sources":[]}],"sources":[]}`,
	domain.StageMarketData:           `{"market_size_usd":1200000000,"cagr":0.12,"key_drivers":["automation"],"sources":[]}`,
	domain.StageCompetitiveLandscape: `{"competitors":[{"competitor":"X Corp","product":"X1","market_share":0.4,"note":"incumbent"}],"sources":[]}`,
	domain.StageGapAnalysis:          `{"gaps":[{"gap":"no SMB tier","impact":"high","evidence":"pricing"}],"sources":[]}`,
	domain.StageOpportunity:          `{"opportunities":[{"title":"SMB tier","priority":"high","description":"low-cost tier"}],"sources":[]}`,
	domain.StageReportSynthesis:      `{"company":"Acme","chosen_domain":"B","sections":[{"title":"Summary","body":"..."}],"sources":[]}`,
}

type cannedRunner struct{}

func (cannedRunner) Invoke(_ context.Context, inv agent.Invocation) (json.RawMessage, error) {
	return json.RawMessage(cannedOutputs[inv.Stage]), nil
}

// gatedRunner blocks the post-branch stages until the gate closes.
type gatedRunner struct {
	gate <-chan struct{}
}

func (r gatedRunner) Invoke(ctx context.Context, inv agent.Invocation) (json.RawMessage, error) {
	switch inv.Stage {
	case domain.StageMarketData, domain.StageCompetitiveLandscape:
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(cannedOutputs[inv.Stage]), nil
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	return newTestServiceWith(t, cfg, cannedRunner{})
}

func newTestServiceWith(t *testing.T, cfg *config.Config, runner engine.StepRunner) *Service {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if cfg == nil {
		cfg = &config.Config{}
	}
	return New(store, engine.New(runner), cfg)
}

func waitForStatus(t *testing.T, s *Service, runID string, want domain.RunStatus) *domain.RunView {
	t.Helper()
	var view *domain.RunView
	require.Eventually(t, func() bool {
		v, err := s.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		view = v
		return v.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestRunLifecycleWithSelection(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.RunID)

	view := waitForStatus(t, s, resp.RunID, domain.RunStatusAwaitingInput)
	assert.True(t, view.AwaitingInput)
	require.Len(t, view.Candidates, 2)

	sel, err := s.SubmitSelection(ctx, resp.RunID, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", sel.ChosenDomain)
	assert.Equal(t, domain.RunStatusRunning, sel.Status)

	view = waitForStatus(t, s, resp.RunID, domain.RunStatusSucceeded)
	assert.Len(t, view.Stages, len(domain.Stages))
	require.NotNil(t, view.Selection)
	assert.False(t, view.Selection.Defaulted)

	report, err := s.GetReport(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", report.Company)
	assert.Equal(t, "B", report.ChosenDomain)

	events, err := s.GetRunEvents(ctx, resp.RunID, 0, 0)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, domain.EventTypeRunStarted)
	assert.Contains(t, types, domain.EventTypeAwaitingSelection)
	assert.Contains(t, types, domain.EventTypeSelectionSubmitted)
	assert.Contains(t, types, domain.EventTypeRunDone)
}

func TestSubmitSelectionReturnsBeforeRunCompletes(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServiceWith(t, nil, gatedRunner{gate: gate})
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	waitForStatus(t, s, resp.RunID, domain.RunStatusAwaitingInput)

	// The gate only opens after the submission returns, so a submission
	// that drove the remaining stages itself would never come back.
	sel, err := s.SubmitSelection(ctx, resp.RunID, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", sel.ChosenDomain)
	assert.Equal(t, domain.RunStatusRunning, sel.Status)

	view, err := s.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, view.Status)

	close(gate)
	waitForStatus(t, s, resp.RunID, domain.RunStatusSucceeded)
}

func TestSubmitSelectionRejectsUnlistedDomain(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	waitForStatus(t, s, resp.RunID, domain.RunStatusAwaitingInput)

	_, err = s.SubmitSelection(ctx, resp.RunID, "underwater basket weaving")
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindInvalidDomain, domain.KindOf(err))

	// The window is still open.
	sel, err := s.SubmitSelection(ctx, resp.RunID, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", sel.ChosenDomain)
}

func TestSelectionWindowDefaultsOnTimeout(t *testing.T) {
	s := newTestService(t, &config.Config{SelectionWait: 50 * time.Millisecond})
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)

	view := waitForStatus(t, s, resp.RunID, domain.RunStatusSucceeded)
	require.NotNil(t, view.Selection)
	assert.True(t, view.Selection.Defaulted)
	assert.Equal(t, "B", view.Selection.ChosenDomain)

	events, err := s.GetRunEvents(ctx, resp.RunID, 0, 0)
	require.NoError(t, err)
	var defaulted bool
	for _, e := range events {
		if e.Type == domain.EventTypeSelectionDefaulted {
			defaulted = true
		}
	}
	assert.True(t, defaulted)

	// The selection is final once the window has closed.
	_, err = s.SubmitSelection(ctx, resp.RunID, "A")
	require.Error(t, err)
}

func TestCancelSuspendedRun(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	waitForStatus(t, s, resp.RunID, domain.RunStatusAwaitingInput)

	view, err := s.CancelRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Status)
	require.NotNil(t, view.Failure)
	assert.Equal(t, domain.ErrKindAborted, view.Failure.ErrorKind)

	_, err = s.CancelRun(ctx, resp.RunID)
	require.Error(t, err)
	_, err = s.SubmitSelection(ctx, resp.RunID, "A")
	require.Error(t, err)
}

func TestCancelStopsSelectionWindow(t *testing.T) {
	s := newTestService(t, &config.Config{SelectionWait: 200 * time.Millisecond})
	ctx := context.Background()

	resp, err := s.StartRun(ctx, domain.StartRunRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	waitForStatus(t, s, resp.RunID, domain.RunStatusAwaitingInput)

	_, err = s.CancelRun(ctx, resp.RunID)
	require.NoError(t, err)

	// The auto-selection window dies with the run.
	time.Sleep(300 * time.Millisecond)
	view, err := s.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Status)
	assert.Nil(t, view.Selection)
}

func TestStartRunRequiresCompany(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.StartRun(context.Background(), domain.StartRunRequest{CompanyName: "  "})
	require.Error(t, err)
}

func TestGetRunUnknownID(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.GetRun(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.GetReport(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
