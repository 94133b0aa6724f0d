package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/agent"
	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/engine"
	"github.com/ambitus/orchestrator/internal/service"
	"github.com/ambitus/orchestrator/tests/helpers"
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

func newTestHandler(t *testing.T) *Handler {
	db := helpers.NewTestSQLiteStore(t)
	svc := service.New(db, engine.New(cannedRunner{}), &config.Config{})
	return NewHandler(svc)
}

func startRun(t *testing.T, h *Handler) string {
	t.Helper()
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"company_name":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	if err := h.StartRun(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.StartRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatalf("expected run_id")
	}
	return resp.RunID
}

func getRun(t *testing.T, h *Handler, runID string) (*domain.RunView, int) {
	t.Helper()
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		return nil, rec.Code
	}

	var view domain.RunView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return &view, rec.Code
}

func waitForStatus(t *testing.T, h *Handler, runID string, want domain.RunStatus) *domain.RunView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, code := getRun(t, h, runID)
		if code == http.StatusOK && view.Status == want {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", runID, want)
	return nil
}

func postSelection(t *testing.T, h *Handler, runID, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+runID+"/selection", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.SubmitSelection(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestStartRunValidation(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	if err := h.StartRun(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	runID := startRun(t, h)
	view := waitForStatus(t, h, runID, domain.RunStatusAwaitingInput)
	if !view.AwaitingInput || len(view.Candidates) != 2 {
		t.Fatalf("unexpected suspended view: %+v", view)
	}

	rec := postSelection(t, h, runID, `{"domain":"B"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sel domain.SelectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sel); err != nil {
		t.Fatalf("decode selection response: %v", err)
	}
	if sel.ChosenDomain != "B" || sel.Status != domain.RunStatusRunning {
		t.Fatalf("unexpected selection response: %+v", sel)
	}
	waitForStatus(t, h, runID, domain.RunStatusSucceeded)

	// Report is available once the run succeeded.
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/report", nil)
	reportRec := httptest.NewRecorder()
	c := e.NewContext(req, reportRec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.GetReport(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if reportRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", reportRec.Code, reportRec.Body.String())
	}
	var report domain.ReportDocument
	if err := json.Unmarshal(reportRec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.ChosenDomain != "B" {
		t.Fatalf("unexpected report: %+v", report)
	}

	// The trace covers the whole run.
	eventsReq := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/events", nil)
	eventsRec := httptest.NewRecorder()
	c = e.NewContext(eventsReq, eventsRec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if eventsRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", eventsRec.Code)
	}
	var eventsResp struct {
		Events []domain.Event `json:"events"`
	}
	if err := json.Unmarshal(eventsRec.Body.Bytes(), &eventsResp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(eventsResp.Events) == 0 {
		t.Fatalf("expected trace events")
	}
	if eventsResp.Events[0].Type != domain.EventTypeRunStarted {
		t.Fatalf("expected run_started first, got %s", eventsResp.Events[0].Type)
	}
}

func TestSelectionConflicts(t *testing.T) {
	h := newTestHandler(t)

	runID := startRun(t, h)
	waitForStatus(t, h, runID, domain.RunStatusAwaitingInput)

	rec := postSelection(t, h, runID, `{"domain":"nope"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = postSelection(t, h, runID, `{"domain":"A"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// The selection is final.
	rec = postSelection(t, h, runID, `{"domain":"B"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := newTestHandler(t)

	_, code := getRun(t, h, "run_missing")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestReportBeforeCompletionConflicts(t *testing.T) {
	h := newTestHandler(t)

	runID := startRun(t, h)
	waitForStatus(t, h, runID, domain.RunStatusAwaitingInput)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/report", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.GetReport(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCancelRunOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	runID := startRun(t, h)
	waitForStatus(t, h, runID, domain.RunStatusAwaitingInput)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+runID+"/cancel", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	if err := h.CancelRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view domain.RunView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Status != domain.RunStatusFailed || view.Failure == nil || view.Failure.ErrorKind != domain.ErrKindAborted {
		t.Fatalf("unexpected cancelled view: %+v", view)
	}
}
