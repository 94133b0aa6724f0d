package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/schema"
)

// ErrRunNotFound is returned for lookups of unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ErrConflict marks requests that clash with the run's current status.
var ErrConflict = errors.New("conflict")

// StartRun creates a run and starts driving it in the background.
func (s *Service) StartRun(ctx context.Context, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		return nil, fmt.Errorf("company_name is required")
	}

	runID := "run_" + uuid.New().String()[:8]
	rc := domain.NewRunContext(runID, company)
	if err := s.store.CreateRun(ctx, rc); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{rc: rc, ctx: runCtx, cancel: cancel}
	s.mu.Lock()
	s.active[runID] = h
	s.mu.Unlock()

	go s.drive(h)

	return &domain.StartRunResponse{RunID: runID, Status: rc.Status}, nil
}

// drive advances the run until it suspends or terminates. Step failures are
// recorded on the run itself; the error here is only logged.
func (s *Service) drive(h *runHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := s.engine.Advance(h.ctx, h.rc); err != nil {
		log.Printf("ERROR: run %s stopped: %v", h.rc.RunID, err)
	}
	if h.rc.Status.IsTerminal() {
		if h.timer != nil {
			h.timer.Stop()
		}
		s.finish(h.rc.RunID)
	}
}

// GetRun returns the external projection of a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunView, error) {
	rc, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if rc == nil {
		return nil, ErrRunNotFound
	}
	return viewOf(rc), nil
}

// ListRuns returns views of the most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*domain.RunView, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	views := make([]*domain.RunView, 0, len(runs))
	for _, rc := range runs {
		views = append(views, viewOf(rc))
	}
	return views, nil
}

// CancelRun aborts a run that has not yet reached a terminal status. The run
// ends FAILED with an Aborted failure record.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.RunView, error) {
	h := s.handle(runID)
	if h == nil {
		rc, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}
		if rc == nil {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("%w: run %s is already %s", ErrConflict, runID, rc.Status)
	}

	// Unblock the driver goroutine, then wait for it to release the run.
	h.cancel()
	h.mu.Lock()
	if !h.rc.Status.IsTerminal() {
		// A suspended run has no driver to observe the cancellation.
		s.engine.Abort(h.rc, "cancelled by caller")
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	view := viewOf(h.rc)
	h.mu.Unlock()

	s.finish(runID)
	return view, nil
}

// GetReport decodes the final report of a succeeded run.
func (s *Service) GetReport(ctx context.Context, runID string) (*domain.ReportDocument, error) {
	rc, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if rc == nil {
		return nil, ErrRunNotFound
	}
	if rc.Status != domain.RunStatusSucceeded {
		return nil, fmt.Errorf("%w: run %s is %s, the report is available once the run succeeds", ErrConflict, runID, rc.Status)
	}

	var doc domain.ReportDocument
	if err := schema.Unmarshal(rc.Outputs[domain.StageReportSynthesis], &doc); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &doc, nil
}

func viewOf(rc *domain.RunContext) *domain.RunView {
	view := &domain.RunView{
		RunID:         rc.RunID,
		Company:       rc.Company,
		Status:        rc.Status,
		CreatedAt:     rc.CreatedAt.UnixMilli(),
		AwaitingInput: rc.Status == domain.RunStatusAwaitingInput,
		Candidates:    rc.Candidates,
		Selection:     rc.Selection,
		Failure:       rc.Failure,
	}
	if rc.EndedAt != nil {
		view.EndedAt = rc.EndedAt.UnixMilli()
	}
	for _, stage := range domain.Stages {
		if rc.Has(stage) {
			view.Stages = append(view.Stages, stage)
		}
	}
	return view
}
