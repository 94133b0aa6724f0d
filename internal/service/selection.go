package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ambitus/orchestrator/internal/domain"
)

// SubmitSelection applies a domain selection to a suspended run and resumes
// it. An empty domainName applies the default selection policy. Submissions
// after the run has resumed, by timeout or an earlier call, are rejected.
// The caller is acknowledged as soon as the selection is recorded; the
// remaining stages run on their own goroutine, as they do after StartRun.
func (s *Service) SubmitSelection(ctx context.Context, runID, domainName string) (*domain.SelectionResponse, error) {
	h := s.handle(runID)
	if h == nil {
		rc, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}
		if rc == nil {
			return nil, ErrRunNotFound
		}
		return nil, &domain.BranchError{
			Kind:    domain.ErrKindInvalidDomain,
			Message: fmt.Sprintf("run is %s, the selection window is closed", rc.Status),
		}
	}

	h.mu.Lock()
	if err := s.engine.ApplySelection(h.rc, domainName); err != nil {
		h.mu.Unlock()
		// The run stays suspended; the selection window is still open.
		return nil, err
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	resp := &domain.SelectionResponse{
		RunID:        runID,
		ChosenDomain: h.rc.Selection.ChosenDomain,
		Status:       h.rc.Status,
	}
	h.mu.Unlock()

	go s.drive(h)
	return resp, nil
}

// startSelectionTimer arms the auto-selection fallback: when the window
// elapses without a submission, the default policy picks the domain and the
// run resumes.
func (s *Service) startSelectionTimer(runID string) {
	h := s.handle(runID)
	if h == nil || s.cfg.SelectionWait <= 0 {
		return
	}
	h.timer = time.AfterFunc(s.cfg.SelectionWait, func() {
		resp, err := s.SubmitSelection(context.Background(), runID, "")
		if err != nil {
			log.Printf("WARN: auto-selection for run %s: %v", runID, err)
			return
		}
		log.Printf("WARN: run %s selection window elapsed, defaulted to %s", runID, resp.ChosenDomain)
	})
}
