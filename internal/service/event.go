package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ambitus/orchestrator/internal/domain"
)

// onTransition persists every engine transition: the run row, the stage
// output when one was just appended, and a trace event. It runs on the
// goroutine driving the run.
func (s *Service) onTransition(rc *domain.RunContext, typ domain.EventType, payload any) {
	ctx := context.Background()

	if typ == domain.EventTypeStageDone {
		if m, ok := payload.(map[string]any); ok {
			if stage, ok := m["stage"].(domain.Stage); ok {
				if err := s.store.SaveOutput(ctx, rc.RunID, stage, rc.Outputs[stage]); err != nil {
					log.Printf("WARN: failed to save %s output for run %s: %v", stage, rc.RunID, err)
				}
			}
		}
	}

	if err := s.store.SaveRun(ctx, rc); err != nil {
		log.Printf("WARN: failed to save run %s: %v", rc.RunID, err)
	}
	if err := s.recordEvent(ctx, rc.RunID, typ, payload); err != nil {
		log.Printf("WARN: failed to record %s event for run %s: %v", typ, rc.RunID, err)
	}

	if typ == domain.EventTypeAwaitingSelection {
		s.startSelectionTimer(rc.RunID)
	}
}

// recordEvent appends an event to the run's trace.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload any) error {
	var payloadBytes json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadBytes = b
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}
	return s.store.CreateEvent(ctx, event)
}

// RecordToolCall records a nested citation tool call in the run's trace.
// Installed as the agent adapter's tool-call observer.
func (s *Service) RecordToolCall(runID string, params domain.CitationParams, callErr error) {
	payload := map[string]any{"tool": "citation", "params": params}
	if callErr != nil {
		payload["error"] = callErr.Error()
	}
	if err := s.recordEvent(context.Background(), runID, domain.EventTypeToolCall, payload); err != nil {
		log.Printf("WARN: failed to record tool_call event for run %s: %v", runID, err)
	}
}

// GetRunEvents returns a run's trace events in timestamp order.
func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, limit int) ([]domain.Event, error) {
	rc, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if rc == nil {
		return nil, ErrRunNotFound
	}
	events, err := s.store.GetEvents(ctx, runID, afterTs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}
