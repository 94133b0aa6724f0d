// Package service owns the run lifecycle: starting runs, driving them in the
// background, selections, cancellation and read models.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/engine"
	"github.com/ambitus/orchestrator/internal/repository"
)

type Service struct {
	store  repository.Store
	engine *engine.Engine
	cfg    *config.Config

	mu     sync.Mutex
	active map[string]*runHandle
}

// runHandle tracks one in-flight run. Its mutex serializes engine access:
// the driver goroutine, selection submissions and cancellation all take it
// before touching the run context.
type runHandle struct {
	mu     sync.Mutex
	rc     *domain.RunContext
	ctx    context.Context
	cancel context.CancelFunc

	// timer arms the auto-selection fallback. It is written by the
	// transition hook, which runs on the goroutine driving the run while
	// that goroutine holds mu, and is read and stopped only under mu.
	timer *time.Timer
}

func New(store repository.Store, eng *engine.Engine, cfg *config.Config) *Service {
	s := &Service{
		store:  store,
		engine: eng,
		cfg:    cfg,
		active: make(map[string]*runHandle),
	}
	eng.OnTransition(s.onTransition)
	return s
}

func (s *Service) handle(runID string) *runHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[runID]
}

func (s *Service) finish(runID string) {
	s.mu.Lock()
	h := s.active[runID]
	delete(s.active, runID)
	s.mu.Unlock()
	if h != nil {
		h.cancel()
	}
}
