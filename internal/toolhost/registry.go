// Package toolhost serves named tools to the pipeline over HTTP: discovery
// plus invocation, the serving side of the tool-invocation protocol.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ambitus/orchestrator/internal/domain"
)

// ExecutorFunc executes one tool call.
type ExecutorFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Registry stores tool descriptors and executors keyed by tool name.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]domain.ToolDescriptor
	executors map[string]ExecutorFunc
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]domain.ToolDescriptor),
		executors: make(map[string]ExecutorFunc),
	}
}

// Register adds a tool with its capability descriptor and executor.
func (r *Registry) Register(desc domain.ToolDescriptor, exec ExecutorFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[desc.Name]; exists {
		return fmt.Errorf("executor already registered for %s", desc.Name)
	}
	r.tools[desc.Name] = desc
	r.executors[desc.Name] = exec
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(desc domain.ToolDescriptor, exec ExecutorFunc) {
	if err := r.Register(desc, exec); err != nil {
		panic(err)
	}
}

// Descriptors returns all registered tool descriptors, sorted by name.
func (r *Registry) Descriptors() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (domain.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Execute runs the executor for the tool name.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	exec := r.executors[name]
	r.mu.RUnlock()
	if exec == nil {
		return nil, fmt.Errorf("no executor registered for %s", name)
	}
	return exec(ctx, params)
}
