package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunContext identifies one pipeline execution and accumulates every stage's
// output. It is owned exclusively by the sequencing engine: outputs are
// appended once per successful step and never rewritten. Reruns create a new
// RunContext.
type RunContext struct {
	RunID     string                    `json:"run_id"`
	Company   string                    `json:"company"`
	CreatedAt time.Time                 `json:"created_at"`
	Status    RunStatus                 `json:"status"`
	Outputs   map[Stage]json.RawMessage `json:"outputs"`

	// Candidates is populated while Status is AWAITING_INPUT.
	Candidates []DomainCandidate `json:"candidates,omitempty"`
	// Selection is set exactly once, by the caller or by the default policy.
	Selection *DomainSelection `json:"selection,omitempty"`

	Failure *FailureRecord `json:"failure,omitempty"`
	EndedAt *time.Time     `json:"ended_at,omitempty"`
}

// NewRunContext creates a pending run for the given company name.
func NewRunContext(runID, company string) *RunContext {
	return &RunContext{
		RunID:     runID,
		Company:   company,
		CreatedAt: time.Now(),
		Status:    RunStatusPending,
		Outputs:   make(map[Stage]json.RawMessage),
	}
}

// Append records a stage output. A stage key can only be written once.
func (rc *RunContext) Append(stage Stage, output json.RawMessage) error {
	if _, exists := rc.Outputs[stage]; exists {
		return fmt.Errorf("output for stage %s already recorded", stage)
	}
	rc.Outputs[stage] = output
	return nil
}

// Has reports whether all given stage keys are present in Outputs.
func (rc *RunContext) Has(stages ...Stage) bool {
	for _, s := range stages {
		if _, ok := rc.Outputs[s]; !ok {
			return false
		}
	}
	return true
}

// Slice returns a read-only copy of Outputs restricted to the given keys.
// Agents receive only the slice of state their step declares, never the full
// context.
func (rc *RunContext) Slice(stages ...Stage) map[Stage]json.RawMessage {
	out := make(map[Stage]json.RawMessage, len(stages))
	for _, s := range stages {
		if v, ok := rc.Outputs[s]; ok {
			out[s] = v
		}
	}
	return out
}

// Snapshot returns a deep copy suitable for handing to the persistence
// boundary while the engine keeps mutating the original.
func (rc *RunContext) Snapshot() *RunContext {
	cp := *rc
	cp.Outputs = make(map[Stage]json.RawMessage, len(rc.Outputs))
	for k, v := range rc.Outputs {
		cp.Outputs[k] = append(json.RawMessage(nil), v...)
	}
	cp.Candidates = append([]DomainCandidate(nil), rc.Candidates...)
	if rc.Selection != nil {
		sel := *rc.Selection
		cp.Selection = &sel
	}
	if rc.Failure != nil {
		f := *rc.Failure
		cp.Failure = &f
	}
	if rc.EndedAt != nil {
		t := *rc.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// DomainCandidate is one ranked expansion domain from industry analysis.
type DomainCandidate struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
}

// DomainSelection is the human (or defaulted) branch decision.
type DomainSelection struct {
	ChosenDomain string    `json:"chosen_domain"`
	Defaulted    bool      `json:"defaulted"`
	DecidedAt    time.Time `json:"decided_at"`
}

// FailureRecord describes the terminal failure of a step.
type FailureRecord struct {
	Step         string    `json:"step"`
	ErrorKind    ErrorKind `json:"error_kind"`
	Message      string    `json:"message"`
	Retryable    bool      `json:"retryable"`
	AttemptCount int       `json:"attempt_count"`
}

// Event represents a trace event for a run.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
