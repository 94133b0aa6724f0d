package domain

import (
	"errors"
	"fmt"
)

// AgentError is returned when an agent invocation fails. Kind is one of
// UpstreamTransient or ValidationError.
type AgentError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// ToolError is returned when a tool invocation fails. Kind is one of
// ToolUnavailable or ToolTimeout.
type ToolError struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// BranchError is returned at the domain-selection branch. Kind is one of
// NoDomainCandidates or InvalidDomain.
type BranchError struct {
	Kind    ErrorKind
	Message string
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("branch: %s: %s", e.Kind, e.Message)
}

// RunError is a run-level failure. Kind is one of Aborted or Timeout.
type RunError struct {
	Kind    ErrorKind
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run: %s: %s", e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated as
// UpstreamTransient so that network-level failures from agent backends get
// the transient retry policy.
func KindOf(err error) ErrorKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	var be *BranchError
	if errors.As(err, &be) {
		return be.Kind
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrKindUpstreamTransient
}

// Retryable reports whether kind is retryable at all per the supervisor
// policy table.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindUpstreamTransient, ErrKindValidation, ErrKindToolUnavailable, ErrKindToolTimeout:
		return true
	}
	return false
}
