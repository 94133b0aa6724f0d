// Package domain defines the core domain models for the pipeline orchestrator.
package domain

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending       RunStatus = "PENDING"
	RunStatusRunning       RunStatus = "RUNNING"
	RunStatusAwaitingInput RunStatus = "AWAITING_INPUT"
	RunStatusSucceeded     RunStatus = "SUCCEEDED"
	RunStatusFailed        RunStatus = "FAILED"
)

// IsTerminal reports whether the status is terminal.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Stage identifies one pipeline stage. Stage names double as the keys of
// RunContext.Outputs.
type Stage string

const (
	StageCompanyResearch      Stage = "company_research"
	StageIndustryAnalysis     Stage = "industry_analysis"
	StageMarketData           Stage = "market_data"
	StageCompetitiveLandscape Stage = "competitive_landscape"
	StageGapAnalysis          Stage = "gap_analysis"
	StageOpportunity          Stage = "opportunity"
	StageReportSynthesis      Stage = "report_synthesis"
)

// Stages lists all pipeline stages in execution order. market_data and
// competitive_landscape carry no dependency on each other; the order here is
// only used for deterministic iteration.
var Stages = []Stage{
	StageCompanyResearch,
	StageIndustryAnalysis,
	StageMarketData,
	StageCompetitiveLandscape,
	StageGapAnalysis,
	StageOpportunity,
	StageReportSynthesis,
}

// ErrorKind classifies a step failure.
type ErrorKind string

const (
	ErrKindUpstreamTransient  ErrorKind = "UpstreamTransient"
	ErrKindValidation         ErrorKind = "ValidationError"
	ErrKindToolUnavailable    ErrorKind = "ToolUnavailable"
	ErrKindToolTimeout        ErrorKind = "ToolTimeout"
	ErrKindNoDomainCandidates ErrorKind = "NoDomainCandidates"
	ErrKindInvalidDomain      ErrorKind = "InvalidDomain"
	ErrKindAborted            ErrorKind = "Aborted"
	ErrKindTimeout            ErrorKind = "Timeout"
)

// EventType represents the type of a trace event.
type EventType string

const (
	EventTypeRunStarted         EventType = "run_started"
	EventTypeStageStarted       EventType = "stage_started"
	EventTypeStageDone          EventType = "stage_done"
	EventTypeStageFailed        EventType = "stage_failed"
	EventTypeAwaitingSelection  EventType = "awaiting_selection"
	EventTypeSelectionSubmitted EventType = "selection_submitted"
	EventTypeSelectionDefaulted EventType = "selection_defaulted"
	EventTypeToolCall           EventType = "tool_call"
	EventTypeRunDone            EventType = "run_done"
	EventTypeRunFailed          EventType = "run_failed"
	EventTypeRunCancelled       EventType = "run_cancelled"
)
