package api

import (
	"maps"
	"time"
)

type (
	// RunStatus represents the state of one flow execution
	RunStatus string

	// StepStatus represents the scheduling state of a step within a run
	StepStatus string

	// Outcome is the terminal result of a single execution attempt
	Outcome string

	// State is the global key/value snapshot that conditions read and step
	// handlers may mutate. The engine treats it as opaque data
	State map[string]any

	// StepExecutionRecord describes one attempt of one step. It is created
	// when the attempt is dispatched and immutable once finalized
	StepExecutionRecord struct {
		StepID     StepID    `json:"step_id"`
		Attempt    int       `json:"attempt"`
		StartedAt  time.Time `json:"started_at"`
		FinishedAt time.Time `json:"finished_at,omitempty"`
		Outcome    Outcome   `json:"outcome"`
		Error      string    `json:"error,omitempty"`
	}

	// FlowResult is the immutable summary of one run, returned to the
	// caller and broadcast as the payload of the run's terminal event
	FlowResult struct {
		FlowID            FlowID                `json:"flow_id"`
		RunID             RunID                 `json:"run_id"`
		Success           bool                  `json:"success"`
		Status            RunStatus             `json:"status"`
		CompletedSteps    []StepID              `json:"completed_steps"`
		FailedSteps       []StepID              `json:"failed_steps"`
		SkippedSteps      []StepID              `json:"skipped_steps"`
		Records           []StepExecutionRecord `json:"records"`
		Errors            []string              `json:"errors,omitempty"`
		StartedAt         time.Time             `json:"started_at"`
		FinishedAt        time.Time             `json:"finished_at"`
		TotalDurationMs   int64                 `json:"total_duration_ms"`
		AvgStepDurationMs int64                 `json:"avg_step_duration_ms"`
	}
)

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunPaused     RunStatus = "paused"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

const (
	StepBlocked   StepStatus = "blocked"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Clone returns a shallow copy of the state. Handlers receive clones so that
// condition reads observe the snapshot taken when their step was dispatched
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Duration returns the elapsed time of the attempt
func (r *StepExecutionRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// IsTerminal returns true once the run status permits no further transitions
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// IsTerminal returns true once the step status permits no further transitions
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped:
		return true
	}
	return false
}
