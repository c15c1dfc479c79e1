package api

import "time"

type (
	// EventType classifies a lifecycle event broadcast by the engine
	EventType string

	// Event is the payload delivered to subscribed listeners. Step fields
	// are populated only for step-scoped events; Result only for run
	// terminal events
	Event struct {
		Type      EventType            `json:"type"`
		FlowID    FlowID               `json:"flow_id"`
		RunID     RunID                `json:"run_id"`
		StepID    StepID               `json:"step_id,omitempty"`
		Kind      StepKind             `json:"kind,omitempty"`
		Record    *StepExecutionRecord `json:"record,omitempty"`
		Result    *FlowResult          `json:"result,omitempty"`
		Error     string               `json:"error,omitempty"`
		Timestamp time.Time            `json:"timestamp"`
	}

	// Listener receives dispatched events. Listener errors are logged and
	// never interrupt delivery to remaining listeners
	Listener func(*Event) error
)

const (
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepSucceeded EventType = "step_succeeded"
	EventTypeStepFailed    EventType = "step_failed"
	EventTypeStepTimeout   EventType = "step_timeout"
	EventTypeStepSkipped   EventType = "step_skipped"
	EventTypeFlowStarted   EventType = "flow_started"
	EventTypeFlowCompleted EventType = "flow_completed"
	EventTypeFlowFailed    EventType = "flow_failed"
	EventTypeFlowCancelled EventType = "flow_cancelled"
	EventTypeFlowPaused    EventType = "flow_paused"
	EventTypeFlowResumed   EventType = "flow_resumed"
)

// StepEventTypes lists the event types scoped to a single step
var StepEventTypes = []EventType{
	EventTypeStepStarted,
	EventTypeStepSucceeded,
	EventTypeStepFailed,
	EventTypeStepTimeout,
	EventTypeStepSkipped,
}

// FlowEventTypes lists the event types scoped to a whole run
var FlowEventTypes = []EventType{
	EventTypeFlowStarted,
	EventTypeFlowCompleted,
	EventTypeFlowFailed,
	EventTypeFlowCancelled,
	EventTypeFlowPaused,
	EventTypeFlowResumed,
}

// IsStepEvent returns true for step-scoped event types
func (t EventType) IsStepEvent() bool {
	for _, st := range StepEventTypes {
		if t == st {
			return true
		}
	}
	return false
}
