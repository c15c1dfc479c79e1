package engine

import (
	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// Generic state transition tables are used to validate run and step status
// changes
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	runTransitions = StateTransitions[api.RunStatus]{
		api.RunNotStarted: util.SetOf(
			api.RunRunning,
		),
		api.RunRunning: util.SetOf(
			api.RunPaused,
			api.RunCompleted,
			api.RunFailed,
			api.RunCancelled,
		),
		api.RunPaused: util.SetOf(
			api.RunRunning,
			api.RunCancelled,
		),
		api.RunCompleted: {},
		api.RunFailed:    {},
		api.RunCancelled: {},
	}

	stepTransitions = StateTransitions[api.StepStatus]{
		api.StepBlocked: util.SetOf(
			api.StepReady,
			api.StepSkipped,
		),
		api.StepReady: util.SetOf(
			api.StepRunning,
			api.StepSkipped,
		),
		api.StepRunning: util.SetOf(
			api.StepSucceeded,
			api.StepFailed,
		),
		api.StepSucceeded: {},
		api.StepFailed:    {},
		api.StepSkipped:   {},
	}
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}
