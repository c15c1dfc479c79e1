package api

import "context"

type (
	// StepContext carries everything a handler may act on: the step's
	// target and parameters, plus the state snapshot taken at dispatch.
	// Mutations go through States so they are recorded as transitions
	StepContext struct {
		FlowID     FlowID
		RunID      RunID
		StepID     StepID
		Kind       StepKind
		Target     string
		Parameters Params
		Attempt    int
		State      State
		States     StateWriter
	}

	// Handler is the host-supplied capability bound to a step kind. A nil
	// error is success; context cancellation signals timeout or run abort
	Handler func(ctx context.Context, sc *StepContext) error

	// Rollback is the optional compensating action invoked after a step's
	// final failure or timeout. Errors are logged, never propagated
	Rollback func(ctx context.Context, sc *StepContext) error

	// StateWriter records global state mutations so that every change is
	// appended to the state transition log
	StateWriter interface {
		Set(ctx context.Context, key string, value any) error
		Delete(ctx context.Context, key string) error
	}
)
