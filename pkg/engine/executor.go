package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/stagehand/internal/config"
	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"
)

type (
	// Executor runs one step to a terminal outcome: pre-condition checks,
	// handler invocation under a deadline, retry policy, post-condition
	// checks, and best-effort rollback. Executors are stateless; one is
	// shared by all runs
	Executor struct {
		registry  *Registry
		evaluator *Evaluator
		cfg       *config.Config
	}

	// Execution is the per-step result handed back to the Flow Runner: one
	// record per attempt plus the final outcome the edges are taken from
	Execution struct {
		Records []api.StepExecutionRecord
		Outcome api.Outcome
	}
)

var (
	ErrPreConditionFailed  = errors.New("required pre-condition not met")
	ErrPostConditionFailed = errors.New("post-condition not met")
	ErrHandlerPanic        = errors.New("step handler panicked")
	ErrStepTimeout         = errors.New("step timed out")
)

// NewExecutor creates an executor over the given handler registry and
// condition evaluator
func NewExecutor(
	registry *Registry, evaluator *Evaluator, cfg *config.Config,
) *Executor {
	return &Executor{
		registry:  registry,
		evaluator: evaluator,
		cfg:       cfg,
	}
}

// Execute runs a step until it produces a terminal outcome. Attempts never
// overlap: attempt N+1 starts only after attempt N's record is finalized.
// Handler panics and errors are converted into failure records and never
// propagate. The provided state snapshot is what conditions read; handlers
// receive a clone of it
func (x *Executor) Execute(
	ctx context.Context, def *api.FlowDefinition, step *api.Step,
	sc *api.StepContext,
) *Execution {
	if rec, ok := x.checkPreConditions(def, step, sc); !ok {
		return &Execution{
			Records: []api.StepExecutionRecord{rec},
			Outcome: api.OutcomeFailure,
		}
	}

	handler, err := x.registry.Get(step.Kind)
	if err != nil {
		rec := failedRecord(step.ID, 1, err)
		return &Execution{
			Records: []api.StepExecutionRecord{rec},
			Outcome: api.OutcomeFailure,
		}
	}

	res := x.runAttempts(ctx, def, step, sc, handler)

	if res.Outcome == api.OutcomeFailure ||
		res.Outcome == api.OutcomeTimeout {
		x.rollback(ctx, step, sc)
	}
	return res
}

func (x *Executor) runAttempts(
	ctx context.Context, def *api.FlowDefinition, step *api.Step,
	sc *api.StepContext, handler api.Handler,
) *Execution {
	res := &Execution{}
	attempts := x.retryBudget(step) + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		sc.Attempt = attempt
		rec := x.attempt(ctx, step, sc, handler, attempt)

		if rec.Outcome == api.OutcomeSuccess {
			if failed := x.checkPostConditions(def, step, sc); failed != nil {
				rec.Outcome = api.OutcomeFailure
				rec.Error = failed.Error()
				res.Records = append(res.Records, rec)
				res.Outcome = api.OutcomeFailure
				return res
			}
		}

		res.Records = append(res.Records, rec)
		res.Outcome = rec.Outcome

		if rec.Outcome == api.OutcomeSuccess ||
			rec.Outcome == api.OutcomeCancelled {
			return res
		}

		if attempt < attempts {
			slog.Debug("Retrying step",
				log.StepID(step.ID),
				log.Attempt(attempt),
				log.ErrorString(rec.Error))
			if !x.backoff(ctx, attempt) {
				return res
			}
		}
	}
	return res
}

// attempt invokes the handler once under the step's deadline. The handler
// runs in its own goroutine so a deadline or run abort settles the attempt
// even when the handler ignores cancellation
func (x *Executor) attempt(
	ctx context.Context, step *api.Step, sc *api.StepContext,
	handler api.Handler, attempt int,
) api.StepExecutionRecord {
	rec := api.StepExecutionRecord{
		StepID:    step.ID,
		Attempt:   attempt,
		StartedAt: time.Now(),
	}

	timeout := x.stepTimeout(step)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- handler(attemptCtx, sc)
	}()

	select {
	case err := <-done:
		rec.FinishedAt = time.Now()
		if err != nil {
			rec.Outcome = api.OutcomeFailure
			rec.Error = err.Error()
			return rec
		}
		rec.Outcome = api.OutcomeSuccess
		return rec

	case <-attemptCtx.Done():
		rec.FinishedAt = time.Now()
		if ctx.Err() != nil {
			rec.Outcome = api.OutcomeCancelled
			rec.Error = ctx.Err().Error()
			return rec
		}
		rec.Outcome = api.OutcomeTimeout
		rec.Error = fmt.Sprintf("%s: after %s", ErrStepTimeout, timeout)
		return rec
	}
}

func (x *Executor) checkPreConditions(
	def *api.FlowDefinition, step *api.Step, sc *api.StepContext,
) (api.StepExecutionRecord, bool) {
	conds := resolveConditions(def, step.PreConditions)
	ok, failed := x.evaluator.EvaluateAll(conds, sc.State)
	if ok {
		return api.StepExecutionRecord{}, true
	}
	err := fmt.Errorf("%w: %v", ErrPreConditionFailed, failed)
	return failedRecord(step.ID, 0, err), false
}

func (x *Executor) checkPostConditions(
	def *api.FlowDefinition, step *api.Step, sc *api.StepContext,
) error {
	conds := resolveConditions(def, step.PostConditions)
	if len(conds) == 0 {
		return nil
	}
	if ok, failed := x.evaluator.EvaluateAll(conds, sc.State); !ok {
		return fmt.Errorf("%w: %v", ErrPostConditionFailed, failed)
	}
	return nil
}

// rollback invokes the step's compensating action when one is declared and
// a rollback handler is registered for its kind. Rollback errors are logged
// and never change the step's outcome
func (x *Executor) rollback(
	ctx context.Context, step *api.Step, sc *api.StepContext,
) {
	if !step.Rollback {
		return
	}
	rb := x.registry.GetRollback(step.Kind)
	if rb == nil {
		slog.Warn("Step declares rollback but none is registered",
			log.StepID(step.ID),
			log.Kind(step.Kind))
		return
	}
	if err := rb(ctx, sc); err != nil {
		slog.Error("Step rollback failed",
			log.StepID(step.ID),
			log.Kind(step.Kind),
			log.Error(err))
	}
}

// backoff sleeps between attempts, honoring run cancellation. Returns false
// when the run was aborted during the wait
func (x *Executor) backoff(ctx context.Context, retryCount int) bool {
	delay := nextRetryDelay(&x.cfg.Retry, retryCount-1)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (x *Executor) stepTimeout(step *api.Step) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	return x.cfg.DefaultStepTimeout
}

func (x *Executor) retryBudget(step *api.Step) int {
	if step.RetryCount > 0 {
		return step.RetryCount
	}
	return x.cfg.DefaultRetryCount
}

func resolveConditions(
	def *api.FlowDefinition, ids []api.ConditionID,
) []*api.Condition {
	var res []*api.Condition
	for _, id := range ids {
		if c := def.GetCondition(id); c != nil {
			res = append(res, c)
		}
	}
	return res
}

func failedRecord(
	stepID api.StepID, attempt int, err error,
) api.StepExecutionRecord {
	now := time.Now()
	return api.StepExecutionRecord{
		StepID:     stepID,
		Attempt:    attempt,
		StartedAt:  now,
		FinishedAt: now,
		Outcome:    api.OutcomeFailure,
		Error:      err.Error(),
	}
}
