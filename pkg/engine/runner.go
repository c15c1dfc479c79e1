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
	"github.com/kode4food/stagehand/pkg/util"
)

type (
	// Runner drives one flow execution end-to-end. All run-local state is
	// owned by the runner's event loop: step terminations and control
	// commands are serialized through channels, so concurrent steps never
	// race on the scheduler
	Runner struct {
		cfg        *config.Config
		def        *api.FlowDefinition
		runID      api.RunID
		executor   *Executor
		evaluator  *Evaluator
		dispatcher *Dispatcher
		states     StateStore

		sched   *Scheduler
		status  api.RunStatus
		records []api.StepExecutionRecord
		errors  []string

		inFlight  int
		paused    bool
		halted    bool
		cancelled bool
		marker    api.StepID
		startedAt time.Time

		terms chan *termination
		cmds  chan *runCommand
		done  chan struct{}

		ctx    context.Context
		cancel context.CancelFunc

		result *api.FlowResult
	}

	// StateStore is the global state surface the engine executes against:
	// handlers write through it, conditions read snapshots from it
	StateStore interface {
		api.StateWriter
		Snapshot(ctx context.Context) (api.State, error)
	}

	termination struct {
		step *api.Step
		exec *Execution
	}

	runCommand struct {
		kind  cmdKind
		reply chan error
	}

	cmdKind int
)

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdCancel
)

var (
	ErrRunFinished  = errors.New("run already finished")
	ErrRunNotPaused = errors.New("run is not paused")
	ErrRunNotActive = errors.New("run is not running")

	errFlowGuardUnmet = errors.New("required flow condition not met")
	errFlowTimeout    = errors.New("flow timed out")
)

// NewRunner creates the runner for one execution of a validated definition
func NewRunner(
	ctx context.Context, cfg *config.Config, def *api.FlowDefinition,
	runID api.RunID, executor *Executor, evaluator *Evaluator,
	dispatcher *Dispatcher, states StateStore,
) *Runner {
	runCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		cfg:        cfg,
		def:        def,
		runID:      runID,
		executor:   executor,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		states:     states,
		sched:      NewScheduler(def),
		status:     api.RunNotStarted,
		terms:      make(chan *termination, len(def.Steps)),
		cmds:       make(chan *runCommand),
		done:       make(chan struct{}),
		ctx:        runCtx,
		cancel:     cancel,
	}
}

// Run executes the flow to completion and returns its result. Run never
// returns an error: every failure mode after validation is modeled as data
// in the FlowResult
func (r *Runner) Run() *api.FlowResult {
	defer close(r.done)
	defer r.cancel()

	r.startedAt = time.Now()
	r.transition(api.RunRunning)
	r.emitFlow(api.EventTypeFlowStarted, nil, "")

	if err := r.checkGuards(); err != nil {
		r.errors = append(r.errors, err.Error())
		r.status = api.RunFailed
		return r.finalize()
	}

	flowTimeout := r.flowTimeout()
	defer flowTimeout.Stop()

	r.dispatchReady()
	ctxDone := r.ctx.Done()
	for !r.finished() {
		select {
		case t := <-r.terms:
			r.handleTermination(t)
		case cmd := <-r.cmds:
			cmd.reply <- r.handleCommand(cmd.kind)
		case <-flowTimeout.C:
			r.abort(errFlowTimeout)
		case <-ctxDone:
			r.abort(r.ctx.Err())
			ctxDone = nil
		}
	}
	return r.finalize()
}

// Result returns the run's result once it has reached a terminal state
func (r *Runner) Result() (*api.FlowResult, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return nil, false
	}
}

// Pause stops dispatching new steps; steps already running continue
func (r *Runner) Pause() error {
	return r.command(cmdPause)
}

// Resume re-evaluates and dispatches the current ready set
func (r *Runner) Resume() error {
	return r.command(cmdResume)
}

// Cancel aborts the run: in-flight handlers receive a best-effort abort
// signal and are recorded as cancelled. Rollbacks are not invoked
func (r *Runner) Cancel() error {
	return r.command(cmdCancel)
}

func (r *Runner) command(kind cmdKind) error {
	cmd := &runCommand{kind: kind, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
		return <-cmd.reply
	case <-r.done:
		return ErrRunFinished
	}
}

func (r *Runner) handleCommand(kind cmdKind) error {
	if r.cancelled && kind != cmdCancel {
		return ErrRunFinished
	}
	switch kind {
	case cmdPause:
		if !r.transition(api.RunPaused) {
			return ErrRunNotActive
		}
		r.paused = true
		r.emitFlow(api.EventTypeFlowPaused, nil, "")
		return nil

	case cmdResume:
		if r.status != api.RunPaused {
			return ErrRunNotPaused
		}
		r.transition(api.RunRunning)
		r.paused = false
		r.emitFlow(api.EventTypeFlowResumed, nil, "")
		r.dispatchReady()
		return nil

	case cmdCancel:
		r.abort(context.Canceled)
		return nil
	}
	return nil
}

// abort force-cancels the run: no new dispatches, in-flight steps are
// signalled, and the loop drains their cancelled records before finalizing
func (r *Runner) abort(cause error) {
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.paused = false
	if cause != nil && !errors.Is(cause, context.Canceled) {
		r.errors = append(r.errors, cause.Error())
	}
	r.cancel()
}

func (r *Runner) handleTermination(t *termination) {
	r.inFlight--
	r.records = append(r.records, t.exec.Records...)

	last := &t.exec.Records[len(t.exec.Records)-1]
	if t.exec.Outcome != api.OutcomeSuccess && last.Error != "" {
		r.errors = append(r.errors, fmt.Sprintf(
			"%s: %s", t.step.ID, last.Error,
		))
	}

	if t.exec.Outcome == api.OutcomeSuccess {
		r.sched.MarkSucceeded(t.step.ID)
	} else {
		r.sched.MarkFailed(t.step.ID)
	}

	r.followEdges(t.step, t.exec.Outcome)

	for _, id := range r.sched.Recompute() {
		var kind api.StepKind
		if s := r.def.GetStep(id); s != nil {
			kind = s.Kind
		}
		r.emitStep(api.EventTypeStepSkipped, id, kind, nil, "")
	}

	r.emitStep(
		stepEventFor(t.exec.Outcome), t.step.ID, t.step.Kind,
		last, last.Error,
	)

	r.dispatchReady()
}

// followEdges processes the terminated step's branch list for its outcome.
// Terminal markers end the run immediately; step targets are enabled so a
// failed dependency no longer skips them
func (r *Runner) followEdges(step *api.Step, outcome api.Outcome) {
	var targets []api.StepID
	switch outcome {
	case api.OutcomeSuccess:
		targets = step.OnSuccess
	case api.OutcomeFailure:
		targets = step.OnFailure
	case api.OutcomeTimeout:
		targets = step.OnTimeout
	default:
		return
	}

	for _, target := range targets {
		if api.IsTerminalMarker(target) {
			r.halted = true
			r.marker = target
			continue
		}
		r.sched.Enable(target)
	}
}

func (r *Runner) dispatchReady() {
	if r.paused || r.halted || r.cancelled {
		return
	}
	for _, id := range r.sched.Ready() {
		if r.inFlight >= r.cfg.MaxConcurrentSteps {
			return
		}
		step := r.def.GetStep(id)
		if step == nil || !r.sched.MarkRunning(id) {
			continue
		}
		r.inFlight++
		r.launch(step)
	}
}

func (r *Runner) launch(step *api.Step) {
	sc := &api.StepContext{
		FlowID:     r.def.ID,
		RunID:      r.runID,
		StepID:     step.ID,
		Kind:       step.Kind,
		Target:     step.Target,
		Parameters: step.Parameters,
		State:      r.snapshot(),
		States:     r.states,
	}
	r.emitStep(api.EventTypeStepStarted, step.ID, step.Kind, nil, "")

	go func() {
		exec := r.executor.Execute(r.ctx, r.def, step, sc)
		r.terms <- &termination{step: step, exec: exec}
	}()
}

// snapshot reads the global state as of dispatch. A snapshot failure is
// logged and the step runs against an empty view rather than not at all
func (r *Runner) snapshot() api.State {
	state, err := r.states.Snapshot(r.ctx)
	if err != nil {
		slog.Warn("State snapshot failed",
			log.RunID(r.runID),
			log.Error(err))
		return api.State{}
	}
	return state
}

// checkGuards evaluates the flow-level entry conditions: those not claimed
// by any step as a pre- or post-condition. An unmet required guard fails the
// run before any step is dispatched
func (r *Runner) checkGuards() error {
	if len(r.def.Conditions) == 0 {
		return nil
	}
	claimed := util.Set[api.ConditionID]{}
	for i := range r.def.Steps {
		step := &r.def.Steps[i]
		claimed.Add(step.PreConditions...)
		claimed.Add(step.PostConditions...)
	}

	var conds []*api.Condition
	for i := range r.def.Conditions {
		if c := &r.def.Conditions[i]; !claimed.Contains(c.ID) {
			conds = append(conds, c)
		}
	}
	if len(conds) == 0 {
		return nil
	}
	if ok, failed := r.evaluator.EvaluateAll(conds, r.snapshot()); !ok {
		return fmt.Errorf("%w: %v", errFlowGuardUnmet, failed)
	}
	return nil
}

func (r *Runner) finished() bool {
	if r.inFlight > 0 {
		return false
	}
	if r.halted || r.cancelled {
		return true
	}
	return !r.paused && r.sched.Done()
}

func (r *Runner) finalize() *api.FlowResult {
	completed, failed, skipped := r.sched.Counts()
	finishedAt := time.Now()

	status := r.finalStatus(failed)
	r.status = status

	res := &api.FlowResult{
		FlowID:          r.def.ID,
		RunID:           r.runID,
		Success:         status == api.RunCompleted,
		Status:          status,
		CompletedSteps:  completed,
		FailedSteps:     failed,
		SkippedSteps:    skipped,
		Records:         r.records,
		Errors:          r.errors,
		StartedAt:       r.startedAt,
		FinishedAt:      finishedAt,
		TotalDurationMs: finishedAt.Sub(r.startedAt).Milliseconds(),
	}
	if len(r.records) > 0 {
		var total time.Duration
		for i := range r.records {
			total += r.records[i].Duration()
		}
		res.AvgStepDurationMs =
			(total / time.Duration(len(r.records))).Milliseconds()
	}

	r.result = res
	r.emitFlow(flowEventFor(status), res, "")

	slog.Info("Flow run finished",
		log.FlowID(r.def.ID),
		log.RunID(r.runID),
		log.Status(status))
	return res
}

func (r *Runner) finalStatus(failed []api.StepID) api.RunStatus {
	switch {
	case r.cancelled:
		return api.RunCancelled
	case r.marker == api.MarkerFlowError:
		return api.RunFailed
	case r.marker == api.MarkerFlowComplete:
		return api.RunCompleted
	case len(failed) > 0 || len(r.errors) > 0:
		return api.RunFailed
	}
	return api.RunCompleted
}

func (r *Runner) transition(to api.RunStatus) bool {
	if !runTransitions.CanTransition(r.status, to) {
		return false
	}
	r.status = to
	return true
}

func (r *Runner) flowTimeout() *time.Timer {
	if r.cfg.FlowTimeout > 0 {
		return time.NewTimer(r.cfg.FlowTimeout)
	}
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func (r *Runner) emitStep(
	eventType api.EventType, stepID api.StepID, kind api.StepKind,
	rec *api.StepExecutionRecord, errMsg string,
) {
	r.dispatcher.Dispatch(&api.Event{
		Type:      eventType,
		FlowID:    r.def.ID,
		RunID:     r.runID,
		StepID:    stepID,
		Kind:      kind,
		Record:    rec,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func (r *Runner) emitFlow(
	eventType api.EventType, res *api.FlowResult, errMsg string,
) {
	r.dispatcher.Dispatch(&api.Event{
		Type:      eventType,
		FlowID:    r.def.ID,
		RunID:     r.runID,
		Result:    res,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func stepEventFor(outcome api.Outcome) api.EventType {
	switch outcome {
	case api.OutcomeSuccess:
		return api.EventTypeStepSucceeded
	case api.OutcomeTimeout:
		return api.EventTypeStepTimeout
	default:
		return api.EventTypeStepFailed
	}
}

func flowEventFor(status api.RunStatus) api.EventType {
	switch status {
	case api.RunCompleted:
		return api.EventTypeFlowCompleted
	case api.RunCancelled:
		return api.EventTypeFlowCancelled
	default:
		return api.EventTypeFlowFailed
	}
}
