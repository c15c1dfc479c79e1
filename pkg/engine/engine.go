package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/stagehand/internal/config"
	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"
)

type (
	// Engine is the library entry point: it holds the handler registry,
	// the validator, the event dispatcher, and the shared state store, and
	// it owns every active run
	Engine struct {
		cfg        *config.Config
		registry   *Registry
		validator  *Validator
		dispatcher *Dispatcher
		stats      *Stats
		evaluator  *Evaluator
		executor   *Executor
		states     StateStore

		defs    sync.Map // api.FlowID -> *api.FlowDefinition
		runs    sync.Map // api.RunID -> *Runner
		results sync.Map // api.RunID -> *api.FlowResult

		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
		started atomic.Bool
	}

	// ValidationFailure is the error StartFlow and LoadDefinition return
	// for a rejected definition. It is the only error surfaced
	// synchronously; once a run starts, failures are data in its result
	ValidationFailure struct {
		Result *ValidationResult
	}
)

var (
	ErrEngineNotStarted = errors.New("engine not started")
	ErrEngineStopped    = errors.New("engine stopped")
	ErrFlowNotFound     = errors.New("flow definition not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrShutdownTimeout  = errors.New("shutdown timed out waiting for runs")
	ErrStateStoreNil    = errors.New("state store cannot be nil")
)

// New creates an engine from the provided configuration and state store.
// The statistics collector is subscribed at maximum priority to every
// lifecycle event type before any host listener can register
func New(cfg *config.Config, states StateStore) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if states == nil {
		return nil, ErrStateStoreNil
	}

	registry := NewRegistry()
	evaluator := NewEvaluator(NewLuaEnv())
	dispatcher := NewDispatcher()
	stats := NewStats()

	validator := NewValidator(
		registry, cfg.ValidationCacheSize, cfg.StrictValidation,
	)
	e := &Engine{
		cfg:        cfg,
		registry:   registry,
		validator:  validator,
		dispatcher: dispatcher,
		stats:      stats,
		evaluator:  evaluator,
		executor:   NewExecutor(registry, evaluator, cfg),
		states:     states,
	}

	listener := stats.Listener()
	for _, t := range api.StepEventTypes {
		if _, err := dispatcher.Subscribe(
			t, MaxListenerPriority, false, listener,
		); err != nil {
			return nil, err
		}
	}
	for _, t := range api.FlowEventTypes {
		if _, err := dispatcher.Subscribe(
			t, MaxListenerPriority, false, listener,
		); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Start installs the engine's JSON logger and makes the engine accept runs
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	slog.SetDefault(
		log.NewWithLevel(os.Stdout, e.cfg.Environment, e.cfg.LogLevel),
	)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	slog.Info("Engine started")
}

// Stop aborts every active run and waits for them to settle, bounded by
// the configured shutdown timeout
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return ErrEngineNotStarted
	}
	e.cancel()

	settled := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(settled)
	}()

	select {
	case <-settled:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.cfg.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// RegisterHandler binds a handler to a step kind
func (e *Engine) RegisterHandler(kind api.StepKind, fn api.Handler) error {
	return e.registry.Register(kind, fn)
}

// RegisterRollback binds a compensating action to a step kind
func (e *Engine) RegisterRollback(kind api.StepKind, fn api.Rollback) error {
	return e.registry.RegisterRollback(kind, fn)
}

// Subscribe registers an event listener at the given priority. Higher
// priorities are delivered first; once listeners are removed after their
// first delivery
func (e *Engine) Subscribe(
	eventType api.EventType, priority int, once bool, listener api.Listener,
) (SubscriptionID, error) {
	return e.dispatcher.Subscribe(eventType, priority, once, listener)
}

// Unsubscribe removes an event listener
func (e *Engine) Unsubscribe(id SubscriptionID) error {
	return e.dispatcher.Unsubscribe(id)
}

// LoadDefinition validates a definition and makes it available for runs.
// Loading the same identity again replaces the stored definition
func (e *Engine) LoadDefinition(def *api.FlowDefinition) error {
	if res := e.validator.Validate(def); !res.Valid {
		return &ValidationFailure{Result: res}
	}
	e.defs.Store(def.ID, def)
	slog.Info("Flow definition loaded",
		log.FlowID(def.ID))
	return nil
}

// GetDefinition returns a previously loaded definition
func (e *Engine) GetDefinition(id api.FlowID) (*api.FlowDefinition, bool) {
	v, ok := e.defs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*api.FlowDefinition), true
}

// StartFlow begins executing a loaded definition and returns the new run's
// ID. Validation problems are the only synchronous error; after this
// returns, every failure is reported through the run's FlowResult and the
// event stream
func (e *Engine) StartFlow(id api.FlowID) (api.RunID, error) {
	if !e.started.Load() {
		return "", ErrEngineNotStarted
	}
	def, ok := e.GetDefinition(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return e.startRun(def)
}

// StartDefinition validates and runs a definition in one call, without
// loading it for reuse
func (e *Engine) StartDefinition(def *api.FlowDefinition) (api.RunID, error) {
	if !e.started.Load() {
		return "", ErrEngineNotStarted
	}
	if res := e.validator.Validate(def); !res.Valid {
		return "", &ValidationFailure{Result: res}
	}
	return e.startRun(def)
}

func (e *Engine) startRun(def *api.FlowDefinition) (api.RunID, error) {
	runID := api.RunID(uuid.New().String())
	runner := NewRunner(
		e.ctx, e.cfg, def, runID,
		e.executor, e.evaluator, e.dispatcher, e.states,
	)
	e.runs.Store(runID, runner)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		res := runner.Run()
		e.results.Store(runID, res)
		e.runs.Delete(runID)
	}()

	slog.Info("Flow run started",
		log.FlowID(def.ID),
		log.RunID(runID))
	return runID, nil
}

// GetResult returns the result of a finished run. A pending run returns
// false, as does an unknown run ID
func (e *Engine) GetResult(runID api.RunID) (*api.FlowResult, bool) {
	if v, ok := e.results.Load(runID); ok {
		return v.(*api.FlowResult), true
	}
	return nil, false
}

// Wait blocks until the run finishes or the context expires
func (e *Engine) Wait(
	ctx context.Context, runID api.RunID,
) (*api.FlowResult, error) {
	for {
		if res, ok := e.GetResult(runID); ok {
			return res, nil
		}
		runner, ok := e.runner(runID)
		if !ok {
			// The runner can disappear between its result being stored
			// and our first lookup; re-check before failing
			if res, ok := e.GetResult(runID); ok {
				return res, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		select {
		case <-runner.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pause stops a run from dispatching new steps
func (e *Engine) Pause(runID api.RunID) error {
	runner, ok := e.runner(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return runner.Pause()
}

// Resume re-starts dispatch for a paused run
func (e *Engine) Resume(runID api.RunID) error {
	runner, ok := e.runner(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return runner.Resume()
}

// Cancel aborts a run, signalling its in-flight steps
func (e *Engine) Cancel(runID api.RunID) error {
	runner, ok := e.runner(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return runner.Cancel()
}

// Stats returns a snapshot of the engine's aggregate statistics
func (e *Engine) Stats() *Snapshot {
	return e.stats.Snapshot()
}

func (e *Engine) runner(runID api.RunID) (*Runner, bool) {
	v, ok := e.runs.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*Runner), true
}

// Error implements the error interface, summarizing the first few defects
func (f *ValidationFailure) Error() string {
	var b strings.Builder
	b.WriteString("flow definition invalid")
	for i, e := range f.Result.Errors {
		if i >= 3 {
			fmt.Fprintf(&b, "; and %d more", len(f.Result.Errors)-i)
			break
		}
		b.WriteString("; ")
		if e.StepID != "" {
			fmt.Fprintf(&b, "%s: ", e.StepID)
		}
		b.WriteString(e.Message)
	}
	return b.String()
}
