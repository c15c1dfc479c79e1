package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stagehand/internal/assert/helpers"
	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/engine"
)

func newExecutor(t *testing.T, reg *engine.Registry) *engine.Executor {
	t.Helper()
	ev := engine.NewEvaluator(engine.NewLuaEnv())
	return engine.NewExecutor(reg, ev, helpers.NewTestConfig())
}

func stepContext(step *api.Step, state api.State) *api.StepContext {
	return &api.StepContext{
		FlowID: "deploy",
		RunID:  "run-1",
		StepID: step.ID,
		Kind:   step.Kind,
		State:  state,
		States: helpers.NewMemoryState(),
	}
}

func TestExecuteSuccess(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	var calls int32
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	))

	step := &api.Step{ID: "build", Name: "Build", Kind: "shell"}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeSuccess, res.Outcome)
	as.Len(res.Records, 1)
	as.Equal(1, res.Records[0].Attempt)
	as.Equal(int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteRetriesExhausted(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	var calls int32
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("disk full")
		},
	))

	step := &api.Step{
		ID: "build", Name: "Build", Kind: "shell", RetryCount: 2,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Len(res.Records, 3)
	as.Equal(int32(3), atomic.LoadInt32(&calls))
	for i, rec := range res.Records {
		as.Equal(i+1, rec.Attempt)
		as.Equal(api.OutcomeFailure, rec.Outcome)
		as.Contains(rec.Error, "disk full")
	}
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	var calls int32
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	))

	step := &api.Step{
		ID: "build", Name: "Build", Kind: "shell", RetryCount: 5,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeSuccess, res.Outcome)
	as.Len(res.Records, 3)
	as.Equal(api.OutcomeSuccess, res.Records[2].Outcome)
}

func TestExecuteTimeout(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	require.NoError(t, reg.Register("shell",
		func(ctx context.Context, _ *api.StepContext) error {
			<-ctx.Done()
			time.Sleep(time.Hour)
			return nil
		},
	))

	step := &api.Step{
		ID: "build", Name: "Build", Kind: "shell", TimeoutMs: 20,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}

	started := time.Now()
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeTimeout, res.Outcome)
	as.Less(time.Since(started), 2*time.Second,
		"deadline must settle the attempt even when the handler hangs")
	as.Len(res.Records, 1)
	as.Contains(res.Records[0].Error, "timed out")
}

func TestExecuteCancelled(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			<-block
			return nil
		},
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := &api.Step{
		ID: "build", Name: "Build", Kind: "shell", RetryCount: 3,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		ctx, def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeCancelled, res.Outcome)
	as.Len(res.Records, 1, "cancellation must not be retried")
}

func TestExecutePanicIsFailure(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			panic("nil map write")
		},
	))

	step := &api.Step{ID: "build", Name: "Build", Kind: "shell"}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Contains(res.Records[0].Error, "panicked")
	as.Contains(res.Records[0].Error, "nil map write")
}

func TestExecuteUnknownKind(t *testing.T) {
	as := assert.New(t)
	step := &api.Step{ID: "build", Name: "Build", Kind: "nope"}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, engine.NewRegistry()).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Len(res.Records, 1)
	as.Contains(res.Records[0].Error, "no handler registered")
}

func TestExecutePreConditionBlocks(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	var calls int32
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	))

	step := &api.Step{
		ID: "deploy", Name: "Deploy", Kind: "shell",
		PreConditions: []api.ConditionID{"approved"},
	}
	def := &api.FlowDefinition{
		Steps: []api.Step{*step},
		Conditions: []api.Condition{{
			ID:       "approved",
			Type:     api.ConditionStateCheck,
			Target:   "approved",
			Operator: api.OperatorEquals,
			Value:    true,
			Required: true,
		}},
	}

	res := newExecutor(t, reg).Execute(
		context.Background(), def, step,
		stepContext(step, api.State{"approved": false}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Len(res.Records, 1)
	as.Zero(res.Records[0].Attempt,
		"pre-condition failure precedes the first attempt")
	as.Contains(res.Records[0].Error, "pre-condition")
	as.Zero(atomic.LoadInt32(&calls), "handler must not be invoked")
}

func TestExecutePostConditionDowngrades(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	var calls int32
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	))

	step := &api.Step{
		ID: "deploy", Name: "Deploy", Kind: "shell", RetryCount: 3,
		PostConditions: []api.ConditionID{"healthy"},
	}
	def := &api.FlowDefinition{
		Steps: []api.Step{*step},
		Conditions: []api.Condition{{
			ID:       "healthy",
			Type:     api.ConditionStateCheck,
			Target:   "health",
			Operator: api.OperatorEquals,
			Value:    "ok",
			Required: true,
		}},
	}

	res := newExecutor(t, reg).Execute(
		context.Background(), def, step,
		stepContext(step, api.State{"health": "degraded"}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Len(res.Records, 1, "post-condition failure must not be retried")
	as.Equal(api.OutcomeFailure, res.Records[0].Outcome)
	as.Contains(res.Records[0].Error, "post-condition")
	as.Equal(int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteRollbackOnFailure(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			return errors.New("boom")
		},
	))
	var rolledBack int32
	require.NoError(t, reg.RegisterRollback("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&rolledBack, 1)
			return nil
		},
	))

	step := &api.Step{
		ID: "deploy", Name: "Deploy", Kind: "shell", Rollback: true,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeFailure, res.Outcome)
	as.Equal(int32(1), atomic.LoadInt32(&rolledBack),
		"rollback runs once after the final failed attempt")
}

func TestExecuteNoRollbackOnSuccess(t *testing.T) {
	as := assert.New(t)
	reg := engine.NewRegistry()
	require.NoError(t, reg.Register("shell",
		func(_ context.Context, _ *api.StepContext) error {
			return nil
		},
	))
	var rolledBack int32
	require.NoError(t, reg.RegisterRollback("shell",
		func(_ context.Context, _ *api.StepContext) error {
			atomic.AddInt32(&rolledBack, 1)
			return nil
		},
	))

	step := &api.Step{
		ID: "deploy", Name: "Deploy", Kind: "shell", Rollback: true,
	}
	def := &api.FlowDefinition{Steps: []api.Step{*step}}
	res := newExecutor(t, reg).Execute(
		context.Background(), def, step, stepContext(step, api.State{}),
	)

	as.Equal(api.OutcomeSuccess, res.Outcome)
	as.Zero(atomic.LoadInt32(&rolledBack))
}
