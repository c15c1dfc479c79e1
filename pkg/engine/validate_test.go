package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/engine"
)

func newValidator(strict bool) (*engine.Validator, *engine.Registry) {
	registry := engine.NewRegistry()
	return engine.NewValidator(registry, 16, strict), registry
}

func noopHandler(
	_ context.Context, _ *api.StepContext,
) error {
	return nil
}

func TestValidateAcceptsSoundGraph(t *testing.T) {
	v, registry := newValidator(true)
	require.NoError(t, registry.Register("shell", noopHandler))

	def := &api.FlowDefinition{
		ID:   "pipeline",
		Name: "Pipeline",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "shell"},
			{
				ID:        "b",
				Name:      "B",
				Kind:      "shell",
				DependsOn: []api.StepID{"a"},
				OnSuccess: []api.StepID{api.MarkerFlowComplete},
				OnFailure: []api.StepID{api.MarkerFlowError},
			},
		},
	}

	res := v.Validate(def)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateRejectsCycle(t *testing.T) {
	v, _ := newValidator(false)

	def := &api.FlowDefinition{
		ID:   "cyclic",
		Name: "Cyclic",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "k", DependsOn: []api.StepID{"c"}},
			{ID: "b", Name: "B", Kind: "k", DependsOn: []api.StepID{"a"}},
			{ID: "c", Name: "C", Kind: "k", DependsOn: []api.StepID{"b"}},
		},
	}

	res := v.Validate(def)
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)

	var cycleErr *engine.ValidationError
	for i := range res.Errors {
		if res.Errors[i].Field == "depends_on" {
			cycleErr = &res.Errors[i]
		}
	}
	require.NotNil(t, cycleErr)
	assert.Contains(t, cycleErr.Message, "dependency cycle")
	assert.Contains(t, cycleErr.Message, "->")
}

func TestValidateSelfCycle(t *testing.T) {
	v, _ := newValidator(false)

	def := &api.FlowDefinition{
		ID:   "selfie",
		Name: "Selfie",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "k", DependsOn: []api.StepID{"a"}},
		},
	}

	res := v.Validate(def)
	assert.False(t, res.Valid)
}

func TestValidateReferences(t *testing.T) {
	v, _ := newValidator(false)

	tests := []struct {
		name    string
		step    api.Step
		message string
	}{
		{
			name: "unknown_dependency",
			step: api.Step{
				ID:        "b",
				Name:      "B",
				Kind:      "k",
				DependsOn: []api.StepID{"ghost"},
			},
			message: "unknown dependency",
		},
		{
			name: "marker_as_dependency",
			step: api.Step{
				ID:        "b",
				Name:      "B",
				Kind:      "k",
				DependsOn: []api.StepID{api.MarkerFlowComplete},
			},
			message: "terminal markers",
		},
		{
			name: "unknown_edge_target",
			step: api.Step{
				ID:        "b",
				Name:      "B",
				Kind:      "k",
				OnSuccess: []api.StepID{"ghost"},
			},
			message: "unknown edge target",
		},
		{
			name: "unknown_pre_condition",
			step: api.Step{
				ID:            "b",
				Name:          "B",
				Kind:          "k",
				PreConditions: []api.ConditionID{"ghost"},
			},
			message: "unknown condition",
		},
		{
			name: "unknown_post_condition",
			step: api.Step{
				ID:             "b",
				Name:           "B",
				Kind:           "k",
				PostConditions: []api.ConditionID{"ghost"},
			},
			message: "unknown condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &api.FlowDefinition{
				ID:   api.FlowID("flow_" + tt.name),
				Name: "Flow",
				Steps: []api.Step{
					{ID: "a", Name: "A", Kind: "k"},
					tt.step,
				},
			}

			res := v.Validate(def)
			require.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0].Message, tt.message)
			assert.Equal(t, api.StepID("b"), res.Errors[0].StepID)
		})
	}
}

func TestValidateDuplicateStepID(t *testing.T) {
	v, _ := newValidator(false)

	def := &api.FlowDefinition{
		ID:   "dupes",
		Name: "Dupes",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "k"},
			{ID: "a", Name: "A again", Kind: "k"},
		},
	}

	res := v.Validate(def)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0].Message, "duplicate")
}

func TestValidateStrictKinds(t *testing.T) {
	def := &api.FlowDefinition{
		ID:   "kinds",
		Name: "Kinds",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "unregistered"},
		},
	}

	strict, _ := newValidator(true)
	res := strict.Validate(def)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors[0].Message, "no handler registered")

	lenient, _ := newValidator(false)
	assert.True(t, lenient.Validate(def).Valid)
}

func TestValidateIdempotent(t *testing.T) {
	v, _ := newValidator(false)

	def := &api.FlowDefinition{
		ID:   "cached",
		Name: "Cached",
		Steps: []api.Step{
			{ID: "a", Name: "A", Kind: "k", DependsOn: []api.StepID{"a"}},
		},
		Metadata: api.Metadata{Version: "1.0.0"},
	}

	first := v.Validate(def)
	second := v.Validate(def)
	assert.Same(t, first, second)
	assert.Equal(t, first.Errors, second.Errors)
}
