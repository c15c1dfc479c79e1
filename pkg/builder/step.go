package builder

import (
	"maps"
	"slices"
	"time"

	"github.com/kode4food/stagehand/pkg/api"
)

// Step assembles one step of a flow definition
type Step struct {
	id        api.StepID
	name      string
	kind      api.StepKind
	target    string
	params    api.Params
	deps      []api.StepID
	timeout   time.Duration
	retries   int
	onSuccess []api.StepID
	onFailure []api.StepID
	onTimeout []api.StepID
	rollback  bool
	pre       []api.ConditionID
	post      []api.ConditionID
}

// NewStep creates a step builder for the given kind. The step's ID is
// derived from the name unless WithID overrides it
func NewStep(name string, kind api.StepKind) *Step {
	return &Step{
		id:   api.StepID(toSnakeCase(name)),
		name: name,
		kind: kind,
	}
}

// WithID overrides the derived step ID
func (s *Step) WithID(id api.StepID) *Step {
	res := *s
	res.id = id
	return &res
}

// WithTarget names the subsystem or entity the handler acts on
func (s *Step) WithTarget(target string) *Step {
	res := *s
	res.target = target
	return &res
}

// WithParameter adds one handler parameter
func (s *Step) WithParameter(key string, value any) *Step {
	res := *s
	res.params = maps.Clone(s.params)
	if res.params == nil {
		res.params = api.Params{}
	}
	res.params[key] = value
	return &res
}

// DependsOn adds dependencies that must succeed before this step runs
func (s *Step) DependsOn(deps ...api.StepID) *Step {
	res := *s
	res.deps = append(slices.Clone(s.deps), deps...)
	return &res
}

// WithTimeout bounds each attempt of the step's handler
func (s *Step) WithTimeout(d time.Duration) *Step {
	res := *s
	res.timeout = d
	return &res
}

// WithRetries sets how many times a failing attempt is retried
func (s *Step) WithRetries(n int) *Step {
	res := *s
	res.retries = n
	return &res
}

// OnSuccess adds branch targets taken after a success outcome. Targets may
// be step IDs or the flow_complete/flow_error terminal markers
func (s *Step) OnSuccess(targets ...api.StepID) *Step {
	res := *s
	res.onSuccess = append(slices.Clone(s.onSuccess), targets...)
	return &res
}

// OnFailure adds branch targets taken after a final failure outcome
func (s *Step) OnFailure(targets ...api.StepID) *Step {
	res := *s
	res.onFailure = append(slices.Clone(s.onFailure), targets...)
	return &res
}

// OnTimeout adds branch targets taken after a timeout outcome
func (s *Step) OnTimeout(targets ...api.StepID) *Step {
	res := *s
	res.onTimeout = append(slices.Clone(s.onTimeout), targets...)
	return &res
}

// WithRollback marks the step for compensation on final failure or timeout
func (s *Step) WithRollback() *Step {
	res := *s
	res.rollback = true
	return &res
}

// RequirePre attaches pre-conditions checked before the handler runs
func (s *Step) RequirePre(ids ...api.ConditionID) *Step {
	res := *s
	res.pre = append(slices.Clone(s.pre), ids...)
	return &res
}

// RequirePost attaches post-conditions checked after a success outcome
func (s *Step) RequirePost(ids ...api.ConditionID) *Step {
	res := *s
	res.post = append(slices.Clone(s.post), ids...)
	return &res
}

func (s *Step) build() *api.Step {
	return &api.Step{
		ID:             s.id,
		Name:           s.name,
		Kind:           s.kind,
		Target:         s.target,
		Parameters:     s.params,
		DependsOn:      s.deps,
		TimeoutMs:      s.timeout.Milliseconds(),
		RetryCount:     s.retries,
		OnSuccess:      s.onSuccess,
		OnFailure:      s.onFailure,
		OnTimeout:      s.onTimeout,
		Rollback:       s.rollback,
		PreConditions:  s.pre,
		PostConditions: s.post,
	}
}
