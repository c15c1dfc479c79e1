package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"
	"github.com/kode4food/stagehand/pkg/util"
)

type (
	// ValidationError describes one defect found in a flow definition
	ValidationError struct {
		StepID  api.StepID `json:"step_id,omitempty"`
		Field   string     `json:"field,omitempty"`
		Message string     `json:"message"`
	}

	// ValidationResult is the outcome of validating one definition. A
	// definition with Valid false is rejected outright; there is no
	// lenient execution mode
	ValidationResult struct {
		Valid  bool              `json:"valid"`
		Errors []ValidationError `json:"errors,omitempty"`
	}

	// Validator validates flow definitions and caches results against the
	// definition's identity, so repeated runs of the same definition pay
	// the graph checks once
	Validator struct {
		cache    *util.LRUCache[*ValidationResult]
		registry *Registry
		strict   bool
	}

	cycleDetector struct {
		graph   map[api.StepID][]api.StepID
		visited util.Set[api.StepID]
		onStack util.Set[api.StepID]
		path    []api.StepID
	}
)

// NewValidator creates a validator. In strict mode a step kind with no
// registered handler is an error; otherwise it is only logged
func NewValidator(registry *Registry, cacheSize int, strict bool) *Validator {
	return &Validator{
		cache:    util.NewLRUCache[*ValidationResult](cacheSize),
		registry: registry,
		strict:   strict,
	}
}

// Validate checks a definition and returns the cached result when the same
// definition identity has been validated before. Validation is idempotent
func (v *Validator) Validate(def *api.FlowDefinition) *ValidationResult {
	res, _ := v.cache.Get(def.Identity(), func() (*ValidationResult, error) {
		return v.validate(def), nil
	})
	return res
}

func (v *Validator) validate(def *api.FlowDefinition) *ValidationResult {
	res := &ValidationResult{Valid: true}

	if err := def.Validate(); err != nil {
		res.add(api.StepID(""), "", err.Error())
	}

	steps := util.Set[api.StepID]{}
	for i := range def.Steps {
		step := &def.Steps[i]
		if steps.Contains(step.ID) {
			res.add(step.ID, "id", "duplicate step ID")
		}
		steps.Add(step.ID)
	}

	conds := util.Set[api.ConditionID]{}
	for i := range def.Conditions {
		conds.Add(def.Conditions[i].ID)
	}

	for i := range def.Steps {
		v.validateStep(res, &def.Steps[i], steps, conds)
	}

	if cycle := findCycle(def); len(cycle) > 0 {
		res.add(cycle[0], "depends_on", fmt.Sprintf(
			"dependency cycle: %s", formatCycle(cycle),
		))
	}

	return res
}

func (v *Validator) validateStep(
	res *ValidationResult, step *api.Step,
	steps util.Set[api.StepID], conds util.Set[api.ConditionID],
) {
	for _, dep := range step.DependsOn {
		if api.IsTerminalMarker(dep) {
			res.add(step.ID, "depends_on",
				"dependencies cannot reference terminal markers")
			continue
		}
		if !steps.Contains(dep) {
			res.add(step.ID, "depends_on", fmt.Sprintf(
				"unknown dependency: %s", dep,
			))
		}
	}

	v.validateEdges(res, step, "on_success", step.OnSuccess, steps)
	v.validateEdges(res, step, "on_failure", step.OnFailure, steps)
	v.validateEdges(res, step, "on_timeout", step.OnTimeout, steps)

	for _, id := range step.PreConditions {
		if !conds.Contains(id) {
			res.add(step.ID, "pre_conditions", fmt.Sprintf(
				"unknown condition: %s", id,
			))
		}
	}
	for _, id := range step.PostConditions {
		if !conds.Contains(id) {
			res.add(step.ID, "post_conditions", fmt.Sprintf(
				"unknown condition: %s", id,
			))
		}
	}

	if v.registry != nil && !v.registry.Has(step.Kind) {
		if v.strict {
			res.add(step.ID, "kind", fmt.Sprintf(
				"no handler registered for kind: %s", step.Kind,
			))
			return
		}
		slog.Warn("Step kind has no registered handler",
			log.StepID(step.ID),
			log.Kind(step.Kind))
	}
}

func (v *Validator) validateEdges(
	res *ValidationResult, step *api.Step, field string,
	targets []api.StepID, steps util.Set[api.StepID],
) {
	for _, target := range targets {
		if api.IsTerminalMarker(target) || steps.Contains(target) {
			continue
		}
		res.add(step.ID, field, fmt.Sprintf(
			"unknown edge target: %s", target,
		))
	}
}

func (res *ValidationResult) add(
	stepID api.StepID, field, message string,
) {
	res.Valid = false
	res.Errors = append(res.Errors, ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
	})
}

// findCycle runs a DFS over the dependency relation, keeping a recursion
// stack; revisiting a node still on the stack is a cycle, reported with its
// path. Returns nil for acyclic definitions
func findCycle(def *api.FlowDefinition) []api.StepID {
	d := &cycleDetector{
		graph:   map[api.StepID][]api.StepID{},
		visited: util.Set[api.StepID]{},
		onStack: util.Set[api.StepID]{},
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		d.graph[step.ID] = step.DependsOn
	}

	for i := range def.Steps {
		if cycle := d.visit(def.Steps[i].ID); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (d *cycleDetector) visit(id api.StepID) []api.StepID {
	if d.onStack.Contains(id) {
		return d.extractCycle(id)
	}
	if d.visited.Contains(id) {
		return nil
	}

	d.visited.Add(id)
	d.onStack.Add(id)
	d.path = append(d.path, id)

	for _, dep := range d.graph[id] {
		if _, ok := d.graph[dep]; !ok {
			continue
		}
		if cycle := d.visit(dep); cycle != nil {
			return cycle
		}
	}

	d.onStack.Remove(id)
	d.path = d.path[:len(d.path)-1]
	return nil
}

func (d *cycleDetector) extractCycle(id api.StepID) []api.StepID {
	for i, node := range d.path {
		if node == id {
			cycle := make([]api.StepID, len(d.path)-i, len(d.path)-i+1)
			copy(cycle, d.path[i:])
			return append(cycle, id)
		}
	}
	return []api.StepID{id, id}
}

func formatCycle(cycle []api.StepID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
