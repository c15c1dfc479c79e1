package engine

import (
	"slices"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/util"
)

// Scheduler tracks the per-run status of every step in a flow and decides
// which steps are ready to dispatch. It is event-driven: readiness is
// recomputed after each step termination, never on a tick. The Scheduler is
// not safe for concurrent use; the Flow Runner serializes all access
type (
	Scheduler struct {
		def      *api.FlowDefinition
		statuses map[api.StepID]api.StepStatus
		enabled  util.Set[api.StepID]
	}
)

// NewScheduler seeds the step status map: steps with no dependencies start
// ready, all others start blocked
func NewScheduler(def *api.FlowDefinition) *Scheduler {
	s := &Scheduler{
		def:      def,
		statuses: map[api.StepID]api.StepStatus{},
		enabled:  util.Set[api.StepID]{},
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		if len(step.DependsOn) == 0 {
			s.statuses[step.ID] = api.StepReady
			continue
		}
		s.statuses[step.ID] = api.StepBlocked
	}
	return s
}

// Ready returns the steps currently eligible for dispatch, in a stable
// order. The order carries no execution guarantee; concurrent dispatch is
// the Runner's policy
func (s *Scheduler) Ready() []api.StepID {
	var res []api.StepID
	for id, status := range s.statuses {
		if status == api.StepReady {
			res = append(res, id)
		}
	}
	slices.Sort(res)
	return res
}

// Status returns the current status of a step
func (s *Scheduler) Status(id api.StepID) api.StepStatus {
	return s.statuses[id]
}

// MarkRunning transitions a ready step to running
func (s *Scheduler) MarkRunning(id api.StepID) bool {
	return s.transition(id, api.StepRunning)
}

// MarkSucceeded transitions a running step to succeeded
func (s *Scheduler) MarkSucceeded(id api.StepID) bool {
	return s.transition(id, api.StepSucceeded)
}

// MarkFailed transitions a running step to failed. Timeouts and cancelled
// attempts count as failures for dependency purposes
func (s *Scheduler) MarkFailed(id api.StepID) bool {
	return s.transition(id, api.StepFailed)
}

// Enable overrides failure propagation into a step: an onFailure or
// onTimeout edge naming the step keeps it schedulable even though the
// dependency that triggered the edge did not succeed. Enable must be
// applied before readiness is recomputed for the triggering termination
func (s *Scheduler) Enable(id api.StepID) {
	if _, ok := s.statuses[id]; !ok {
		return
	}
	s.enabled.Add(id)
}

// Recompute advances blocked steps whose dependencies have settled and
// cascades skips through the graph to a fixpoint. It returns the steps
// newly skipped by this pass so the Runner can announce them
func (s *Scheduler) Recompute() []api.StepID {
	var skipped []api.StepID
	for changed := true; changed; {
		changed = false
		for i := range s.def.Steps {
			step := &s.def.Steps[i]
			status := s.statuses[step.ID]
			if status != api.StepBlocked && status != api.StepReady {
				continue
			}
			switch s.resolveDeps(step) {
			case depsSatisfied:
				if status == api.StepBlocked {
					s.statuses[step.ID] = api.StepReady
					changed = true
				}
			case depsDoomed:
				s.statuses[step.ID] = api.StepSkipped
				skipped = append(skipped, step.ID)
				changed = true
			}
		}
	}
	slices.Sort(skipped)
	return skipped
}

// Done reports whether the run has no further work: nothing blocked, ready,
// or running remains
func (s *Scheduler) Done() bool {
	for _, status := range s.statuses {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// Counts partitions step IDs by final status for result aggregation
func (s *Scheduler) Counts() (completed, failed, skipped []api.StepID) {
	for id, status := range s.statuses {
		switch status {
		case api.StepSucceeded:
			completed = append(completed, id)
		case api.StepFailed:
			failed = append(failed, id)
		case api.StepSkipped:
			skipped = append(skipped, id)
		}
	}
	slices.Sort(completed)
	slices.Sort(failed)
	slices.Sort(skipped)
	return completed, failed, skipped
}

type depResolution int

const (
	depsPending depResolution = iota
	depsSatisfied
	depsDoomed
)

func (s *Scheduler) resolveDeps(step *api.Step) depResolution {
	enabled := s.enabled.Contains(step.ID)
	res := depsSatisfied
	for _, dep := range step.DependsOn {
		switch s.statuses[dep] {
		case api.StepSucceeded:
		case api.StepFailed, api.StepSkipped:
			if !enabled {
				return depsDoomed
			}
		default:
			res = depsPending
		}
	}
	return res
}

func (s *Scheduler) transition(id api.StepID, to api.StepStatus) bool {
	from, ok := s.statuses[id]
	if !ok || !stepTransitions.CanTransition(from, to) {
		return false
	}
	s.statuses[id] = to
	return true
}
