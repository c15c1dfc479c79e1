package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/kode4food/stagehand/pkg/api"
)

type (
	// Stats aggregates counts, durations, and error rates across all runs.
	// It observes the dispatcher as a permanent highest-priority listener
	// and never mutates engine or global state
	Stats struct {
		events    map[api.EventType]int64
		flows     map[api.FlowID]*FlowStats
		kinds     map[api.StepKind]*KindStats
		stepTimes runningMean
		flowTimes runningMean
		mu        sync.RWMutex
	}

	// FlowStats tracks per-flow run outcomes
	FlowStats struct {
		Started   int64 `json:"started"`
		Completed int64 `json:"completed"`
		Failed    int64 `json:"failed"`
		Cancelled int64 `json:"cancelled"`
	}

	// KindStats tracks per-handler-kind attempt outcomes
	KindStats struct {
		Successes int64 `json:"successes"`
		Failures  int64 `json:"failures"`
		Timeouts  int64 `json:"timeouts"`
	}

	// Snapshot is a read-only copy of the collected statistics
	Snapshot struct {
		TotalEvents   int64                      `json:"total_events"`
		Events        map[api.EventType]int64    `json:"events"`
		Flows         map[api.FlowID]FlowStats   `json:"flows"`
		Kinds         map[api.StepKind]KindStats `json:"kinds"`
		MeanStepMs    float64                    `json:"mean_step_ms"`
		MeanFlowMs    float64                    `json:"mean_flow_ms"`
		StepErrorRate float64                    `json:"step_error_rate"`
	}

	runningMean struct {
		count int64
		mean  float64
	}
)

// NewStats creates an empty statistics collector
func NewStats() *Stats {
	return &Stats{
		events: map[api.EventType]int64{},
		flows:  map[api.FlowID]*FlowStats{},
		kinds:  map[api.StepKind]*KindStats{},
	}
}

// Listener returns the collector's event listener, registered by the engine
// at maximum priority on every event type
func (s *Stats) Listener() api.Listener {
	return func(e *api.Event) error {
		s.observe(e)
		return nil
	}
}

// Snapshot returns a point-in-time copy of the collected statistics
func (s *Stats) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Events:     maps.Clone(s.events),
		Flows:      map[api.FlowID]FlowStats{},
		Kinds:      map[api.StepKind]KindStats{},
		MeanStepMs: s.stepTimes.mean,
		MeanFlowMs: s.flowTimes.mean,
	}
	for _, n := range s.events {
		snap.TotalEvents += n
	}
	for id, fs := range s.flows {
		snap.Flows[id] = *fs
	}

	var ok, bad int64
	for kind, ks := range s.kinds {
		snap.Kinds[kind] = *ks
		ok += ks.Successes
		bad += ks.Failures + ks.Timeouts
	}
	if total := ok + bad; total > 0 {
		snap.StepErrorRate = float64(bad) / float64(total)
	}
	return snap
}

func (s *Stats) observe(e *api.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[e.Type]++

	switch e.Type {
	case api.EventTypeStepSucceeded:
		s.kindStats(e.Kind).Successes++
		s.observeStepTime(e)
	case api.EventTypeStepFailed:
		s.kindStats(e.Kind).Failures++
		s.observeStepTime(e)
	case api.EventTypeStepTimeout:
		s.kindStats(e.Kind).Timeouts++
		s.observeStepTime(e)
	case api.EventTypeFlowStarted:
		s.flowStats(e.FlowID).Started++
	case api.EventTypeFlowCompleted:
		s.flowStats(e.FlowID).Completed++
		s.observeFlowTime(e)
	case api.EventTypeFlowFailed:
		s.flowStats(e.FlowID).Failed++
		s.observeFlowTime(e)
	case api.EventTypeFlowCancelled:
		s.flowStats(e.FlowID).Cancelled++
		s.observeFlowTime(e)
	}
}

func (s *Stats) observeStepTime(e *api.Event) {
	if e.Record == nil {
		return
	}
	s.stepTimes.add(e.Record.Duration())
}

func (s *Stats) observeFlowTime(e *api.Event) {
	if e.Result == nil {
		return
	}
	s.flowTimes.add(
		time.Duration(e.Result.TotalDurationMs) * time.Millisecond,
	)
}

func (s *Stats) flowStats(id api.FlowID) *FlowStats {
	fs, ok := s.flows[id]
	if !ok {
		fs = &FlowStats{}
		s.flows[id] = fs
	}
	return fs
}

func (s *Stats) kindStats(kind api.StepKind) *KindStats {
	ks, ok := s.kinds[kind]
	if !ok {
		ks = &KindStats{}
		s.kinds[kind] = ks
	}
	return ks
}

func (m *runningMean) add(d time.Duration) {
	m.count++
	ms := float64(d.Milliseconds())
	m.mean += (ms - m.mean) / float64(m.count)
}
