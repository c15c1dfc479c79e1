package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/engine"
)

func stepEvent(
	typ api.EventType, kind api.StepKind, dur time.Duration,
) *api.Event {
	started := time.Now().Add(-dur)
	return &api.Event{
		Type:   typ,
		FlowID: "deploy",
		Kind:   kind,
		Record: &api.StepExecutionRecord{
			StepID:     "build",
			Attempt:    1,
			StartedAt:  started,
			FinishedAt: started.Add(dur),
		},
	}
}

func flowEvent(typ api.EventType, id api.FlowID, ms int64) *api.Event {
	return &api.Event{
		Type:   typ,
		FlowID: id,
		Result: &api.FlowResult{
			FlowID:          id,
			TotalDurationMs: ms,
		},
	}
}

func TestStatsCounts(t *testing.T) {
	as := assert.New(t)
	s := engine.NewStats()
	observe := s.Listener()

	events := []*api.Event{
		flowEvent(api.EventTypeFlowStarted, "deploy", 0),
		stepEvent(api.EventTypeStepSucceeded, "shell", 40*time.Millisecond),
		stepEvent(api.EventTypeStepSucceeded, "shell", 60*time.Millisecond),
		stepEvent(api.EventTypeStepFailed, "http", 20*time.Millisecond),
		stepEvent(api.EventTypeStepTimeout, "http", 80*time.Millisecond),
		flowEvent(api.EventTypeFlowCompleted, "deploy", 200),
		flowEvent(api.EventTypeFlowStarted, "nightly", 0),
		flowEvent(api.EventTypeFlowFailed, "nightly", 100),
	}
	for _, e := range events {
		as.NoError(observe(e))
	}

	snap := s.Snapshot()
	as.Equal(int64(len(events)), snap.TotalEvents)
	as.Equal(int64(2), snap.Events[api.EventTypeStepSucceeded])
	as.Equal(int64(1), snap.Events[api.EventTypeStepTimeout])

	as.Equal(int64(2), snap.Kinds["shell"].Successes)
	as.Equal(int64(1), snap.Kinds["http"].Failures)
	as.Equal(int64(1), snap.Kinds["http"].Timeouts)

	as.Equal(int64(1), snap.Flows["deploy"].Started)
	as.Equal(int64(1), snap.Flows["deploy"].Completed)
	as.Equal(int64(1), snap.Flows["nightly"].Failed)

	as.InDelta(0.5, snap.StepErrorRate, 0.001)
	as.InDelta(50.0, snap.MeanStepMs, 1.0)
	as.InDelta(150.0, snap.MeanFlowMs, 1.0)
}

func TestStatsEmptySnapshot(t *testing.T) {
	as := assert.New(t)
	snap := engine.NewStats().Snapshot()
	as.Zero(snap.TotalEvents)
	as.Zero(snap.StepErrorRate)
	as.Empty(snap.Flows)
	as.Empty(snap.Kinds)
}

func TestStatsCancelledRuns(t *testing.T) {
	as := assert.New(t)
	s := engine.NewStats()
	observe := s.Listener()

	as.NoError(observe(flowEvent(api.EventTypeFlowStarted, "deploy", 0)))
	as.NoError(observe(flowEvent(api.EventTypeFlowCancelled, "deploy", 30)))

	snap := s.Snapshot()
	as.Equal(int64(1), snap.Flows["deploy"].Cancelled)
	as.InDelta(30.0, snap.MeanFlowMs, 0.001)
}
