package statelog

import (
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/stagehand/pkg/api"
)

type (
	// ChangeType classifies a state transition
	ChangeType string

	// Snapshot is the aggregated view of the log: the state as it stands,
	// the state before the most recent transition, and when it changed
	Snapshot struct {
		Current     api.State `json:"current"`
		Previous    api.State `json:"previous"`
		LastUpdated time.Time `json:"last_updated"`
	}

	// Transition is one entry of the log's history
	Transition struct {
		Type      ChangeType `json:"type"`
		Key       string     `json:"key"`
		Value     any        `json:"value,omitempty"`
		Timestamp time.Time  `json:"timestamp"`
	}

	// StateChangedEvent records a key being set
	StateChangedEvent struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}

	// StateDeletedEvent records a key being removed
	StateDeletedEvent struct {
		Key string `json:"key"`
	}
)

const (
	ChangeTypeSet    ChangeType = "state_changed"
	ChangeTypeDelete ChangeType = "state_deleted"
)

const StatePrefix = "state"

// Appliers contains the event applier functions for state transitions
var Appliers = makeAppliers()

// NewSnapshot creates an empty snapshot with initialized state maps
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Current:  api.State{},
		Previous: api.State{},
	}
}

// Key returns the aggregate ID for a named state log
func Key(name string) timebox.AggregateID {
	return timebox.NewAggregateID(StatePrefix, timebox.ID(name))
}

// IsStateEvent returns true if the event belongs to a state log aggregate
func IsStateEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == StatePrefix
}

func makeAppliers() timebox.Appliers[*Snapshot] {
	return timebox.Appliers[*Snapshot]{
		timebox.EventType(ChangeTypeSet):    timebox.MakeApplier(stateChanged),
		timebox.EventType(ChangeTypeDelete): timebox.MakeApplier(stateDeleted),
	}
}

func stateChanged(
	st *Snapshot, ev *timebox.Event, data StateChangedEvent,
) *Snapshot {
	next := st.Current.Clone()
	next[data.Key] = data.Value
	return &Snapshot{
		Current:     next,
		Previous:    st.Current,
		LastUpdated: ev.Timestamp,
	}
}

func stateDeleted(
	st *Snapshot, ev *timebox.Event, data StateDeletedEvent,
) *Snapshot {
	next := st.Current.Clone()
	delete(next, data.Key)
	return &Snapshot{
		Current:     next,
		Previous:    st.Current,
		LastUpdated: ev.Timestamp,
	}
}
