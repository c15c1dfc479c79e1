package statelog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kode4food/timebox"

	"github.com/kode4food/stagehand/pkg/api"
)

type (
	// Log is an event-sourced state transition log over a timebox store.
	// It satisfies the engine's StateStore contract: handlers write through
	// Set and Delete, conditions read point-in-time snapshots
	Log struct {
		exec  *Executor
		store *timebox.Store
		key   timebox.AggregateID
	}

	// Executor manages snapshot persistence and event sourcing
	Executor = timebox.Executor[*Snapshot]

	// Aggregator aggregates snapshots from state transition events
	Aggregator = timebox.Aggregator[*Snapshot]
)

// DefaultName is the log used when the host does not partition state
const DefaultName = "global"

// NewLog creates a state transition log named within the given store
func NewLog(store *timebox.Store, name string) *Log {
	if name == "" {
		name = DefaultName
	}
	return &Log{
		exec:  timebox.NewExecutor(store, NewSnapshot, Appliers),
		store: store,
		key:   Key(name),
	}
}

// Set records a key mutation as a state_changed transition
func (l *Log) Set(ctx context.Context, key string, value any) error {
	_, err := l.exec.Exec(ctx, l.key,
		func(st *Snapshot, ag *Aggregator) error {
			return raise(ag, ChangeTypeSet, StateChangedEvent{
				Key:   key,
				Value: value,
			})
		},
	)
	return err
}

// Delete records a key removal as a state_deleted transition. Deleting an
// absent key is a no-op and appends nothing
func (l *Log) Delete(ctx context.Context, key string) error {
	_, err := l.exec.Exec(ctx, l.key,
		func(st *Snapshot, ag *Aggregator) error {
			if _, ok := st.Current[key]; !ok {
				return nil
			}
			return raise(ag, ChangeTypeDelete, StateDeletedEvent{
				Key: key,
			})
		},
	)
	return err
}

// Snapshot returns the current state as a detached copy
func (l *Log) Snapshot(ctx context.Context) (api.State, error) {
	full, err := l.Full(ctx)
	if err != nil {
		return nil, err
	}
	return full.Current.Clone(), nil
}

// Full returns the current and previous state along with the time of the
// most recent transition
func (l *Log) Full(ctx context.Context) (*Snapshot, error) {
	return l.exec.Exec(ctx, l.key,
		func(st *Snapshot, ag *Aggregator) error {
			return nil
		},
	)
}

// History replays the log's transitions starting at fromSeq. Sequence zero
// returns the full history
func (l *Log) History(
	ctx context.Context, fromSeq int64,
) ([]Transition, error) {
	evs, err := l.store.GetEvents(ctx, l.key, fromSeq)
	if err != nil {
		return nil, err
	}

	res := make([]Transition, 0, len(evs))
	for _, ev := range evs {
		t, err := decodeTransition(ev)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func decodeTransition(ev *timebox.Event) (Transition, error) {
	t := Transition{
		Type:      ChangeType(ev.Type),
		Timestamp: ev.Timestamp,
	}
	switch t.Type {
	case ChangeTypeSet:
		var data StateChangedEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return t, err
		}
		t.Key = data.Key
		t.Value = data.Value
	case ChangeTypeDelete:
		var data StateDeletedEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return t, err
		}
		t.Key = data.Key
	default:
		return t, fmt.Errorf("unexpected state event type: %s", ev.Type)
	}
	return t, nil
}

func raise[E any](ag *Aggregator, typ ChangeType, event E) error {
	return timebox.Raise(ag, timebox.EventType(typ), event)
}
