package statelog

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/stagehand/pkg/log"
)

type (
	// Watcher streams state transitions to an observer as they land in the
	// store, via the timebox event hub. Events for other aggregates are
	// ignored
	Watcher struct {
		cons     Consumer
		observer Observer
		stop     chan struct{}
		started  sync.Once
		stopOnce sync.Once
		wg       sync.WaitGroup
	}

	// Consumer consumes events from the event hub
	Consumer = topic.Consumer[*timebox.Event]

	// Observer receives each state transition in store order
	Observer func(*Transition)
)

// NewWatcher creates a watcher over the given hub
func NewWatcher(hub timebox.EventHub, observer Observer) *Watcher {
	return &Watcher{
		cons:     hub.NewConsumer(),
		observer: observer,
		stop:     make(chan struct{}),
	}
}

// Start begins delivering transitions to the observer
func (w *Watcher) Start() {
	w.started.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.watch()
		}()
	})
}

// Stop ends delivery and waits for the watch loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.cons.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.cons.Receive():
			if !ok {
				return
			}
			w.route(ev)
		}
	}
}

func (w *Watcher) route(ev *timebox.Event) {
	if !IsStateEvent(ev) {
		return
	}
	t, err := decodeTransition(ev)
	if err != nil {
		slog.Warn("Undecodable state transition event",
			slog.String("event_type", string(ev.Type)),
			log.Error(err))
		return
	}
	w.observer(&t)
}

// DecodeValue is a helper for observers that carry typed values through the
// log: it remarshals a transition value into the target type
func DecodeValue[T any](t *Transition) (T, error) {
	var res T
	data, err := json.Marshal(t.Value)
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(data, &res)
	return res, err
}
