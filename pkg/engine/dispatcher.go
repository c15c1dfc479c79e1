package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"
)

type (
	// SubscriptionID identifies one listener registration
	SubscriptionID string

	// Subscription binds a listener to an event type. Higher priority
	// listeners are delivered first; listeners marked Once are removed
	// after their first delivery
	Subscription struct {
		ID       SubscriptionID
		Type     api.EventType
		Priority int
		Once     bool
		Listener api.Listener
	}

	// Dispatcher is a synchronous, priority-ordered pub/sub hub for step
	// and flow lifecycle events. Listener errors and panics are logged and
	// never interrupt delivery to the remaining listeners
	Dispatcher struct {
		subs map[api.EventType][]*sub
		mu   sync.RWMutex
		seq  uint64
	}

	sub struct {
		Subscription
		seq   uint64
		spent atomic.Bool
	}
)

var (
	ErrListenerNil      = errors.New("listener cannot be nil")
	ErrEventTypeEmpty   = errors.New("event type cannot be empty")
	ErrSubscriptionGone = errors.New("subscription not found")

	// MaxListenerPriority is reserved for engine-internal listeners such
	// as the statistics collector, which must observe events first
	MaxListenerPriority = int(^uint(0) >> 1)
)

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: map[api.EventType][]*sub{},
	}
}

// Subscribe registers a listener for an event type and returns its
// subscription ID. Equal priorities deliver in registration order
func (d *Dispatcher) Subscribe(
	eventType api.EventType, priority int, once bool, listener api.Listener,
) (SubscriptionID, error) {
	if eventType == "" {
		return "", ErrEventTypeEmpty
	}
	if listener == nil {
		return "", ErrListenerNil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	s := &sub{
		Subscription: Subscription{
			ID:       SubscriptionID(uuid.New().String()),
			Type:     eventType,
			Priority: priority,
			Once:     once,
			Listener: listener,
		},
		seq: d.seq,
	}

	list := append(d.subs[eventType], s)
	slices.SortStableFunc(list, func(a, b *sub) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return int(a.seq) - int(b.seq)
	})
	d.subs[eventType] = list
	return s.ID, nil
}

// Unsubscribe removes a listener registration
func (d *Dispatcher) Unsubscribe(id SubscriptionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for eventType, list := range d.subs {
		for i, s := range list {
			if s.ID != id {
				continue
			}
			d.subs[eventType] = slices.Delete(list, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSubscriptionGone, id)
}

// Dispatch delivers an event to all listeners registered for its type, in
// priority order. Delivery is synchronous; the call returns once every
// listener has run
func (d *Dispatcher) Dispatch(e *api.Event) {
	d.mu.RLock()
	list := slices.Clone(d.subs[e.Type])
	d.mu.RUnlock()

	var spent []SubscriptionID
	for _, s := range list {
		if s.Once {
			// claim before delivery; concurrent dispatches of the same
			// type race for the single delivery
			if !s.spent.CompareAndSwap(false, true) {
				continue
			}
			spent = append(spent, s.ID)
		}
		deliver(s, e)
	}

	for _, id := range spent {
		_ = d.Unsubscribe(id)
	}
}

// ListenerCount returns the number of listeners for an event type
func (d *Dispatcher) ListenerCount(eventType api.EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[eventType])
}

func deliver(s *sub, e *api.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panicked",
				log.EventType(e.Type),
				slog.Any("panic", r))
		}
	}()
	if err := s.Listener(e); err != nil {
		slog.Error("Event listener failed",
			log.EventType(e.Type),
			log.Error(err))
	}
}
