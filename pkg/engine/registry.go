package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kode4food/stagehand/pkg/api"
)

type (
	// Registry stores the handler bindings the engine invokes by step kind.
	// The engine never inspects a handler; it only needs to know whether
	// the invocation succeeded, failed, or timed out
	Registry struct {
		mu        sync.RWMutex
		handlers  map[api.StepKind]api.Handler
		rollbacks map[api.StepKind]api.Rollback
	}
)

var (
	ErrHandlerNil       = errors.New("handler is nil")
	ErrHandlerExists    = errors.New("handler already registered")
	ErrHandlerNotFound  = errors.New("no handler registered for kind")
	ErrHandlerKindEmpty = errors.New("handler kind empty")
	ErrRollbackNil      = errors.New("rollback is nil")
)

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers:  map[api.StepKind]api.Handler{},
		rollbacks: map[api.StepKind]api.Rollback{},
	}
}

// Register binds a handler to a step kind. Registering the same kind twice
// is an error; hosts replace handlers by unregistering first
func (r *Registry) Register(kind api.StepKind, fn api.Handler) error {
	if kind == "" {
		return ErrHandlerKindEmpty
	}
	if fn == nil {
		return ErrHandlerNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	r.handlers[kind] = fn
	return nil
}

// RegisterRollback binds the compensating action for a step kind. Steps of
// that kind with Rollback set invoke it after a final failure or timeout
func (r *Registry) RegisterRollback(kind api.StepKind, fn api.Rollback) error {
	if kind == "" {
		return ErrHandlerKindEmpty
	}
	if fn == nil {
		return ErrRollbackNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollbacks[kind] = fn
	return nil
}

// Unregister removes the handler and rollback bound to a kind
func (r *Registry) Unregister(kind api.StepKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
	delete(r.rollbacks, kind)
}

// Get returns the handler bound to a kind
func (r *Registry) Get(kind api.StepKind) (api.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, kind)
	}
	return fn, nil
}

// GetRollback returns the rollback bound to a kind, or nil
func (r *Registry) GetRollback(kind api.StepKind) api.Rollback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rollbacks[kind]
}

// Has returns true if a handler is bound to the kind
func (r *Registry) Has(kind api.StepKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}
