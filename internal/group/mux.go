package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc runs one action on the responder side. The returned value is
// sent back to the dispatcher; a non-nil error becomes a fault response
// attributed to this member.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Mux routes incoming actions to named handlers. Every member of a group
// runs one mux behind its transport responder.
//
// The zero value is not usable; call NewMux.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux returns an empty handler registry.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for the given action name, replacing any previous
// registration.
func (m *Mux) Handle(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = fn
}

// Handles reports whether a handler is registered for name.
func (m *Mux) Handles(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[name]
	return ok
}

// Names returns the registered action names in unspecified order.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the handler registered for action.Name. An unregistered
// name is a handler-level failure (the dispatching member receives a fault,
// not a transport error), so other members can still answer.
func (m *Mux) Dispatch(ctx context.Context, action Action) (any, error) {
	m.mu.RLock()
	fn, ok := m.handlers[action.Name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("group: no handler for action %q", action.Name)
	}
	return fn(ctx, action.Args)
}
