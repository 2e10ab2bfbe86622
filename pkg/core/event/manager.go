// Package event implements the per-pipeline event bus. Events are opaque
// 64-bit identifiers registered up front; emitting one runs every
// registered callback synchronously on the emitting goroutine and releases
// anyone blocked in WaitForEvent.
package event

import (
	"sync"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// Event is an opaque identifier. Applications choose their own values; the
// framework reserves only Null.
type Event uint64

// Null is the reserved zero event.
const Null Event = 0

// HandlerFunc is an event callback. It receives the data passed to
// EmitEvent; a non-nil return is collected as CallbackFail but does not
// stop the remaining callbacks.
type HandlerFunc func(data any) error

type entry struct {
	callbacks []HandlerFunc

	// emitMu serializes emissions of one event so callbacks are never
	// re-entered for the same event.
	emitMu sync.Mutex

	fired bool
	done  chan struct{}
}

// Manager owns the event table of one pipeline. Every pipeline has exactly
// one Manager, shared with its nodes.
type Manager struct {
	mu       sync.Mutex
	events   map[Event]*entry
	observer func(e Event, data any)
	log      *logging.Logger
}

// NewManager creates an empty event table.
func NewManager() *Manager {
	return &Manager{
		events: make(map[Event]*entry),
		log:    logging.GetGlobalLogger().WithComponent("event"),
	}
}

// RegisterEvent inserts the event into the table. Re-registration is
// idempotent and keeps existing callbacks and wait state.
func (m *Manager) RegisterEvent(e Event) status.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e]; !ok {
		m.events[e] = &entry{done: make(chan struct{})}
	}
	return status.Success
}

// RegisterCallback appends the callback to the event's invocation list.
// The event must already be registered.
func (m *Manager) RegisterCallback(e Event, cb HandlerFunc) status.Status {
	if cb == nil {
		return status.Failure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.events[e]
	if !ok {
		return status.EventNotFound
	}
	ent.callbacks = append(ent.callbacks, cb)
	return status.Success
}

// EmitEvent invokes every callback registered on the event, in registration
// order, on the calling goroutine. Callback failures are logged and
// reported as CallbackFail after all callbacks ran. The event's satisfied
// flag is then set and all waiters are released.
func (m *Manager) EmitEvent(e Event, data any) status.Status {
	m.mu.Lock()
	ent, ok := m.events[e]
	if !ok {
		m.mu.Unlock()
		return status.EventNotFound
	}
	callbacks := make([]HandlerFunc, len(ent.callbacks))
	copy(callbacks, ent.callbacks)
	m.mu.Unlock()

	ent.emitMu.Lock()
	defer ent.emitMu.Unlock()

	result := status.Success
	for i, cb := range callbacks {
		if err := cb(data); err != nil {
			m.log.Warningf("callback %d for event 0x%x failed: %v", i, uint64(e), err)
			result = status.CallbackFail
		}
	}

	m.mu.Lock()
	if !ent.fired {
		ent.fired = true
		close(ent.done)
	}
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(e, data)
	}
	return result
}

// SetObserver installs a function invoked after every successful emission,
// with the event and its data. The monitor uses this to stream emissions;
// nil removes the observer.
func (m *Manager) SetObserver(fn func(e Event, data any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// WaitForEvent blocks until the event has been emitted at least once. It
// returns immediately when the event already fired.
func (m *Manager) WaitForEvent(e Event) status.Status {
	m.mu.Lock()
	ent, ok := m.events[e]
	if !ok {
		m.mu.Unlock()
		return status.EventNotFound
	}
	done := ent.done
	m.mu.Unlock()

	<-done
	return status.Success
}

// Fired reports whether the event has been emitted at least once.
func (m *Manager) Fired(e Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.events[e]
	return ok && ent.fired
}
