package events

import (
	"sync"
	"time"
)

// Event wraps a payload with its type and the time it was published.
type Event struct {
	Type EventData
	At   time.Time
}

// Handler receives published events for the type(s) it subscribed to.
type Handler func(EventData)

// Bus is a process-wide, in-memory publish/subscribe registry keyed by
// EventType. Publish is synchronous and fan-out is unordered across
// subscribers; Publish copies the handler list under the bus's read lock,
// releases it, then calls every handler inline, so handlers must not block
// for long.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers fn to be called whenever an event of type t is
// published. Returns an unsubscribe function.
func (b *Bus) Subscribe(t EventType, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], fn)
	idx := len(b.handlers[t]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[t]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Publish delivers data to every handler subscribed to data.EventType().
func (b *Bus) Publish(data EventData) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[data.EventType()]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if h != nil {
			h(data)
		}
	}
}

// Manager is a thin convenience wrapper some components use instead of
// holding a *Bus directly, mirroring the teacher's Manager/Bus split
// (Manager owns lifecycle, Bus owns dispatch).
type Manager struct {
	bus *Bus
}

// NewManager constructs a Manager over a fresh Bus.
func NewManager() *Manager {
	return &Manager{bus: NewBus()}
}

// Bus returns the underlying Bus for subscription.
func (m *Manager) Bus() *Bus { return m.bus }

// Emit publishes data through the manager's bus.
func (m *Manager) Emit(data EventData) { m.bus.Publish(data) }
