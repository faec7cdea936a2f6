package migrate

import "sync"

// EventType names a lifecycle notification.
type EventType string

const (
	// EventLoad is emitted when a state load starts, before any I/O.
	EventLoad EventType = "load"
	// EventSave is emitted after state was saved.
	EventSave EventType = "save"
	// EventError is emitted when saving state failed.
	EventError EventType = "error"
	// EventMigration is emitted after a migration step ran.
	EventMigration EventType = "migration"
)

// Direction is the direction a migration step ran in.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Event is a lifecycle notification delivered to observers.
type Event struct {
	Type      EventType
	Err       error
	Migration string
	Direction Direction
}

// Observer receives events. Observers run synchronously on the emitting goroutine
// and must not block.
type Observer func(Event)

// Emitter fans events out to subscribed observers. The zero value is ready to use.
type Emitter struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEmitter returns an emitter with the given observers subscribed.
func NewEmitter(observers ...Observer) *Emitter {
	e := &Emitter{}
	for _, o := range observers {
		e.Subscribe(o)
	}
	return e
}

// Subscribe registers o for all subsequent events.
func (e *Emitter) Subscribe(o Observer) {
	if o == nil {
		return
	}
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Emit delivers ev to every observer in subscription order. A nil emitter drops it.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.RUnlock()

	for _, o := range observers {
		o(ev)
	}
}
