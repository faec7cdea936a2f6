package migrate

import "context"

// StateStore loads and saves the migration state of a Set.
//
// Load returns ErrNotFound when no state has been saved yet. Save replaces the
// stored state with s; concurrent saves are last-write-wins.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

type eventStore struct {
	next    StateStore
	emitter *Emitter
}

// WithEvents wraps store so that lifecycle events reach emitter: EventLoad when
// Load is invoked, EventSave after a successful Save and EventError carrying the
// cause after a failed one.
func WithEvents(store StateStore, emitter *Emitter) StateStore {
	if emitter == nil {
		return store
	}
	return &eventStore{next: store, emitter: emitter}
}

func (s *eventStore) Load(ctx context.Context) (*State, error) {
	s.emitter.Emit(Event{Type: EventLoad})
	return s.next.Load(ctx)
}

func (s *eventStore) Save(ctx context.Context, state *State) error {
	if err := s.next.Save(ctx, state); err != nil {
		s.emitter.Emit(Event{Type: EventError, Err: err})
		return err
	}
	s.emitter.Emit(Event{Type: EventSave})
	return nil
}
