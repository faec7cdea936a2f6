package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// Migration is one named, ordered step. Steps run in ascending Version order,
// then ascending Title among equal versions.
type Migration struct {
	// Version is the numeric prefix of file-based steps. Zero for steps ordered by Title alone.
	Version     int64
	Title       string
	Description string
	Up          func(ctx context.Context) error
	Down        func(ctx context.Context) error
}

type entry struct {
	Migration
	timestamp int64
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithLogger sets the logger used for progress output.
func WithLogger(log logger.Logger) SetOption {
	return func(s *Set) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEmitter routes store and migration lifecycle events to emitter.
func WithEmitter(emitter *Emitter) SetOption {
	return func(s *Set) {
		s.emitter = emitter
	}
}

// WithClock overrides the time source used for applied timestamps.
func WithClock(now func() time.Time) SetOption {
	return func(s *Set) {
		if now != nil {
			s.now = now
		}
	}
}

// Set is an ordered collection of migrations and their applied state. The state is
// read from and written to the StateStore given to NewSet.
//
// A Set is not safe for concurrent use.
type Set struct {
	store   StateStore
	log     logger.Logger
	emitter *Emitter
	now     func() time.Time

	entries []*entry
	lastRun string
	stored  map[string]AppliedRecord
	orphans []AppliedRecord
}

// NewSet creates a Set persisting its state through store.
func NewSet(store StateStore, opts ...SetOption) (*Set, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	s := &Set{
		log:    logger.Nop(),
		now:    time.Now,
		stored: map[string]AppliedRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = WithEvents(store, s.emitter)
	return s, nil
}

// Add registers m. Titles must be unique and Up is required.
func (s *Set) Add(m Migration) error {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return errors.New("migration title is required")
	}
	if m.Up == nil {
		return fmt.Errorf("migration %s: up step is required", title)
	}
	if s.indexOf(title) >= 0 {
		return fmt.Errorf("migration %s: duplicate title", title)
	}
	m.Title = title

	e := &entry{Migration: m}
	if rec, ok := s.stored[title]; ok {
		e.timestamp = rec.Timestamp
		s.dropOrphan(title)
	}
	s.entries = append(s.entries, e)
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Title < b.Title
	})
	return nil
}

// Load reads the stored state and merges it into the registered migrations. A
// missing record is a first run: every migration stays pending.
func (s *Set) Load(ctx context.Context) error {
	state, err := s.store.Load(ctx)
	if IsNotFound(err) {
		s.log.Info("no migration state found, starting fresh")
		s.reset(&State{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load migration state: %w", err)
	}
	if state == nil {
		state = &State{}
	}
	s.reset(state)
	s.log.Debug("migration state loaded", "last_run", s.lastRun, "records", len(state.Migrations))
	for _, rec := range s.orphans {
		s.log.Warn("stored migration has no registered step", "title", rec.Title)
	}
	return nil
}

func (s *Set) reset(state *State) {
	s.lastRun = state.LastRun
	s.stored = make(map[string]AppliedRecord, len(state.Migrations))
	s.orphans = nil
	for _, rec := range state.Migrations {
		s.stored[rec.Title] = rec
	}
	for _, e := range s.entries {
		e.timestamp = 0
		if rec, ok := s.stored[e.Title]; ok {
			e.timestamp = rec.Timestamp
		}
	}
	for _, rec := range state.Migrations {
		if s.indexOf(rec.Title) < 0 {
			s.orphans = append(s.orphans, rec)
		}
	}
}

// Up applies pending migrations in order, up to and including target. An empty
// target applies everything. State is saved after every applied step, so a failure
// keeps the progress made so far.
func (s *Set) Up(ctx context.Context, target string) (int, error) {
	if target != "" && s.indexOf(target) < 0 {
		return 0, fmt.Errorf("migration %s not found", target)
	}

	applied := 0
	for _, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if e.timestamp == 0 {
			s.log.Info("applying migration", "title", e.Title)
			if err := e.Up(ctx); err != nil {
				return applied, fmt.Errorf("apply migration %s: %w", e.Title, err)
			}
			e.timestamp = s.now().UnixMilli()
			s.lastRun = e.Title
			applied++
			s.emitter.Emit(Event{Type: EventMigration, Migration: e.Title, Direction: DirectionUp})
			if err := s.save(ctx); err != nil {
				return applied, err
			}
		}
		if e.Title == target {
			break
		}
	}
	return applied, nil
}

// Down reverts the last steps applied migrations, newest first, saving after each.
func (s *Set) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return 0, errors.New("steps must be greater than zero")
	}

	reverted := 0
	for i := len(s.entries) - 1; i >= 0 && reverted < steps; i-- {
		e := s.entries[i]
		if e.timestamp == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return reverted, err
		}
		if e.Down == nil {
			return reverted, fmt.Errorf("migration %s: down step missing", e.Title)
		}
		s.log.Info("reverting migration", "title", e.Title)
		if err := e.Down(ctx); err != nil {
			return reverted, fmt.Errorf("revert migration %s: %w", e.Title, err)
		}
		e.timestamp = 0
		s.lastRun = s.previousApplied(i)
		reverted++
		s.emitter.Emit(Event{Type: EventMigration, Migration: e.Title, Direction: DirectionDown})
		if err := s.save(ctx); err != nil {
			return reverted, err
		}
	}
	return reverted, nil
}

// Status reports applied and pending migrations in order.
func (s *Set) Status() *Status {
	status := &Status{
		Applied: make([]AppliedMigration, 0),
		Pending: make([]PendingMigration, 0),
	}
	for _, e := range s.entries {
		if e.timestamp == 0 {
			status.Pending = append(status.Pending, PendingMigration{Title: e.Title, Description: e.Description})
			continue
		}
		status.Applied = append(status.Applied, AppliedMigration{Title: e.Title, AppliedAt: time.UnixMilli(e.timestamp).UTC()})
	}
	status.LastRun = s.lastRun
	return status
}

// State returns a snapshot of the current state, including stored records whose
// migration is no longer registered.
func (s *Set) State() *State {
	state := &State{
		LastRun:    s.lastRun,
		Migrations: make([]AppliedRecord, 0, len(s.entries)+len(s.orphans)),
	}
	for _, e := range s.entries {
		state.Migrations = append(state.Migrations, AppliedRecord{
			Title:       e.Title,
			Description: e.Description,
			Timestamp:   e.timestamp,
		})
	}
	state.Migrations = append(state.Migrations, s.orphans...)
	return state
}

// Operations exposes the set to RunParsed. Every operation loads state first.
func (s *Set) Operations() Operations {
	return Operations{
		Up: func(ctx context.Context, target string) (int, error) {
			if err := s.Load(ctx); err != nil {
				return 0, err
			}
			return s.Up(ctx, target)
		},
		Down: func(ctx context.Context, steps int) (int, error) {
			if err := s.Load(ctx); err != nil {
				return 0, err
			}
			return s.Down(ctx, steps)
		},
		Status: func(ctx context.Context) (*Status, error) {
			if err := s.Load(ctx); err != nil {
				return nil, err
			}
			return s.Status(), nil
		},
	}
}

func (s *Set) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.State()); err != nil {
		return fmt.Errorf("save migration state: %w", err)
	}
	return nil
}

func (s *Set) previousApplied(before int) string {
	for i := before - 1; i >= 0; i-- {
		if s.entries[i].timestamp != 0 {
			return s.entries[i].Title
		}
	}
	return ""
}

func (s *Set) indexOf(title string) int {
	for i, e := range s.entries {
		if e.Title == title {
			return i
		}
	}
	return -1
}

func (s *Set) dropOrphan(title string) {
	for i, rec := range s.orphans {
		if rec.Title == title {
			s.orphans = append(s.orphans[:i], s.orphans[i+1:]...)
			return
		}
	}
}
