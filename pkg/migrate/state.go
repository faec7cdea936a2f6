package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is the persisted log of applied migrations. Stores serialize it whole and
// never look inside.
type State struct {
	LastRun    string          `json:"lastRun,omitempty" bson:"lastRun,omitempty" yaml:"last_run,omitempty"`
	Migrations []AppliedRecord `json:"migrations" bson:"migrations" yaml:"migrations"`
}

// AppliedRecord is the stored view of one migration.
type AppliedRecord struct {
	Title       string `json:"title" bson:"title" yaml:"title"`
	Description string `json:"description,omitempty" bson:"description,omitempty" yaml:"description,omitempty"`
	// Timestamp is the unix time in milliseconds the migration was applied, 0 when pending.
	Timestamp int64 `json:"timestamp,omitempty" bson:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{LastRun: s.LastRun}
	if s.Migrations != nil {
		out.Migrations = make([]AppliedRecord, len(s.Migrations))
		copy(out.Migrations, s.Migrations)
	}
	return out
}

// EncodeJSON is the JSON form used by stores that keep the state as an opaque blob.
func EncodeJSON(s *State) ([]byte, error) {
	if s == nil {
		return nil, errors.New("migration state is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode migration state: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a blob written by EncodeJSON.
func DecodeJSON(data []byte) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode migration state: %w", err)
	}
	return s, nil
}
