package migrate

import "errors"

// CodeNotFound is the code carried by ErrNotFound. Hosts branch on it to treat a
// missing state record as a first run.
const CodeNotFound = "ENOENT"

// StateError is a classified state store error.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ErrNotFound is returned by StateStore.Load when no state record exists yet.
var ErrNotFound = &StateError{Code: CodeNotFound, Message: "migration state not found"}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Code returns the classification code of err, or "" when err is unclassified.
func Code(err error) string {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return stateErr.Code
	}
	return ""
}
