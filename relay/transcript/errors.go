package transcript

import (
	"errors"
	"fmt"
)

// PersistenceError reports a snapshot that exists but cannot be read back.
// It is fatal at startup: running on with an empty store would silently
// drop every user's history.
type PersistenceError struct {
	Source string // file path, DSN or key the snapshot came from
	Err    error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("malformed transcript snapshot %s: %v", e.Source, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError checks if an error is a persistence error.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
