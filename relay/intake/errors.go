package intake

import (
	"errors"
	"fmt"
)

// Kind classifies intake failures.
type Kind int

const (
	// KindTransferFailed covers resolving, fetching and writing the file.
	KindTransferFailed Kind = iota + 1
)

// IntakeError reports a failed download.
type IntakeError struct {
	Kind     Kind
	UniqueID string
	Err      error
}

// Error implements the error interface.
func (e *IntakeError) Error() string {
	return fmt.Sprintf("intake of %s failed: %v", e.UniqueID, e.Err)
}

func (e *IntakeError) Unwrap() error {
	return e.Err
}

// IsTransferFailed checks if an error is a failed transfer.
func IsTransferFailed(err error) bool {
	var ie *IntakeError
	return errors.As(err, &ie) && ie.Kind == KindTransferFailed
}

// ErrTooLarge is wrapped when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")
