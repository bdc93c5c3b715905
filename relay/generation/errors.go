package generation

import (
	"errors"
	"fmt"
)

// Kind classifies completion failures.
type Kind int

const (
	// KindProviderRejected: the provider answered with a non-success status
	// or a response without a usable completion.
	KindProviderRejected Kind = iota + 1
	// KindTransport: the request never produced a response (network, timeout).
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProviderRejected:
		return "provider_rejected"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// CompletionError is returned by Client.Complete. Completion failures are
// never retried.
type CompletionError struct {
	Kind   Kind
	Status int    // HTTP status for KindProviderRejected
	Detail string // provider-supplied detail, for logs only
	Err    error
}

// Error implements the error interface.
func (e *CompletionError) Error() string {
	if e.Kind == KindProviderRejected {
		return fmt.Sprintf("completion %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// IsProviderRejected checks if an error is a provider rejection.
func IsProviderRejected(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce) && ce.Kind == KindProviderRejected
}

// IsTransport checks if an error is a transport failure.
func IsTransport(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce) && ce.Kind == KindTransport
}
