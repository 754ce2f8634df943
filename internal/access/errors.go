package access

import (
	"errors"
	"fmt"
)

// Caller errors.
var (
	// ErrUnauthorized is returned when an operation needs an identity and the
	// request carried no valid token (401).
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden is returned when the identity is valid but not allowed to
	// run the operation (403).
	ErrForbidden = errors.New("operation not permitted")
)

// ConfigurationError means no acceptable handle could be built for an
// operation. It is a server fault (5xx), never a reason to downgrade security.
type ConfigurationError struct {
	Kind OperationKind
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("resolving %s handle: %v", e.Kind, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
