package fleet

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestNotPending is returned when the request to complete is
	// missing or no longer pending/approved.
	ErrRequestNotPending = errors.New("request is not pending")
	// ErrOutgoingNotClosed means the incoming request was activated but the
	// outgoing loaner could not be closed.
	ErrOutgoingNotClosed = errors.New("request is active but failed to close outgoing loaner")
)

// ValidationError is a missing or malformed input caught before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
