package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown, already redeemed and expired secrets alike.
	ErrNotFound = errors.New("secret not found")

	ErrPayloadRequired = errors.New("encrypted secret was not specified")
	ErrPayloadTooLarge = errors.New("encrypted secret is too long")
	ErrInvalidDuration = errors.New("invalid duration")
)

// ValidationError reports a rejected create request. Message is written for
// the caller and never contains the payload.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
