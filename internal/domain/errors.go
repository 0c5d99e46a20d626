package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("domain: record not found")
	// ErrConflict is returned by stores when a conditional write lost a race.
	ErrConflict = errors.New("domain: conditional write conflict")

	ErrInvalidParticipants = errors.New("domain: invalid participants")
	ErrInvalidEnvelope     = errors.New("domain: invalid envelope")
)

// ValidationError names the rule a value broke.
type ValidationError struct {
	Kind   error
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func invalid(kind error, reason string) error {
	return &ValidationError{Kind: kind, Reason: reason}
}
