package usecase

import (
	"errors"
	"fmt"
	"strings"

	"secure-messaging/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrorInvalidParticipants  ErrorCode = "INVALID_PARTICIPANTS"
	ErrorConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrorMessageNotFound      ErrorCode = "MESSAGE_NOT_FOUND"
	ErrorNotAParticipant      ErrorCode = "NOT_A_PARTICIPANT"
	ErrorInvalidEnvelope      ErrorCode = "INVALID_ENVELOPE"
	ErrorForbidden            ErrorCode = "FORBIDDEN"
	ErrorStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
)

// Sentinels for errors.Is; matching compares codes only.
var (
	ErrInvalidParticipants  = &Error{Code: ErrorInvalidParticipants}
	ErrConversationNotFound = &Error{Code: ErrorConversationNotFound}
	ErrMessageNotFound      = &Error{Code: ErrorMessageNotFound}
	ErrNotAParticipant      = &Error{Code: ErrorNotAParticipant}
	ErrInvalidEnvelope      = &Error{Code: ErrorInvalidEnvelope}
	ErrForbidden            = &Error{Code: ErrorForbidden}
	ErrStoreUnavailable     = &Error{Code: ErrorStoreUnavailable}
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.Code == t.Code
}

// Retryable reports whether a caller may retry the operation with backoff.
func (e *Error) Retryable() bool {
	return e != nil && e.Code == ErrorStoreUnavailable
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// validationError converts a domain.ValidationError into its usecase code.
func validationError(err error) *Error {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return newError(ErrorInvalidInput, "invalid_input", err)
	}
	switch {
	case errors.Is(ve.Kind, domain.ErrInvalidParticipants):
		return newError(ErrorInvalidParticipants, ve.Reason, err)
	case errors.Is(ve.Kind, domain.ErrInvalidEnvelope):
		return newError(ErrorInvalidEnvelope, ve.Reason, err)
	}
	return newError(ErrorInvalidInput, ve.Reason, err)
}

// storeError maps a store failure. Not-found becomes notFound, reasoned by
// the code itself; anything else is reported as the store being unavailable
// with the given reason.
func storeError(err error, notFound ErrorCode, reason string) *Error {
	if errors.Is(err, domain.ErrNotFound) && notFound != "" {
		return newError(notFound, strings.ToLower(string(notFound)), err)
	}
	return newError(ErrorStoreUnavailable, reason, err)
}
