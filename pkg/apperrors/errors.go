package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for propagation decisions.
type Kind string

const (
	// KindIneligible is a business-rule rejection. Expected, user-facing.
	KindIneligible Kind = "INELIGIBLE"
	// KindInvalidTransition is an attempted loan transition from a status
	// that does not permit it. Signals a race or a caller bug.
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	// KindNotFound is an unknown loan, user or wallet.
	KindNotFound Kind = "NOT_FOUND"
	// KindGateway is an external payment system failure. Retryable.
	KindGateway Kind = "GATEWAY_ERROR"
	// KindSystem is an unexpected or persistence failure. Opaque to callers.
	KindSystem Kind = "SYSTEM_ERROR"
)

// Sentinel errors for errors.Is checks.
var (
	ErrIneligible        = errors.New("loan eligibility check failed")
	ErrInvalidTransition = errors.New("invalid loan status transition")
	ErrNotFound          = errors.New("record not found")
	ErrGateway           = errors.New("payment gateway error")
	ErrSystem            = errors.New("system error")
)

// AppError carries an error kind, a user-presentable message and the
// wrapped cause.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given kind and message.
func New(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of an error, defaulting to KindSystem.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindSystem
}

// MessageOf extracts the user-presentable message of an error.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// Ineligible wraps a business-rule rejection. The reason is surfaced
// verbatim to the end user.
func Ineligible(reason string) *AppError {
	return New(KindIneligible, reason, ErrIneligible)
}

// InvalidTransition reports a disallowed status transition.
func InvalidTransition(from, to string) *AppError {
	return New(
		KindInvalidTransition,
		fmt.Sprintf("cannot transition loan from %s to %s", from, to),
		ErrInvalidTransition,
	)
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *AppError {
	return New(
		KindNotFound,
		fmt.Sprintf("%s %s not found", entity, id),
		ErrNotFound,
	)
}

// Gateway wraps an external payment system failure.
func Gateway(message string, err error) *AppError {
	return New(KindGateway, message, errors.Join(ErrGateway, err))
}

// System wraps an unexpected failure. The message shown to callers stays
// opaque; the cause is preserved for logging.
func System(err error) *AppError {
	return New(KindSystem, "Internal server error", errors.Join(ErrSystem, err))
}
