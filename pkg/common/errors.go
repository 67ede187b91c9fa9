package common

import "errors"

// Kind classifies an application error for wire-status mapping and logging.
type Kind string

const (
	KindInvalidPayload  Kind = "INVALID_PAYLOAD"
	KindAuthRequired    Kind = "AUTH_REQUIRED"
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidState    Kind = "INVALID_STATE"
	KindStaleAssignment Kind = "STALE_ASSIGNMENT"
	KindRequestInFlight Kind = "REQUEST_IN_FLIGHT"
	KindNoDrivers       Kind = "NO_DRIVERS_AVAILABLE"
	KindMapUnavailable  Kind = "MAP_UNAVAILABLE"
	KindSelectorFailed  Kind = "SELECTOR_FAILED"
	KindInternal        Kind = "INTERNAL"
)

// AppError represents an application error carrying its domain kind.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError with an explicit kind.
func NewAppError(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func NewInvalidPayloadError(message string, err error) *AppError {
	return &AppError{Kind: KindInvalidPayload, Message: message, Err: err}
}

func NewAuthRequiredError(message string) *AppError {
	return &AppError{Kind: KindAuthRequired, Message: message}
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Kind: KindNotFound, Message: message, Err: err}
}

func NewInvalidStateError(message string) *AppError {
	return &AppError{Kind: KindInvalidState, Message: message}
}

func NewStaleAssignmentError(message string) *AppError {
	return &AppError{Kind: KindStaleAssignment, Message: message}
}

func NewRequestInFlightError(message string) *AppError {
	return &AppError{Kind: KindRequestInFlight, Message: message}
}

func NewNoDriversError(message string) *AppError {
	return &AppError{Kind: KindNoDrivers, Message: message}
}

func NewMapUnavailableError(message string, err error) *AppError {
	return &AppError{Kind: KindMapUnavailable, Message: message, Err: err}
}

func NewSelectorFailedError(message string, err error) *AppError {
	return &AppError{Kind: KindSelectorFailed, Message: message, Err: err}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
