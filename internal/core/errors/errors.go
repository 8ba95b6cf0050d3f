package errors

import (
	"errors"
	"fmt"
)

// Domain errors for the follower delivery pipeline.
var (
	// Upstream
	ErrUpstreamUnauthenticated = errors.New("upstream rejected the session")
	ErrUpstreamTransient       = errors.New("upstream temporarily unavailable")
	ErrNoSession               = errors.New("no credential session available")

	// Transport
	ErrTransportNotConnected = errors.New("transport is not connected")
	ErrTransportClosed       = errors.New("transport has been closed")
	ErrReconnectExhausted    = errors.New("reconnect attempts exhausted")
	ErrAlreadyConnecting     = errors.New("connection attempt already in progress")

	// Generic
	ErrNotFound   = errors.New("resource not found")
	ErrInternal   = errors.New("internal server error")
	ErrBadRequest = errors.New("bad request")
)

// Severity classifies an error for presentation layers, which may suppress
// low-severity noise and surface only medium and above.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError wraps errors with additional context for HTTP responses.
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Err:        ErrUpstreamUnauthenticated,
		Message:    message,
		Code:       "UNAUTHENTICATED",
		StatusCode: 401,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewRateLimitError() *AppError {
	return &AppError{
		Err:        errors.New("rate limit exceeded"),
		Message:    "Too many requests. Please try again later.",
		Code:       "RATE_LIMITED",
		StatusCode: 429,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// TransportErrorKind classifies a transport failure for the reconnection
// state machine.
type TransportErrorKind string

const (
	TransportConnection TransportErrorKind = "connection"
	TransportTimeout    TransportErrorKind = "timeout"
	TransportMessage    TransportErrorKind = "message"
	TransportServer     TransportErrorKind = "server"
)

// TransportError is an error raised by the event-stream transport. Connection
// and timeout kinds drive the reconnection state machine; message kinds are
// logged and dropped with the connection kept alive.
type TransportError struct {
	Kind     TransportErrorKind
	Err      error
	Code     int    // close code, when the failure came from a close frame
	Reason   string // close reason, if any
	Severity Severity
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport %s error: %v (code=%d reason=%q)", e.Kind, e.Err, e.Code, e.Reason)
	}
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError with a default severity for the
// kind: message errors are low, everything else medium.
func NewTransportError(kind TransportErrorKind, err error) *TransportError {
	sev := SeverityMedium
	if kind == TransportMessage {
		sev = SeverityLow
	}
	return &TransportError{Kind: kind, Err: err, Severity: sev}
}
