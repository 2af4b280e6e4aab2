// Package domain defines the error taxonomy shared by SableDB components.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the connection layer must react to it.
type Kind int

const (
	// KindProtocol: malformed or oversized frame. Reply, then close.
	KindProtocol Kind = iota + 1
	// KindCommand: unknown command, bad arguments, wrong type. Reply, stay open.
	KindCommand
	// KindTimeout: blocking wait or I/O deadline expired.
	KindTimeout
	// KindStorage: the storage engine failed. Reply, stay open.
	KindStorage
	// KindStartup: the server cannot start. Fatal.
	KindStartup
	// KindWorkerFailure: a worker panicked or stopped heartbeating.
	KindWorkerFailure
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindCommand:
		return "command"
	case KindTimeout:
		return "timeout"
	case KindStorage:
		return "storage"
	case KindStartup:
		return "startup"
	case KindWorkerFailure:
		return "worker_failure"
	default:
		return "unknown"
	}
}

// ClosesConnection reports whether an error of this kind terminates the
// client connection after the reply is written.
func (k Kind) ClosesConnection() bool {
	return k == KindProtocol || k == KindWorkerFailure
}

// DomainError is a classified error with a stable code and a wire prefix.
type DomainError struct {
	Kind    Kind
	Code    string // Stable identifier (e.g., "SDB-CMD-4040")
	Prefix  string // RESP error prefix ("ERR", "WRONGTYPE", "NOAUTH")
	Message string
	Details string
	Cause   error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// RESP renders the error as the text of a RESP error reply (without the
// leading '-').
func (e *DomainError) RESP() string {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "ERR"
	}
	if e.Details != "" {
		return prefix + " " + e.Message + ": " + e.Details
	}
	return prefix + " " + e.Message
}

// NewDomainError creates a DomainError with the default "ERR" prefix.
func NewDomainError(kind Kind, code, message string) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Prefix:  "ERR",
		Message: message,
	}
}

func (e *DomainError) clone() *DomainError {
	c := *e
	return &c
}

// WithPrefix returns a copy of the error using a different wire prefix.
func (e *DomainError) WithPrefix(prefix string) *DomainError {
	c := e.clone()
	c.Prefix = prefix
	return c
}

// WithMessagef returns a copy of the error with a formatted message.
func (e *DomainError) WithMessagef(format string, args ...any) *DomainError {
	c := e.clone()
	c.Message = fmt.Sprintf(format, args...)
	return c
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	c := e.clone()
	c.Details = details
	return c
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	c := e.clone()
	c.Cause = cause
	return c
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// KindOf returns the Kind of err. Errors outside the taxonomy are treated
// as command errors.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindCommand
}

// RESP renders any error as RESP error text.
func RESP(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.RESP()
	}
	return "ERR " + err.Error()
}

// ============================================================================
// Protocol Errors (PROTO)
// ============================================================================

var (
	// ErrProtocol indicates a malformed frame.
	ErrProtocol = NewDomainError(KindProtocol, "SDB-PROTO-4000", "Protocol error")

	// ErrFrameTooLarge indicates a frame exceeding server.max_frame_size.
	ErrFrameTooLarge = NewDomainError(KindProtocol, "SDB-PROTO-4130", "Protocol error: frame too large")
)

// ============================================================================
// Command Errors (CMD)
// ============================================================================

var (
	ErrUnknownCommand = NewDomainError(KindCommand, "SDB-CMD-4040", "unknown command")

	ErrWrongArgs = NewDomainError(KindCommand, "SDB-CMD-4001", "wrong number of arguments")

	ErrSyntax = NewDomainError(KindCommand, "SDB-CMD-4002", "syntax error")

	ErrNotInteger = NewDomainError(KindCommand, "SDB-CMD-4003", "value is not an integer or out of range")

	ErrInvalidTimeout = NewDomainError(KindCommand, "SDB-CMD-4004", "timeout is not a float or out of range")

	ErrInvalidExpire = NewDomainError(KindCommand, "SDB-CMD-4005", "invalid expire time")

	// ErrWrongType is reported when a command targets a key holding another type.
	ErrWrongType = NewDomainError(KindCommand, "SDB-CMD-4090", "Operation against a key holding the wrong kind of value").WithPrefix("WRONGTYPE")

	ErrNoAuth = NewDomainError(KindCommand, "SDB-AUTH-4010", "Authentication required.").WithPrefix("NOAUTH")

	ErrWrongPass = NewDomainError(KindCommand, "SDB-AUTH-4011", "invalid username-password pair or user is disabled.").WithPrefix("WRONGPASS")

	ErrAuthNotConfigured = NewDomainError(KindCommand, "SDB-AUTH-4012", "AUTH <password> called without any password configured for the default user")

	ErrRateLimited = NewDomainError(KindCommand, "SDB-CMD-4290", "rate limit exceeded")
)

// ============================================================================
// Timeout Errors (TIME)
// ============================================================================

var (
	// ErrBlockTimeout indicates a blocking command's deadline passed.
	ErrBlockTimeout = NewDomainError(KindTimeout, "SDB-TIME-4080", "blocking operation timed out")

	// ErrIOTimeout indicates a read or write deadline passed.
	ErrIOTimeout = NewDomainError(KindTimeout, "SDB-TIME-4081", "i/o timeout")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	ErrStorage = NewDomainError(KindStorage, "SDB-STOR-5001", "storage error")

	ErrStorageUnavailable = NewDomainError(KindStorage, "SDB-STOR-5030", "storage unavailable")
)

// ============================================================================
// Startup Errors (START)
// ============================================================================

var (
	ErrStartup = NewDomainError(KindStartup, "SDB-START-5000", "startup failed")

	ErrConfigInvalid = NewDomainError(KindStartup, "SDB-START-5001", "invalid configuration")
)

// ============================================================================
// Worker Errors (WORK)
// ============================================================================

var (
	// ErrWorkerFailure is sent to clients of a hung worker before they are closed.
	ErrWorkerFailure = NewDomainError(KindWorkerFailure, "SDB-WORK-5000", "worker failure")

	// ErrServerBusy is sent when no healthy worker can take a connection.
	ErrServerBusy = NewDomainError(KindWorkerFailure, "SDB-WORK-5030", "server busy")

	// ErrShuttingDown is sent to blocked clients during shutdown.
	ErrShuttingDown = NewDomainError(KindWorkerFailure, "SDB-WORK-5031", "server is shutting down")
)

// ============================================================================
// Admin Errors (ADM)
// ============================================================================

var (
	// ErrForbidden is returned by the admin endpoint's network ACL.
	ErrForbidden = NewDomainError(KindCommand, "SDB-ADM-4030", "forbidden")

	// ErrInternal is returned when an admin handler panics.
	ErrInternal = NewDomainError(KindStorage, "SDB-ADM-5000", "internal error")
)
