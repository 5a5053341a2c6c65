// Package syncerr labels failures of the remote sync API with a retry class
// and the recovery predicates the orchestrator uses to pick a strategy.
//
// Every failure is an *Error whose Detail is exactly one of the per-kind
// types below. The package never recovers anything itself.
package syncerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RetryClass is the retry policy attached to every failure.
type RetryClass int

const (
	// Retryable failures are safe to retry on the next scheduled or user-triggered pass
	Retryable RetryClass = iota
	// Permanent failures stop the pass and are surfaced to the user
	Permanent
	// ReauthRequired failures wait for the user to sign in again
	ReauthRequired
)

// String returns the retry class name
func (c RetryClass) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	case ReauthRequired:
		return "reauth-required"
	default:
		return fmt.Sprintf("RetryClass(%d)", int(c))
	}
}

// Kind identifies which Detail an Error carries.
type Kind int

const (
	// KindTransport is a network or connection failure before a response was obtained
	KindTransport Kind = iota + 1
	// KindDecode is a response body that could not be parsed
	KindDecode
	// KindAPI is a non-success answer from the remote service
	KindAPI
	// KindInvalidRequest is a request rejected locally before sending
	KindInvalidRequest
	// KindAuth is an absent or rejected credential
	KindAuth
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindAPI:
		return "api"
	case KindInvalidRequest:
		return "invalid-request"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Detail is implemented only by the kind-specific types of this package.
type Detail interface {
	kind() Kind
}

// TransportFailure carries the underlying network error
type TransportFailure struct {
	Err error
}

// DecodeFailure carries the underlying parse error
type DecodeFailure struct {
	Err error
}

// APIFailure is the remote service's error answer
type APIFailure struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

// InvalidRequestFailure is a locally detected invalid request
type InvalidRequestFailure struct {
	Message string
}

// AuthFailure is a missing or rejected credential
type AuthFailure struct {
	Message string
}

func (TransportFailure) kind() Kind      { return KindTransport }
func (DecodeFailure) kind() Kind         { return KindDecode }
func (APIFailure) kind() Kind            { return KindAPI }
func (InvalidRequestFailure) kind() Kind { return KindInvalidRequest }
func (AuthFailure) kind() Kind           { return KindAuth }

// Error is a classified sync failure.
type Error struct {
	Detail Detail
}

// Transport wraps a network-level error
func Transport(err error) *Error {
	return &Error{Detail: TransportFailure{Err: err}}
}

// Decode wraps a response parse error
func Decode(err error) *Error {
	return &Error{Detail: DecodeFailure{Err: err}}
}

// API creates an API error from status and message
func API(status int, message string) *Error {
	return &Error{Detail: APIFailure{Status: status, Message: message}}
}

// APIStructured creates an API error with a machine-readable code and details
func APIStructured(status int, code, message string, details json.RawMessage) *Error {
	return &Error{Detail: APIFailure{Status: status, Code: code, Message: message, Details: details}}
}

// InvalidRequest creates an invalid request error
func InvalidRequest(message string) *Error {
	return &Error{Detail: InvalidRequestFailure{Message: message}}
}

// Auth creates an authentication error
func Auth(message string) *Error {
	return &Error{Detail: AuthFailure{Message: message}}
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) && se != nil && se.Detail != nil {
		return se, true
	}
	return nil, false
}

// Kind returns the kind of the carried detail
func (e *Error) Kind() Kind {
	if e == nil || e.Detail == nil {
		return 0
	}
	return e.Detail.kind()
}

func (e *Error) Error() string {
	switch d := e.Detail.(type) {
	case TransportFailure:
		return fmt.Sprintf("HTTP error: %v", d.Err)
	case DecodeFailure:
		return fmt.Sprintf("JSON error: %v", d.Err)
	case APIFailure:
		if d.Code == "" {
			return fmt.Sprintf("API error (%d): %s", d.Status, d.Message)
		}
		return fmt.Sprintf("API error (%d): %s: %s", d.Status, d.Code, d.Message)
	case InvalidRequestFailure:
		return "Invalid request: " + d.Message
	case AuthFailure:
		return "Authentication error: " + d.Message
	default:
		return "unclassified sync error"
	}
}

// Unwrap returns the underlying transport or decode error
func (e *Error) Unwrap() error {
	switch d := e.Detail.(type) {
	case TransportFailure:
		return d.Err
	case DecodeFailure:
		return d.Err
	default:
		return nil
	}
}

// StatusCode returns the HTTP status if this is an API error
func (e *Error) StatusCode() (int, bool) {
	if d, ok := e.Detail.(APIFailure); ok {
		return d.Status, true
	}
	return 0, false
}

// Code returns the machine-readable error code, or "" when absent
func (e *Error) Code() string {
	if d, ok := e.Detail.(APIFailure); ok {
		return d.Code
	}
	return ""
}

// RetryClass classifies the error for retry policy.
func (e *Error) RetryClass() RetryClass {
	switch d := e.Detail.(type) {
	case APIFailure:
		return statusRetryClass(d.Status)
	case TransportFailure:
		return Retryable
	case DecodeFailure:
		return Permanent
	case InvalidRequestFailure:
		return Permanent
	case AuthFailure:
		return ReauthRequired
	default:
		return Permanent
	}
}

func statusRetryClass(status int) RetryClass {
	switch {
	case status == 401 || status == 403:
		return ReauthRequired
	case status == 408, status == 409, status == 423, status == 425, status == 429:
		return Retryable
	case status >= 500 && status <= 599:
		return Retryable
	default:
		return Permanent
	}
}

// IsIntegrityError reports whether the error code indicates segment or
// snapshot corruption that should trigger bootstrap.
func (e *Error) IsIntegrityError() bool {
	return IsIntegrityCode(e.Code())
}

// IsStaleCursor reports whether the local cursor is too old for incremental sync.
func (e *Error) IsStaleCursor() bool {
	return e.Code() == CodeCursorTooOld
}

// IsSnapshotIDValidationError reports whether server-side validation rejected
// the snapshotId format.
func (e *Error) IsSnapshotIDValidationError() bool {
	d, ok := e.Detail.(APIFailure)
	if !ok || d.Status != 400 {
		return false
	}
	mentionsField := strings.Contains(d.Message, "snapshotId") || strings.Contains(d.Code, "snapshotId")
	invalidFormat := strings.Contains(d.Message, "Invalid UUID") ||
		strings.Contains(d.Message, "invalid_format") ||
		strings.Contains(d.Code, "invalid_format")
	return mentionsField && invalidFormat
}
