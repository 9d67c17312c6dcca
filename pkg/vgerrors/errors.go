// Package vgerrors defines the typed error taxonomy used across the
// gateway. Every boundary crossing (config load, backend attach,
// capability registration, request forwarding, authn/authz) returns one
// of these instead of an ad-hoc error, so middleware can map failures
// onto MCP error payloads without string matching.
package vgerrors

import "fmt"

// Error kinds, from spec.md §7.
const (
	ErrConfiguration         = "configuration"
	ErrBackendConnect        = "backend_connect"
	ErrCapabilityConflict    = "capability_conflict"
	ErrBackendCall           = "backend_call"
	ErrCapabilityNotFound    = "capability_not_found"
	ErrBackendUnavailable    = "backend_unavailable"
	ErrBackendDisconnected   = "backend_disconnected"
	ErrInvalidBackendResp    = "invalid_backend_response"
	ErrAuth                  = "auth"
	ErrAuthorization         = "authorization"
	ErrInternal              = "internal"
)

// Error is a typed gateway error with an optional wrapped cause.
type Error struct {
	Type    string
	Message string
	Cause   error
}

// NewError builds an Error of the given kind.
func NewError(kind, message string, cause error) *Error {
	return &Error{Type: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConfigurationError reports a malformed or invalid configuration document.
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrConfiguration, message, cause)
}

// NewBackendConnectError reports a transport attach failure for one backend.
func NewBackendConnectError(message string, cause error) *Error {
	return NewError(ErrBackendConnect, message, cause)
}

// NewCapabilityConflictError reports a registration conflict under the
// "error" conflict policy.
func NewCapabilityConflictError(message string, cause error) *Error {
	return NewError(ErrCapabilityConflict, message, cause)
}

// NewBackendCallError reports a timeout, lost connection, or backend-
// reported error while forwarding a request.
func NewBackendCallError(message string, cause error) *Error {
	return NewError(ErrBackendCall, message, cause)
}

// NewCapabilityNotFoundError reports an exposed name absent from the route map.
func NewCapabilityNotFoundError(message string, cause error) *Error {
	return NewError(ErrCapabilityNotFound, message, cause)
}

// NewBackendUnavailableError reports a circuit breaker rejecting a request.
func NewBackendUnavailableError(message string, cause error) *Error {
	return NewError(ErrBackendUnavailable, message, cause)
}

// NewBackendDisconnectedError reports a missing backend session.
func NewBackendDisconnectedError(message string, cause error) *Error {
	return NewError(ErrBackendDisconnected, message, cause)
}

// NewInvalidBackendResponseError reports a backend response that does not
// match the expected MCP result variant for the method called.
func NewInvalidBackendResponseError(message string, cause error) *Error {
	return NewError(ErrInvalidBackendResp, message, cause)
}

// NewAuthError reports a missing/invalid incoming token, expired JWT, or
// JWKS fetch failure. Maps to HTTP 401 on the request surface.
func NewAuthError(message string, cause error) *Error {
	return NewError(ErrAuth, message, cause)
}

// NewAuthorizationError reports a policy denial. Maps to HTTP 403 semantics.
func NewAuthorizationError(message string, cause error) *Error {
	return NewError(ErrAuthorization, message, cause)
}

// NewInternalError reports an invariant violation or unexpected internal
// state. Clients receive a sanitized message; the cause is logged only.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func is(err error, kind string) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Type == kind
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return is(err, ErrConfiguration) }

// IsBackendConnect reports whether err is a backend-connect error.
func IsBackendConnect(err error) bool { return is(err, ErrBackendConnect) }

// IsCapabilityConflict reports whether err is a capability-conflict error.
func IsCapabilityConflict(err error) bool { return is(err, ErrCapabilityConflict) }

// IsBackendCall reports whether err is a backend-call error.
func IsBackendCall(err error) bool { return is(err, ErrBackendCall) }

// IsCapabilityNotFound reports whether err is a capability-not-found error.
func IsCapabilityNotFound(err error) bool { return is(err, ErrCapabilityNotFound) }

// IsBackendUnavailable reports whether err is a backend-unavailable error.
func IsBackendUnavailable(err error) bool { return is(err, ErrBackendUnavailable) }

// IsBackendDisconnected reports whether err is a backend-disconnected error.
func IsBackendDisconnected(err error) bool { return is(err, ErrBackendDisconnected) }

// IsInvalidBackendResponse reports whether err is an invalid-backend-response error.
func IsInvalidBackendResponse(err error) bool { return is(err, ErrInvalidBackendResp) }

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool { return is(err, ErrAuth) }

// IsAuthorization reports whether err is an authorization error.
func IsAuthorization(err error) bool { return is(err, ErrAuthorization) }

// IsInternal reports whether err is an internal error.
func IsInternal(err error) bool { return is(err, ErrInternal) }
