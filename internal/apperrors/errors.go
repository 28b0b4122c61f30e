// Package apperrors defines the typed error kinds propagated from the core
// (§7 of the spec) and their HTTP status mapping. Wrapping uses
// github.com/Laisky/errors/v2 so stack traces survive across layers.
package apperrors

import (
	"net/http"

	"github.com/Laisky/errors/v2"
)

// Kind is one of the closed set of error categories the core can raise.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindModelNotFound      Kind = "model_not_found"
	KindNoAvailableKey     Kind = "no_available_key"
	KindAuthentication     Kind = "authentication_error"
	KindRateLimit          Kind = "rate_limit_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindAdapter            Kind = "adapter_error"
	KindProvider            Kind = "provider_error"
	KindConfiguration      Kind = "configuration_error"
	KindInternal           Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	KindValidation:         http.StatusBadRequest,
	KindModelNotFound:      http.StatusNotFound,
	KindNoAvailableKey:     http.StatusServiceUnavailable,
	KindAuthentication:     http.StatusUnauthorized,
	KindRateLimit:          http.StatusTooManyRequests,
	KindServiceUnavailable: http.StatusBadGateway,
	KindAdapter:            http.StatusInternalServerError,
	KindProvider:           http.StatusBadGateway,
	KindConfiguration:      http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the typed error carried through the core. Message is safe to
// surface to callers; Details/RawError are for logs only.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	RetryAfter int // seconds; only meaningful for KindRateLimit
	Adapter    string
	Details    string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a typed Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusByKind[kind]}
}

// Wrap builds a typed Error of the given kind, wrapping an underlying cause
// with a stack trace via errors.Wrap so the original failure is still
// inspectable in logs.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusByKind[kind], cause: errors.Wrap(cause, message)}
}

// ValidationError reports a malformed request (400).
func ValidationError(format string, args ...any) *Error {
	return New(KindValidation, errors.Errorf(format, args...).Error())
}

// ModelNotFound reports that no resolver stage matched the requested model (404).
func ModelNotFound(requested string) *Error {
	return New(KindModelNotFound, "no model configuration matches requested model: "+requested)
}

// NoAvailableKey reports that a provider matched but has no usable credential (503).
func NoAvailableKey(provider string) *Error {
	return New(KindNoAvailableKey, "no available api key for provider: "+provider)
}

// CircuitOpen reports that the provider's circuit breaker is tripped (§5:
// this is one of the two "strongly degraded path" cases that must fail fast
// as NoAvailableKey, alongside an exhausted credential pool).
func CircuitOpen(provider string) *Error {
	return New(KindNoAvailableKey, "circuit open for provider: "+provider)
}

// RateLimitError reports an upstream 429, optionally carrying Retry-After.
func RateLimitError(retryAfter int) *Error {
	e := New(KindRateLimit, "upstream rate limit exceeded")
	e.RetryAfter = retryAfter
	return e
}

// AdapterError reports a failed request/response translation (500). Never
// leaks a half-translated payload to the caller.
func AdapterError(adapter, message string, cause error) *Error {
	e := Wrap(KindAdapter, cause, message)
	e.Adapter = adapter
	return e
}

// ProviderError wraps an upstream HTTP failure that isn't 401/429/5xx, or any
// other provider-side rejection, preserving the upstream status code.
func ProviderError(statusCode int, message string, cause error) *Error {
	e := Wrap(KindProvider, cause, message)
	e.StatusCode = statusCode
	return e
}

// ServiceUnavailable reports a timeout, connect failure, or upstream 5xx.
func ServiceUnavailable(message string, cause error) *Error {
	return Wrap(KindServiceUnavailable, cause, message)
}

// AuthenticationError reports an upstream 401.
func AuthenticationError(message string) *Error {
	return New(KindAuthentication, message)
}

// ConfigurationError reports a misconfigured resolver/pool/adapter setup (500).
func ConfigurationError(message string) *Error {
	return New(KindConfiguration, message)
}

// Internal wraps an unexpected failure with a request id for correlation (500).
func Internal(requestID string, cause error) *Error {
	return Wrap(KindInternal, cause, "internal error [request_id="+requestID+"]")
}

// AsAppError extracts *Error from any error, or wraps it as KindInternal.
func AsAppError(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(KindInternal, err.Error())
}

// Envelope renders the OpenAI-style {"error": {...}} body for the HTTP boundary.
func (e *Error) Envelope() map[string]any {
	body := map[string]any{
		"message": e.Message,
		"type":    string(e.Kind),
	}
	if e.Adapter != "" {
		body["param"] = e.Adapter
	}
	return map[string]any{"error": body}
}
