// Package ctxkey names the gin.Context keys the HTTP layer threads between
// middleware and handlers, grounded on the teacher's common/ctxkey package
// (trimmed to what this proxy's request lifecycle actually needs).
package ctxkey

const (
	// RequestID is the per-request correlation id (returned in the response
	// header and logged; RequestLogEntry has no field for it).
	RequestID = "request_id"

	// ForcedProvider names a key for pinning resolution to stage 1 within a
	// specific provider (§6). The /v1/provider/{provider}/completions handler
	// passes its provider to serve directly and does not set this key.
	ForcedProvider = "forced_provider"

	// StartTime names a key for when request processing began, the base of
	// ProcessingTimeMS. serve measures its own start time and does not set
	// this key.
	StartTime = "start_time"
)
