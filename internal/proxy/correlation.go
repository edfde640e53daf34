package proxy

import "github.com/google/uuid"

// CorrelationHeader carries the per-request correlation ID on both the
// outbound upstream request and the client-facing response.
const CorrelationHeader = "x-shadow-request-id"

// NewCorrelationID returns a fresh random 128-bit identifier for one
// incoming request.
func NewCorrelationID() string {
	return uuid.NewString()
}
