// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultListenAddress is where the proxy listens when unconfigured.
const DefaultListenAddress = "0.0.0.0:3080"

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultServerReadHeaderTimeout bounds slow-header clients.
const DefaultServerReadHeaderTimeout = 10 * time.Second

// ShutdownGracePeriod is how long in-flight requests get on SIGINT/SIGTERM.
const ShutdownGracePeriod = 10 * time.Second

// =============================================================================
// UPSTREAMS
// =============================================================================

// DefaultPassthroughURL is the real Anthropic Messages API endpoint.
const DefaultPassthroughURL = "https://api.anthropic.com"

// DefaultUpstreamTimeout bounds receipt of the upstream response head.
// Body reads after the head are not subject to this deadline.
const DefaultUpstreamTimeout = 300 * time.Second

// DefaultMaxConcurrent is the compare dispatcher semaphore capacity.
const DefaultMaxConcurrent = 50

// CompareWallClock bounds a compare task end to end so its semaphore
// permit is always reclaimed.
const CompareWallClock = 300 * time.Second

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultBufferSize is the standard streaming I/O buffer size.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed request body (16 MiB).
const MaxRequestBodySize = 16 * 1024 * 1024

// MaxCompareResponseSize caps how much of a compare response is buffered
// for logging; overflow is read and discarded.
const MaxCompareResponseSize = 8 * 1024 * 1024

// MaxCapturedResponseSize caps the non-streaming response tee used for
// usage extraction on the primary path.
const MaxCapturedResponseSize = 8 * 1024 * 1024

// MaxErrorBodyLogLen limits upstream error bodies in logs.
const MaxErrorBodyLogLen = 500
