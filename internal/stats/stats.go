// Package stats provides process-wide proxy counters.
//
// DESIGN: Lightweight in-memory atomic counters, mirroring the style of an
// operational metrics collector. All counters are monotonic; only the
// primary response path contributes token counts (compare-mode target
// tokens are logged, not counted).
package stats

import "sync/atomic"

// Counters holds the four monotonic proxy counters.
type Counters struct {
	totalRequests atomic.Uint64
	inputTokens   atomic.Uint64
	outputTokens  atomic.Uint64
	toolCalls     atomic.Uint64
}

// New creates a zeroed counter set.
func New() *Counters {
	return &Counters{}
}

// IncrRequests records one accepted /v1/messages request.
func (c *Counters) IncrRequests() {
	c.totalRequests.Add(1)
}

// Add merges a completed stream's usage into the counters.
func (c *Counters) Add(input, output, toolCalls uint64) {
	if input > 0 {
		c.inputTokens.Add(input)
	}
	if output > 0 {
		c.outputTokens.Add(output)
	}
	if toolCalls > 0 {
		c.toolCalls.Add(toolCalls)
	}
}

// Snapshot is a point-in-time read of the counters, serializable to JSON.
type Snapshot struct {
	TotalRequests uint64 `json:"total_requests"`
	InputTokens   uint64 `json:"input_tokens"`
	OutputTokens  uint64 `json:"output_tokens"`
	ToolCalls     uint64 `json:"tool_calls"`
}

// Snapshot reads each counter atomically. The read is not atomic across
// fields: concurrent writers may land between loads, so a snapshot can mix
// values from adjacent instants. Each individual field is consistent.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: c.totalRequests.Load(),
		InputTokens:   c.inputTokens.Load(),
		OutputTokens:  c.outputTokens.Load(),
		ToolCalls:     c.toolCalls.Load(),
	}
}
