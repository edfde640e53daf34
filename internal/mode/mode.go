// Package mode holds the runtime routing mode.
//
// The mode is read on every request hot path, so it lives behind a single
// atomic integer. Writes use release semantics and reads acquire, so a mode
// change is observed by all subsequent requests on any goroutine.
package mode

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Mode is the proxy operating mode.
type Mode int32

const (
	// TargetOnly routes /v1/messages to the self-hosted target.
	TargetOnly Mode = iota
	// Compare forwards to the passthrough upstream and fires a
	// fire-and-forget copy at the target for comparison logging.
	Compare
	// AnthropicOnly routes everything to the passthrough upstream.
	// Reachable only when the process was launched with permission.
	AnthropicOnly
)

// ErrPermissionDenied is returned by Set when switching to AnthropicOnly
// without the launch-time allow flag.
var ErrPermissionDenied = errors.New("anthropic-only mode is disabled; restart with --allow-anthropic-only")

// String returns the wire name used by the /api/mode endpoint.
func (m Mode) String() string {
	switch m {
	case TargetOnly:
		return "target"
	case Compare:
		return "compare"
	case AnthropicOnly:
		return "anthropic-only"
	default:
		return "target"
	}
}

// Parse maps a wire name to a Mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "target":
		return TargetOnly, nil
	case "compare":
		return Compare, nil
	case "anthropic-only":
		return AnthropicOnly, nil
	default:
		return TargetOnly, fmt.Errorf("invalid mode %q, expected: target, compare, or anthropic-only", s)
	}
}

// Runtime is the lock-free holder of the current mode.
type Runtime struct {
	current atomic.Int32

	// anthropicOnlyAllowed is recorded once at construction and never
	// changes; the permission cannot be granted after launch.
	anthropicOnlyAllowed bool
}

// NewRuntime creates a Runtime starting in initial. The allowAnthropicOnly
// flag permanently records whether AnthropicOnly is a legal transition.
func NewRuntime(initial Mode, allowAnthropicOnly bool) *Runtime {
	r := &Runtime{anthropicOnlyAllowed: allowAnthropicOnly}
	r.current.Store(int32(initial))
	return r
}

// Get returns the current mode. Wait-free.
func (r *Runtime) Get() Mode {
	return Mode(r.current.Load())
}

// Set changes the mode. Switching to AnthropicOnly fails with
// ErrPermissionDenied when the launch flag was absent; the stored mode is
// left untouched in that case.
func (r *Runtime) Set(m Mode) error {
	if m == AnthropicOnly && !r.anthropicOnlyAllowed {
		return ErrPermissionDenied
	}
	r.current.Store(int32(m))
	return nil
}

// AnthropicOnlyAllowed reports whether the launch permission was set.
func (r *Runtime) AnthropicOnlyAllowed() bool {
	return r.anthropicOnlyAllowed
}
