// Package tools implements the recon tool registry: builtin collectors,
// MCP-provided externals, per-tool rate limiting, retry policy, and output
// schema validation. Every tool invocation is observable on the event bus.
package tools

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/skyhound/recongraph/pkg/faults"
)

// Handler executes one tool invocation. Implementations return a data map on
// success; errors should be *faults.Fault where the cause is known.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is one registered recon capability.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Result is the uniform outcome of a tool invocation: either OK with data,
// or a classified fault. The registry never returns raw errors to the
// pipeline.
type Result struct {
	Tool     string         `json:"tool"`
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     faults.Code    `json:"code,omitempty"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"-"`

	// Fault carries the full classified error for OK == false.
	Fault *faults.Fault `json:"-"`
}

// classify maps an arbitrary handler error onto the fault taxonomy. Errors
// already carrying a fault pass through; network failures map to the E1xx
// family, deadline hits to tool timeout.
func classify(err error, stage string) *faults.Fault {
	if f := faults.As(err); f != nil {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.CodeToolTimeout, stage, "tool execution deadline exceeded", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return faults.Wrap(faults.CodeDNSFailure, stage, "dns resolution failed", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return faults.Wrap(faults.CodeNetworkTimeout, stage, "network timeout", err)
		}
		return faults.Wrap(faults.CodeConnRefused, stage, "network error", err)
	}

	return faults.Wrap(faults.CodeToolExecFailed, stage, "tool execution failed", err)
}
