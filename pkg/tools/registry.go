package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/metrics"
)

// Default per-tool execution policy. Per-tool overrides come from
// configuration.
const (
	DefaultRatePerSecond = 5.0
	DefaultBurst         = 5
	DefaultMaxRetries    = 2
)

// retryBackoffs are the waits before the first and second retry.
var retryBackoffs = []time.Duration{250 * time.Millisecond, 1 * time.Second}

// producer tag for envelopes published by the registry.
const producer = "tools"

// registeredTool bundles a tool with its resolved execution policy.
type registeredTool struct {
	tool       Tool
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
}

// Registry holds the available tools and executes them under the shared
// policy: token-bucket rate limiting, per-invocation timeout, bounded
// retries for retryable faults, and output schema validation.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool

	bus       *events.Bus
	cfg       *config.Config
	validator *OutputValidator
}

// NewRegistry creates an empty registry. Builtin tools are added with
// RegisterBuiltins; MCP-provided tools via the Provider.
func NewRegistry(bus *events.Bus, cfg *config.Config) *Registry {
	return &Registry{
		tools:     make(map[string]*registeredTool),
		bus:       bus,
		cfg:       cfg,
		validator: NewOutputValidator(),
	}
}

// Register adds a tool, resolving its policy from configuration. Disabled
// tools are skipped.
func (r *Registry) Register(t Tool) {
	tc := r.cfg.ToolConfigFor(t.Name)
	if !tc.IsEnabled() {
		slog.Info("Tool disabled by configuration", "tool", t.Name)
		return
	}

	ratePerSec := DefaultRatePerSecond
	if tc.RatePerSecond > 0 {
		ratePerSec = tc.RatePerSecond
	}
	if max := r.cfg.ROE.MaxRequestsPerSecond; ratePerSec > max {
		ratePerSec = max
	}
	burst := DefaultBurst
	if tc.Burst > 0 {
		burst = tc.Burst
	}
	timeout := r.cfg.Recon.ToolTimeout
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	maxRetries := DefaultMaxRetries
	if tc.MaxRetries != nil {
		maxRetries = *tc.MaxRetries
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = &registeredTool{
		tool:       t,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs a tool for a mission. It never returns an error: failures
// are classified into the Result. The phase label is used for fault stages
// and event correlation.
func (r *Registry) Execute(ctx context.Context, missionID, phase, name string, args map[string]any) Result {
	start := time.Now()

	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		f := faults.New(faults.CodeToolNotFound, phase, fmt.Sprintf("tool %q not registered", name))
		return r.finish(ctx, missionID, phase, name, "", args, Result{
			Tool: name, OK: false, Error: f.Error(), Code: f.Code, Fault: f, Attempts: 0,
			Duration: time.Since(start),
		})
	}

	callID := uuid.New().String()
	r.bus.Publish(ctx, events.New(events.EventToolCalled, missionID, producer, events.ToolPayload{
		Tool: name,
		Args: args,
		OK:   true,
	}).WithPhase(phase).WithToolCall(callID))

	if err := rt.limiter.Wait(ctx); err != nil {
		f := faults.Wrap(faults.CodeRateLimited, phase, "rate limit wait aborted", err)
		return r.finish(ctx, missionID, phase, name, callID, args, Result{
			Tool: name, OK: false, Error: f.Error(), Code: f.Code, Fault: f, Attempts: 0,
			Duration: time.Since(start),
		})
	}

	var (
		data    map[string]any
		lastErr *faults.Fault
	)
	attempts := 0
	for attempt := 0; attempt <= rt.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffs[len(retryBackoffs)-1]
			if attempt-1 < len(retryBackoffs) {
				backoff = retryBackoffs[attempt-1]
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = rt.maxRetries // stop retrying
			}
		}

		attempts++
		runCtx, cancel := context.WithTimeout(ctx, rt.timeout)
		out, err := rt.tool.Handler(runCtx, args)
		cancel()

		if err == nil {
			if verr := r.validator.Validate(name, out); verr != nil {
				lastErr = faults.Wrap(faults.CodeToolInvalidOutput, phase, "tool output failed schema validation", verr)
				break // malformed output never retries
			}
			data = out
			lastErr = nil
			break
		}

		lastErr = classify(err, phase)
		if !lastErr.Retryable() || ctx.Err() != nil {
			break
		}
		slog.Debug("Tool attempt failed, retrying",
			"tool", name, "attempt", attempts, "code", lastErr.Code, "error", err)
	}

	result := Result{
		Tool:     name,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
		result.Code = lastErr.Code
		result.Fault = lastErr
	} else {
		result.OK = true
		result.Data = data
	}
	return r.finish(ctx, missionID, phase, name, callID, args, result)
}

// finish publishes the TOOL_FINISHED event and returns the result.
func (r *Registry) finish(ctx context.Context, missionID, phase, name, callID string, args map[string]any, res Result) Result {
	env := events.New(events.EventToolFinished, missionID, producer, events.ToolPayload{
		Tool:     name,
		OK:       res.OK,
		Error:    res.Error,
		Code:     string(res.Code),
		Duration: res.Duration.Seconds(),
	}).WithPhase(phase)
	if callID != "" {
		env = env.WithToolCall(callID)
	}
	r.bus.Publish(ctx, env)

	result := "ok"
	if !res.OK {
		result = "error"
	}
	metrics.ToolRuns.WithLabelValues(name, result).Inc()
	metrics.ToolDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	return res
}
