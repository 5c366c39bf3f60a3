// Package recon implements the mission pipeline: passive collection, a
// safety-net checkpoint, active probing, endpoint intelligence, observation
// -only verification, attack planning, and reporting. Each phase reads and
// writes the mission graph through the store; tool invocations go through
// the registry and are followed by a reflection pass.
package recon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/reason"
	"github.com/skyhound/recongraph/pkg/reflection"
	"github.com/skyhound/recongraph/pkg/store"
	"github.com/skyhound/recongraph/pkg/tools"
)

// producer tag stamped on envelopes published by the pipeline.
const producer = "pipeline"

// Pipeline executes mission phases against the graph store.
type Pipeline struct {
	store     *store.GraphStore
	missions  *store.MissionStore
	registry  *tools.Registry
	reflector *reflection.Reflector
	reasoner  reason.Reasoner
	bus       *events.Bus
	cfg       *config.Config
	client    *http.Client

	toolRuns     atomic.Int64
	toolFailures atomic.Int64
}

// NewPipeline wires a pipeline over the shared store, registry, and bus.
func NewPipeline(gs *store.GraphStore, ms *store.MissionStore, reg *tools.Registry, refl *reflection.Reflector, rsn reason.Reasoner, bus *events.Bus, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:     gs,
		missions:  ms,
		registry:  reg,
		reflector: refl,
		reasoner:  rsn,
		bus:       bus,
		cfg:       cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Run executes one phase and returns its result counts. Recoverable failures
// inside a phase degrade to ERROR events; only faults that make the mission
// pointless to continue are returned.
func (p *Pipeline) Run(ctx context.Context, m *models.Mission, phase string) (map[string]int, error) {
	switch phase {
	case models.PhasePassiveRecon:
		return p.PassiveRecon(ctx, m)
	case models.PhaseSafetyNet:
		return p.SafetyNet(ctx, m)
	case models.PhaseActiveRecon:
		return p.ActiveRecon(ctx, m)
	case models.PhaseEndpointIntel:
		return p.EndpointIntel(ctx, m)
	case models.PhaseVerification:
		return p.Verification(ctx, m)
	case models.PhasePlanning:
		return p.Planning(ctx, m)
	case models.PhaseReporting:
		return p.Reporting(ctx, m)
	}
	return nil, faults.New(faults.CodeInternal, phase, fmt.Sprintf("unknown phase %q", phase))
}

// invoke runs one tool and surfaces failures as ERROR events. The pipeline
// decides per call site whether an empty result is fatal.
func (p *Pipeline) invoke(ctx context.Context, m *models.Mission, phase, tool string, args map[string]any) tools.Result {
	res := p.registry.Execute(ctx, m.ID, phase, tool, args)
	p.toolRuns.Add(1)
	if !res.OK {
		p.toolFailures.Add(1)
		if f := res.Fault; f != nil {
			p.bus.Publish(ctx, events.New(events.EventError, m.ID, producer, events.ErrorPayload{
				Code:        string(f.Code),
				Stage:       phase,
				Message:     f.Msg,
				Retryable:   f.Retryable(),
				Recoverable: f.Recoverable(),
			}).WithPhase(phase))
		}
	}
	return res
}

// reflect runs the reflection loop over a tool result. Reflection is
// best-effort and never fails the phase.
func (p *Pipeline) reflect(ctx context.Context, m *models.Mission, phase, tool string, res tools.Result) {
	if p.reflector == nil {
		return
	}
	p.reflector.ReflectOnTool(ctx, m.ID, phase, tool, res, graph.NormalizeHost(m.Target))
}

// warn publishes a checkpoint warning. Checkpoints never abort a mission.
func (p *Pipeline) warn(ctx context.Context, missionID, phase, msg string, fields map[string]any) {
	p.bus.Publish(ctx, events.New(events.EventLog, missionID, producer, events.LogPayload{
		Level:   "warning",
		Message: msg,
		Fields:  fields,
	}).WithPhase(phase))
}

// subdomainHosts returns the mission's known subdomain hostnames, sorted by
// node id.
func (p *Pipeline) subdomainHosts(ctx context.Context, missionID string) ([]string, error) {
	nodes, err := p.store.QueryNodes(ctx, missionID, store.NodeFilter{Type: graph.NodeSubdomain})
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if h := graph.HostFromID(n.ID); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// liveServices returns the mission's HTTP_SERVICE nodes.
func (p *Pipeline) liveServices(ctx context.Context, missionID string) ([]graph.Node, error) {
	return p.store.QueryNodes(ctx, missionID, store.NodeFilter{Type: graph.NodeHTTPService})
}

// hostAllowed applies both the mission scope and the process-wide rules of
// engagement to a candidate host.
func (p *Pipeline) hostAllowed(host, target string) bool {
	host = graph.NormalizeHost(host)
	if host == "" || graph.IsPlaceholder(host) {
		return false
	}
	if !graph.InScope(host, target) {
		return false
	}
	return !p.cfg.ROE.HostDenied(host)
}

// serviceURLOf extracts the canonical URL from a service node.
func serviceURLOf(n graph.Node) string {
	if u, ok := n.Properties["url"].(string); ok && u != "" {
		return u
	}
	return strings.TrimPrefix(n.ID, "http_service:")
}

// chunkStrings splits items into batches of at most size.
func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// stringSlice coerces a decoded JSON value into a string slice.
func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// mapSlice coerces a decoded JSON value into a slice of objects.
func mapSlice(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// numberOf coerces a decoded JSON value into a float64.
func numberOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
