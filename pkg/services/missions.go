// Package services holds the application services between the API layer and
// the stores: mission lifecycle, scope validation, and curator operations.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

// producer tag for envelopes published by services.
const producer = "services"

// MissionService owns the mission lifecycle: creation with scope and ROE
// validation, cancellation, deletion, and the curator write path.
type MissionService struct {
	missions *store.MissionStore
	graphs   *store.GraphStore
	bus      *events.Bus
	cfg      *config.Config
}

// NewMissionService wires a mission service.
func NewMissionService(missions *store.MissionStore, graphs *store.GraphStore, bus *events.Bus, cfg *config.Config) *MissionService {
	return &MissionService{missions: missions, graphs: graphs, bus: bus, cfg: cfg}
}

// CreateRequest is the mission creation input.
type CreateRequest struct {
	Target string   `json:"target"`
	Scope  []string `json:"scope,omitempty"`
	Mode   string   `json:"mode,omitempty"`
}

// Create validates and enqueues a new mission.
func (s *MissionService) Create(ctx context.Context, req CreateRequest) (*models.Mission, error) {
	target, scope, mode, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	m := &models.Mission{
		ID:     ulid.Make().String(),
		Target: target,
		Scope:  scope,
		Mode:   mode,
	}
	if err := s.missions.Create(ctx, m); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.New(events.EventMissionStatus, m.ID, producer, events.MissionStatusPayload{
		Status: models.StatusQueued,
	}))
	return m, nil
}

// validate normalizes and checks the creation request against scope rules
// and the rules of engagement.
func (s *MissionService) validate(req CreateRequest) (target string, scope []string, mode string, err error) {
	target = graph.NormalizeHost(req.Target)
	if target == "" {
		return "", nil, "", fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if graph.IsPlaceholder(target) {
		return "", nil, "", fmt.Errorf("%w: %q is a reserved example domain", ErrInvalidTarget, target)
	}
	requireSuffix := s.cfg.ROE == nil || s.cfg.ROE.RequireScopeSuffix == nil || *s.cfg.ROE.RequireScopeSuffix
	if requireSuffix && !strings.Contains(target, ".") {
		return "", nil, "", fmt.Errorf("%w: %q is not a registrable domain", ErrInvalidTarget, target)
	}
	if s.cfg.ROE.HostDenied(target) {
		return "", nil, "", fmt.Errorf("%w: %q", ErrTargetDenied, target)
	}

	mode = req.Mode
	if mode == "" {
		mode = s.cfg.Recon.Mode
	}
	if !config.ValidMode(mode) {
		return "", nil, "", fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	scope = make([]string, 0, len(req.Scope))
	seen := map[string]bool{}
	for _, raw := range req.Scope {
		host := graph.NormalizeHost(raw)
		if host == "" || seen[host] {
			continue
		}
		if !graph.InScope(host, target) {
			return "", nil, "", fmt.Errorf("%w: %q not under %q", ErrInvalidScope, raw, target)
		}
		seen[host] = true
		scope = append(scope, host)
	}
	return target, scope, mode, nil
}

// Get returns one mission.
func (s *MissionService) Get(ctx context.Context, id string) (*models.Mission, error) {
	return s.missions.Get(ctx, id)
}

// List returns missions, optionally filtered by status.
func (s *MissionService) List(ctx context.Context, status string, limit, offset int) ([]*models.Mission, error) {
	return s.missions.List(ctx, status, limit, offset)
}

// Cancel requests cancellation of a queued or running mission. For running
// missions the worker observes the status change and tears down.
func (s *MissionService) Cancel(ctx context.Context, id string) (*models.Mission, error) {
	m, err := s.missions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.TerminalStatus(m.Status) {
		return nil, fmt.Errorf("%w: already %s", ErrNotCancellable, m.Status)
	}
	if err := s.missions.UpdateStatus(ctx, id, models.StatusCancelled); err != nil {
		return nil, err
	}
	m.Status = models.StatusCancelled

	s.bus.Publish(ctx, events.New(events.EventMissionStatus, id, producer, events.MissionStatusPayload{
		Status: models.StatusCancelled,
		Phase:  m.Phase,
	}))
	return m, nil
}

// Delete removes a terminal mission and evicts its graph cache and event
// stream.
func (s *MissionService) Delete(ctx context.Context, id string) error {
	m, err := s.missions.Get(ctx, id)
	if err != nil {
		return err
	}
	if !models.TerminalStatus(m.Status) {
		return fmt.Errorf("%w: %s", ErrMissionActive, m.Status)
	}
	if err := s.missions.Delete(ctx, id); err != nil {
		return err
	}
	s.graphs.DropMissionCache(id)
	return nil
}

// ClearAll deletes every mission with its graph, logs, and layouts, and
// evicts all caches and streams. The API layer gates this behind an explicit
// confirmation parameter.
func (s *MissionService) ClearAll(ctx context.Context) (int, error) {
	ids, err := s.missions.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.graphs.DropMissionCache(id)
	}
	return len(ids), nil
}

// CuratorPatch applies an operator property patch to a node with the
// curator override, which permits otherwise-forbidden vulnerability status
// transitions (FALSE_POSITIVE, MITIGATED, downgrades).
func (s *MissionService) CuratorPatch(ctx context.Context, missionID, nodeID string, props map[string]any) (graph.Node, error) {
	return s.graphs.PatchNode(ctx, missionID, nodeID, props, true)
}
