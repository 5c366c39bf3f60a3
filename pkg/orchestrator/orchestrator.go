// Package orchestrator drives a claimed mission through the pipeline
// phases: durable phase boundaries, per-phase deadlines, checkpoint
// warnings, and the mission status state machine. Phases degrade, missions
// rarely fail: only an unrecoverable fault aborts the run.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/metrics"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

// producer tag stamped on envelopes published by the orchestrator.
const producer = "orchestrator"

// PhaseRunner executes one pipeline phase and returns its result counts.
type PhaseRunner interface {
	Run(ctx context.Context, m *models.Mission, phase string) (map[string]int, error)
}

// MissionStateStore is the durable mission lifecycle surface the
// orchestrator needs.
type MissionStateStore interface {
	SetPhase(ctx context.Context, missionID, phase string) error
	UpdateStatus(ctx context.Context, missionID, status string) error
	MarkFailed(ctx context.Context, missionID, code, stage, message string) error
}

// GraphReader is the read surface used for checkpoint counts.
type GraphReader interface {
	QueryNodes(ctx context.Context, missionID string, filter store.NodeFilter) ([]graph.Node, error)
}

// Notifier receives mission start and terminal notifications. May be nil.
type Notifier interface {
	MissionStarted(ctx context.Context, m *models.Mission)
	MissionFinished(ctx context.Context, m *models.Mission, status string)
}

// Orchestrator runs missions end to end.
type Orchestrator struct {
	missions MissionStateStore
	graphs   GraphReader
	pipeline PhaseRunner
	bus      *events.Bus
	cfg      *config.Config
	notifier Notifier
}

// New wires an orchestrator. notifier may be nil.
func New(missions MissionStateStore, graphs GraphReader, pipeline PhaseRunner, bus *events.Bus, cfg *config.Config, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		missions: missions,
		graphs:   graphs,
		pipeline: pipeline,
		bus:      bus,
		cfg:      cfg,
		notifier: notifier,
	}
}

// Execute runs all pipeline phases for a claimed mission. The caller owns
// the claim and its heartbeat; Execute owns phase progression and the
// terminal status.
func (o *Orchestrator) Execute(ctx context.Context, m *models.Mission) error {
	log := slog.With("mission_id", m.ID, "target", m.Target)
	o.publishStatus(ctx, m.ID, models.StatusRunning, "", nil)
	if o.notifier != nil {
		o.notifier.MissionStarted(ctx, m)
	}

	for _, phase := range models.Phases() {
		if ctx.Err() != nil {
			return o.cancel(ctx, m, phase)
		}

		if err := o.missions.SetPhase(ctx, m.ID, phase); err != nil {
			log.Warn("Failed to persist phase boundary", "phase", phase, "error", err)
		}
		o.bus.Publish(ctx, events.New(events.EventPhaseStarted, m.ID, producer,
			events.PhasePayload{Phase: phase}).WithPhase(phase))

		start := time.Now()
		phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout(phase))
		counts, err := o.pipeline.Run(phaseCtx, m, phase)
		cancel()
		duration := time.Since(start)
		metrics.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return o.cancel(ctx, m, phase)
			}
			f := faults.As(err)
			if f == nil {
				f = faults.Wrap(faults.CodeInternal, phase, "phase failed", err)
			}
			o.bus.Publish(ctx, events.New(events.EventError, m.ID, producer, events.ErrorPayload{
				Code:        string(f.Code),
				Stage:       phase,
				Message:     f.Msg,
				Retryable:   f.Retryable(),
				Recoverable: f.Recoverable(),
			}).WithPhase(phase))

			if !f.Recoverable() {
				log.Error("Mission failed", "phase", phase, "code", f.Code, "error", err)
				if merr := o.missions.MarkFailed(ctx, m.ID, string(f.Code), phase, f.Msg); merr != nil {
					log.Error("Failed to persist mission failure", "error", merr)
				}
				o.publishStatus(ctx, m.ID, models.StatusFailed, phase, f)
				o.finish(ctx, m, models.StatusFailed)
				return err
			}

			// Recoverable: abandon the phase and keep going.
			if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
				o.warn(ctx, m.ID, phase, "phase deadline exceeded, moving on",
					map[string]any{"timeout": o.phaseTimeout(phase).String()})
			} else {
				log.Warn("Phase failed, continuing", "phase", phase, "code", f.Code, "error", err)
			}
			continue
		}

		o.bus.Publish(ctx, events.New(events.EventPhaseCompleted, m.ID, producer, events.PhasePayload{
			Phase:    phase,
			Counts:   counts,
			Duration: duration.Seconds(),
		}).WithPhase(phase))
		o.checkpoint(ctx, m, phase)
	}

	if err := o.missions.UpdateStatus(ctx, m.ID, models.StatusCompleted); err != nil {
		log.Error("Failed to mark mission completed", "error", err)
		return err
	}
	o.publishStatus(ctx, m.ID, models.StatusCompleted, "", nil)
	o.finish(ctx, m, models.StatusCompleted)
	log.Info("Mission completed")
	return nil
}

// phaseTimeout returns the soft deadline for a phase. Passive collection
// runs on a tighter budget than the probing phases.
func (o *Orchestrator) phaseTimeout(phase string) time.Duration {
	if phase == models.PhasePassiveRecon {
		return o.cfg.Recon.PassiveTimeout
	}
	return o.cfg.Recon.PhaseTimeout
}

// checkpoint verifies phase postconditions. A failed checkpoint warns and
// never aborts.
func (o *Orchestrator) checkpoint(ctx context.Context, m *models.Mission, phase string) {
	var nodeType graph.NodeType
	var msg string
	switch phase {
	case models.PhasePassiveRecon:
		nodeType, msg = graph.NodeSubdomain, "no subdomains after passive recon"
	case models.PhaseActiveRecon:
		nodeType, msg = graph.NodeHTTPService, "no live HTTP services after active recon"
	case models.PhaseReporting:
		nodeType, msg = graph.NodeReport, "no report artifacts after reporting"
	default:
		return
	}

	if !o.cfg.ROE.ActiveProbingAllowed() && phase == models.PhaseActiveRecon {
		return
	}
	nodes, err := o.graphs.QueryNodes(ctx, m.ID, store.NodeFilter{Type: nodeType})
	if err != nil || len(nodes) > 0 {
		return
	}
	o.warn(ctx, m.ID, phase, msg, nil)
}

// cancel transitions a mission whose context was torn down.
func (o *Orchestrator) cancel(ctx context.Context, m *models.Mission, phase string) error {
	// Use a detached context: the mission context is already dead.
	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()

	if err := o.missions.UpdateStatus(stopCtx, m.ID, models.StatusCancelled); err != nil {
		slog.Error("Failed to mark mission cancelled", "mission_id", m.ID, "error", err)
	}
	o.publishStatus(stopCtx, m.ID, models.StatusCancelled, phase, nil)
	o.finish(stopCtx, m, models.StatusCancelled)
	slog.Info("Mission cancelled", "mission_id", m.ID, "phase", phase)
	return nil
}

func (o *Orchestrator) publishStatus(ctx context.Context, missionID, status, phase string, f *faults.Fault) {
	payload := events.MissionStatusPayload{Status: status, Phase: phase}
	if f != nil {
		payload.ErrorCode = string(f.Code)
		payload.Stage = f.Stage
	}
	o.bus.Publish(ctx, events.New(events.EventMissionStatus, missionID, producer, payload))
}

func (o *Orchestrator) warn(ctx context.Context, missionID, phase, msg string, fields map[string]any) {
	o.bus.Publish(ctx, events.New(events.EventLog, missionID, producer, events.LogPayload{
		Level:   "warning",
		Message: msg,
		Fields:  fields,
	}).WithPhase(phase))
}

// finish records the terminal status and tells the notifier, if any.
func (o *Orchestrator) finish(ctx context.Context, m *models.Mission, status string) {
	metrics.MissionsFinished.WithLabelValues(status).Inc()
	if o.notifier != nil {
		o.notifier.MissionFinished(ctx, m, status)
	}
}
