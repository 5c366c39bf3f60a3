package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/reason"
	"github.com/skyhound/recongraph/pkg/store"
	"github.com/skyhound/recongraph/pkg/tools"
)

// producer tag for envelopes published by the reflection loop.
const producer = "reflection"

// defaultBudget bounds the total wallclock of one reflection run.
const defaultBudget = 2 * time.Minute

// Stats summarizes one reflection run over a tool result.
type Stats struct {
	Analysis      Analysis `json:"analysis"`
	ScriptsRun    int      `json:"scripts_run"`
	NodesMerged   int      `json:"nodes_merged"`
	EdgesMerged   int      `json:"edges_merged"`
	UnknownShapes int      `json:"unknown_shapes"`
}

// Reflector runs the analyze → generate → execute → merge loop after each
// tool invocation. Failures inside the loop degrade to LOG events; reflection
// never fails the phase that triggered it.
type Reflector struct {
	bus           *events.Bus
	generator     *Generator
	executor      *Executor
	merger        *Merger
	maxIterations int
	budget        time.Duration
}

// NewReflector wires the reflection loop from configuration.
func NewReflector(bus *events.Bus, gs *store.GraphStore, reasoner reason.Reasoner, cfg *config.ReconConfig) *Reflector {
	return &Reflector{
		bus:           bus,
		generator:     NewGenerator(reasoner),
		executor:      NewExecutor(cfg.ScriptTimeout),
		merger:        NewMerger(gs),
		maxIterations: cfg.ReflectionMaxIterations,
		budget:        defaultBudget,
	}
}

// ReflectOnTool analyzes one tool result and runs up to maxIterations
// enrichment scripts suggested by the analyzer.
func (r *Reflector) ReflectOnTool(ctx context.Context, missionID, phase, tool string, res tools.Result, target string) Stats {
	log := slog.With("mission_id", missionID, "phase", phase, "tool", tool)

	analysis := Analyze(tool, res, target)
	stats := Stats{Analysis: analysis}

	r.bus.Publish(ctx, events.New(events.EventAgentStarted, missionID, producer, events.AgentPayload{
		Agent: "reflection",
		Task:  tool,
		OK:    true,
	}).WithPhase(phase))

	runCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	for _, action := range analysis.SuggestedActions {
		if stats.ScriptsRun >= r.maxIterations {
			break
		}
		if runCtx.Err() != nil {
			log.Warn("Reflection budget exhausted", "scripts_run", stats.ScriptsRun)
			break
		}
		if action.Action != ActionGenerateScript || action.ScriptType == "" {
			continue
		}

		r.runScript(runCtx, missionID, phase, target, action, &stats, log)
	}

	r.bus.Publish(ctx, events.New(events.EventAgentFinished, missionID, producer, events.AgentPayload{
		Agent: "reflection",
		Task:  tool,
		OK:    true,
		Summary: fmt.Sprintf("completeness=%.2f issues=%d scripts=%d merged=%d",
			analysis.CompletenessScore, len(analysis.Issues), stats.ScriptsRun, stats.NodesMerged),
	}).WithPhase(phase))

	return stats
}

func (r *Reflector) runScript(ctx context.Context, missionID, phase, target string, action Action, stats *Stats, log *slog.Logger) {
	script, err := r.generator.Generate(ctx, action.ScriptType, action.Targets)
	if err != nil {
		log.Warn("Script generation failed", "script_type", action.ScriptType, "error", err)
		return
	}
	if script.NotImplemented {
		r.publishLog(ctx, missionID, phase, "info",
			fmt.Sprintf("no generator for script type %q", action.ScriptType), nil)
		return
	}

	stats.ScriptsRun++
	output, err := r.executor.Run(ctx, script)
	if err != nil {
		log.Warn("Enrichment script failed", "script_type", script.Type, "error", err)
		r.publishLog(ctx, missionID, phase, "warning",
			fmt.Sprintf("enrichment script %s failed", script.Type),
			map[string]any{"error": err.Error()})
		return
	}

	merged, err := r.merger.Merge(ctx, missionID, target, script.Type, output)
	if err != nil {
		log.Warn("Script merge-back failed", "script_type", script.Type, "error", err)
		r.publishLog(ctx, missionID, phase, "warning",
			fmt.Sprintf("merge-back for script %s failed", script.Type),
			map[string]any{"error": err.Error()})
		return
	}
	stats.NodesMerged += merged.NodesMerged
	stats.EdgesMerged += merged.EdgesMerged
	stats.UnknownShapes += merged.UnknownShapes

	log.Info("Enrichment script merged",
		"script_type", script.Type,
		"nodes_merged", merged.NodesMerged,
		"unknown_shapes", merged.UnknownShapes)
}

func (r *Reflector) publishLog(ctx context.Context, missionID, phase, level, msg string, fields map[string]any) {
	r.bus.Publish(ctx, events.New(events.EventLog, missionID, producer, events.LogPayload{
		Level:   level,
		Message: msg,
		Fields:  fields,
	}).WithPhase(phase))
}
