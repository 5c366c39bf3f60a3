// Package metrics defines the Prometheus collectors for the mission
// pipeline. Collectors register on the default registry; the API server
// exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_events_published_total",
	Help: "Events accepted by the bus, by event type.",
}, []string{"event_type"})

var EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_events_dropped_total",
	Help: "Events dropped by the bus: duplicate, invalid, or slow_subscriber.",
}, []string{"reason"})

var NodesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_nodes_upserted_total",
	Help: "Graph node writes, by node type and outcome (created, merged).",
}, []string{"type", "outcome"})

var EdgesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_edges_upserted_total",
	Help: "Graph edge writes, by relation and outcome (created, ignored).",
}, []string{"relation", "outcome"})

var ToolRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_tool_runs_total",
	Help: "Tool invocations, by tool and result (ok, error).",
}, []string{"tool", "result"})

var ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "recongraph_tool_duration_seconds",
	Help:    "Tool invocation wall time including retries.",
	Buckets: prometheus.DefBuckets,
}, []string{"tool"})

var PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "recongraph_phase_duration_seconds",
	Help:    "Mission phase wall time.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
}, []string{"phase"})

var MissionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recongraph_missions_finished_total",
	Help: "Missions reaching a terminal status.",
}, []string{"status"})

var SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "recongraph_sse_subscribers",
	Help: "Currently connected SSE subscribers.",
})

var WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "recongraph_ws_connections",
	Help: "Currently connected WebSocket clients.",
})
