package api

import (
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/queue"
)

// MissionListResponse is returned by GET /missions.
type MissionListResponse struct {
	Missions []*models.Mission `json:"missions"`
	Count    int               `json:"count"`
}

// CancelResponse is returned by POST /missions/:id/cancel.
type CancelResponse struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// EdgeListResponse is returned by GET /missions/:id/edges.
type EdgeListResponse struct {
	Edges []graph.Edge `json:"edges"`
	Count int          `json:"count"`
}

// EdgeResult is one element of the POST /edges/batch response.
type EdgeResult struct {
	OK    bool        `json:"ok"`
	Edge  *graph.Edge `json:"edge,omitempty"`
	Error string      `json:"error,omitempty"`
}

// EdgeBatchResponse is returned by POST /edges/batch. Each edge passes or
// fails on its own.
type EdgeBatchResponse struct {
	Results   []EdgeResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// BatchUpsertResponse is returned by POST /graph/batchUpsert.
type BatchUpsertResponse struct {
	Nodes        []graph.Node `json:"nodes"`
	Edges        []graph.Edge `json:"edges"`
	NodesCreated int          `json:"nodes_created"`
	EdgesCreated int          `json:"edges_created"`
}

// ClearResponse is returned by DELETE /data/clear.
type ClearResponse struct {
	Deleted int    `json:"deleted"`
	Message string `json:"message"`
}

// HealthCheck is one named component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Checks     map[string]HealthCheck `json:"checks"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
}
