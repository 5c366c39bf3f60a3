package api

import (
	"encoding/json"
	"errors"

	"github.com/skyhound/recongraph/pkg/graph"
)

// CreateMissionRequest is the HTTP request body for POST /missions.
// "target" is accepted as an alias for "target_domain".
type CreateMissionRequest struct {
	TargetDomain   string         `json:"target_domain"`
	Target         string         `json:"target"`
	Mode           string         `json:"mode,omitempty"`
	SeedSubdomains []string       `json:"seed_subdomains,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// NodeRequest is the HTTP request body for POST /nodes and the node items
// of POST /graph/batchUpsert.
type NodeRequest struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	MissionID  string         `json:"mission_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// PatchNodeRequest is the HTTP request body for PATCH /nodes/:id.
// curator_override permits vulnerability status transitions that are
// otherwise forbidden (downgrades, FALSE_POSITIVE, MITIGATED).
type PatchNodeRequest struct {
	MissionID       string         `json:"mission_id"`
	Properties      map[string]any `json:"properties"`
	CuratorOverride bool           `json:"curator_override,omitempty"`
}

// NodeQueryRequest is the HTTP request body for POST /nodes/query.
type NodeQueryRequest struct {
	MissionID    string   `json:"mission_id"`
	NodeTypes    []string `json:"node_types,omitempty"`
	RiskScoreMin float64  `json:"risk_score_min,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
}

// EdgeRequest is the HTTP request body for POST /edges and the items of
// POST /edges/batch. The endpoint and relation fields each accept an alias:
// from_node|source_id, to_node|target_id, relation|type.
type EdgeRequest struct {
	MissionID  string         `json:"mission_id"`
	FromNode   string         `json:"from_node"`
	SourceID   string         `json:"source_id"`
	ToNode     string         `json:"to_node"`
	TargetID   string         `json:"target_id"`
	Relation   string         `json:"relation"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// resolveEdge normalizes an edge request's alias fields into a graph.Edge.
// Relation membership is checked later at the store's write boundary.
func resolveEdge(req *EdgeRequest) (graph.Edge, error) {
	from := req.FromNode
	if from == "" {
		from = req.SourceID
	}
	to := req.ToNode
	if to == "" {
		to = req.TargetID
	}
	rel := req.Relation
	if rel == "" {
		rel = req.Type
	}

	if from == "" || to == "" {
		return graph.Edge{}, errors.New("edge endpoints are required (from_node/to_node)")
	}
	if rel == "" {
		return graph.Edge{}, errors.New("relation is required")
	}
	return graph.Edge{
		From:       from,
		To:         to,
		Relation:   graph.Relation(rel),
		Properties: req.Properties,
	}, nil
}

// BatchUpsertRequest is the HTTP request body for POST /graph/batchUpsert.
type BatchUpsertRequest struct {
	MissionID string        `json:"mission_id"`
	Nodes     []NodeRequest `json:"nodes,omitempty"`
	Edges     []EdgeRequest `json:"edges,omitempty"`
}

// LayoutRequest is the HTTP request body for PUT /missions/:id/layout.
type LayoutRequest struct {
	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data"`
}
