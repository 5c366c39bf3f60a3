package events

import "github.com/skyhound/recongraph/pkg/graph"

// NodePayload is the payload for NODE_ADDED / NODE_UPDATED events.
type NodePayload struct {
	Node graph.Node `json:"node"`
}

// EdgePayload is the payload for EDGE_ADDED events.
type EdgePayload struct {
	Edge graph.Edge `json:"edge"`
}

// BatchPayload is the payload for NODES_BATCH / EDGES_BATCH events.
// Exactly one batch event is emitted per logical batch write.
type BatchPayload struct {
	NodeCount int          `json:"node_count,omitempty"`
	EdgeCount int          `json:"edge_count,omitempty"`
	Nodes     []graph.Node `json:"nodes,omitempty"`
	Edges     []graph.Edge `json:"edges,omitempty"`
}

// SnapshotPayload is the payload for SNAPSHOT events, delivered once on a
// fresh subscription before live deltas.
type SnapshotPayload struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// MissionStatusPayload is the payload for MISSION_STATUS events.
// A FAILED status carries the fault code and stage.
type MissionStatusPayload struct {
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

// PhasePayload is the payload for PHASE_STARTED / PHASE_COMPLETED events.
// Counts summarize what the phase produced (e.g. {"subdomains": 3}).
type PhasePayload struct {
	Phase    string         `json:"phase"`
	Counts   map[string]int `json:"counts,omitempty"`
	Duration float64        `json:"duration_seconds,omitempty"`
}

// ToolPayload is the payload for TOOL_CALLED / TOOL_FINISHED events.
type ToolPayload struct {
	Tool     string  `json:"tool"`
	Args     any     `json:"args,omitempty"`
	OK       bool    `json:"ok"`
	Error    string  `json:"error,omitempty"`
	Code     string  `json:"code,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
}

// LogPayload is the payload for LOG and checkpoint WARNING events.
type LogPayload struct {
	Level   string `json:"level"` // "info", "warning", "error"
	Message string `json:"message"`
	Fields  any    `json:"fields,omitempty"`
}

// ErrorPayload is the payload for ERROR events.
type ErrorPayload struct {
	Code        string `json:"code"`
	Stage       string `json:"stage"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
	Recoverable bool   `json:"recoverable"`
}

// VulnStatusPayload is the payload for VULN_STATUS_CHANGED events.
type VulnStatusPayload struct {
	NodeID    string `json:"node_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// EvidencePayload is the payload for EVIDENCE_ADDED events.
type EvidencePayload struct {
	NodeID string `json:"node_id"`
	Count  int    `json:"count"` // distinct evidence items after merge
}

// AgentPayload is the payload for AGENT_STARTED / AGENT_FINISHED events
// (reflection and reasoner runs).
type AgentPayload struct {
	Agent   string `json:"agent"`
	Task    string `json:"task,omitempty"`
	OK      bool   `json:"ok"`
	Summary string `json:"summary,omitempty"`
}
