// Package events provides the versioned event envelope and the in-process
// bus that delivers mission events to SSE and WebSocket subscribers.
//
// The bus is a cache/stream, never the source of truth: the graph store is
// authoritative, and bus unavailability must not fail producers. Per mission
// the bus keeps a ring buffer of the most recent events for reconnect
// replay, and a publish-side dedup window so producer retries never reach
// subscribers twice.
package events

// SchemaVersion is the pinned envelope schema version. Consumers MUST skip
// envelopes with an unknown schema_version.
const SchemaVersion = "v2"

// Event types carried in the envelope's event_type field.
const (
	EventNodeAdded       = "NODE_ADDED"
	EventNodeUpdated     = "NODE_UPDATED"
	EventNodeDeleted     = "NODE_DELETED"
	EventEdgeAdded       = "EDGE_ADDED"
	EventEdgeDeleted     = "EDGE_DELETED"
	EventNodesBatch      = "NODES_BATCH"
	EventEdgesBatch      = "EDGES_BATCH"
	EventAttackPathAdded = "ATTACK_PATH_ADDED"
	EventSnapshot        = "SNAPSHOT"
	EventLog             = "LOG"
	EventMissionStatus   = "MISSION_STATUS"
	EventPhaseStarted    = "PHASE_STARTED"
	EventPhaseCompleted  = "PHASE_COMPLETED"
	EventAgentStarted    = "AGENT_STARTED"
	EventAgentFinished   = "AGENT_FINISHED"
	EventToolCalled      = "TOOL_CALLED"
	EventToolFinished    = "TOOL_FINISHED"
	EventLLMCall         = "LLM_CALL"
	EventVulnStatus      = "VULN_STATUS_CHANGED"
	EventEvidenceAdded   = "EVIDENCE_ADDED"
	EventError           = "ERROR"
)

// Logical topics. Both are multiplexed over the single in-process bus,
// partitioned by mission id, so a subscriber observes one unified
// producer-order stream per mission.
const (
	TopicGraph = "graph.events"
	TopicLogs  = "logs.recon"
)

// TopicFor routes an event type to its logical topic. Graph mutations go to
// graph.events; lifecycle, log, and tool events go to logs.recon.
func TopicFor(eventType string) string {
	switch eventType {
	case EventNodeAdded, EventNodeUpdated, EventNodeDeleted,
		EventEdgeAdded, EventEdgeDeleted, EventNodesBatch, EventEdgesBatch,
		EventAttackPathAdded, EventSnapshot, EventVulnStatus, EventEvidenceAdded:
		return TopicGraph
	}
	return TopicLogs
}

// MissionChannel returns the channel name for a mission's event stream.
// Format: "mission:{mission_id}". Used by the WebSocket subscribe protocol.
func MissionChannel(missionID string) string {
	return "mission:" + missionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "mission:01J0..."
	LastEventID *int64 `json:"last_event_id,omitempty"` // for catchup
}
