// Package graph defines the typed property graph domain: node and edge
// types, id conventions, property merge semantics, scope rules, and score
// clamping. All validation happens here so the store and pipeline share a
// single write boundary.
package graph

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// NodeType enumerates the closed set of node types.
type NodeType string

const (
	NodeDomain        NodeType = "DOMAIN"
	NodeSubdomain     NodeType = "SUBDOMAIN"
	NodeHTTPService   NodeType = "HTTP_SERVICE"
	NodeEndpoint      NodeType = "ENDPOINT"
	NodeParameter     NodeType = "PARAMETER"
	NodeJSFile        NodeType = "JS_FILE"
	NodeSecret        NodeType = "SECRET"
	NodeIPAddress     NodeType = "IP_ADDRESS"
	NodeDNSRecord     NodeType = "DNS_RECORD"
	NodeASN           NodeType = "ASN"
	NodeOrg           NodeType = "ORG"
	NodeHypothesis    NodeType = "HYPOTHESIS"
	NodeVulnerability NodeType = "VULNERABILITY"
	NodeAttackPath    NodeType = "ATTACK_PATH"
	NodeReport        NodeType = "REPORT"
	NodeAgentRun      NodeType = "AGENT_RUN"
	NodeToolCall      NodeType = "TOOL_CALL"
	NodeLLMReasoning  NodeType = "LLM_REASONING"
)

// Relation enumerates the closed set of edge relations.
type Relation string

const (
	RelHasSubdomain     Relation = "HAS_SUBDOMAIN"
	RelResolvesTo       Relation = "RESOLVES_TO"
	RelBelongsTo        Relation = "BELONGS_TO"
	RelHasRecord        Relation = "HAS_RECORD"
	RelExposesHTTP      Relation = "EXPOSES_HTTP"
	RelExposesEndpoint  Relation = "EXPOSES_ENDPOINT"
	RelLoadsJS          Relation = "LOADS_JS"
	RelContainsSecret   Relation = "CONTAINS_SECRET"
	RelLeaksSecret      Relation = "LEAKS_SECRET"
	RelHasParam         Relation = "HAS_PARAM"
	RelHasHypothesis    Relation = "HAS_HYPOTHESIS"
	RelHasVulnerability Relation = "HAS_VULNERABILITY"
	RelTargets          Relation = "TARGETS"
	RelHasReport        Relation = "HAS_REPORT"
	RelTriggers         Relation = "TRIGGERS"
	RelUsesTool         Relation = "USES_TOOL"
	RelProduces         Relation = "PRODUCES"
	RelRefines          Relation = "REFINES"
	RelLinksTo          Relation = "LINKS_TO"
)

var nodeTypes = map[NodeType]bool{
	NodeDomain: true, NodeSubdomain: true, NodeHTTPService: true,
	NodeEndpoint: true, NodeParameter: true, NodeJSFile: true,
	NodeSecret: true, NodeIPAddress: true, NodeDNSRecord: true,
	NodeASN: true, NodeOrg: true, NodeHypothesis: true,
	NodeVulnerability: true, NodeAttackPath: true, NodeReport: true,
	NodeAgentRun: true, NodeToolCall: true, NodeLLMReasoning: true,
}

var relations = map[Relation]bool{
	RelHasSubdomain: true, RelResolvesTo: true, RelBelongsTo: true,
	RelHasRecord: true, RelExposesHTTP: true, RelExposesEndpoint: true,
	RelLoadsJS: true, RelContainsSecret: true, RelLeaksSecret: true,
	RelHasParam: true, RelHasHypothesis: true, RelHasVulnerability: true,
	RelTargets: true, RelHasReport: true, RelTriggers: true,
	RelUsesTool: true, RelProduces: true, RelRefines: true, RelLinksTo: true,
}

// ValidNodeType reports whether t is a member of the closed node type set.
func ValidNodeType(t NodeType) bool { return nodeTypes[t] }

// ValidRelation reports whether r is a member of the closed relation set.
func ValidRelation(r Relation) bool { return relations[r] }

// UnknownTypeError is returned when a node write names a type outside the
// closed set.
type UnknownTypeError struct{ Type NodeType }

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown node type %q", e.Type)
}

// UnknownRelationError is returned when an edge write names a relation
// outside the closed set.
type UnknownRelationError struct{ Relation Relation }

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("unknown edge relation %q", e.Relation)
}

// OutOfScopeError is returned when a host-bearing node falls outside the
// mission's target domain.
type OutOfScopeError struct {
	ID     string
	Target string
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("node %q is out of scope for target %q", e.ID, e.Target)
}

// BadPropertyError is returned when a well-known property fails validation.
type BadPropertyError struct {
	Key string
	Msg string
}

func (e *BadPropertyError) Error() string {
	return fmt.Sprintf("bad property %q: %s", e.Key, e.Msg)
}

// MissingEndpointError is returned in strict mode when an edge references a
// node id that does not exist in the mission.
type MissingEndpointError struct{ NodeID string }

func (e *MissingEndpointError) Error() string {
	return fmt.Sprintf("edge endpoint %q does not exist", e.NodeID)
}

// Node is a typed property-graph node. Properties is schemaless with
// well-known keys per type (risk_score, evidence, status, ...).
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	MissionID  string         `json:"mission_id"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Edge is a write-once relation between two nodes of the same mission.
type Edge struct {
	ID         string         `json:"id"`
	Relation   Relation       `json:"relation"`
	From       string         `json:"from_node"`
	To         string         `json:"to_node"`
	MissionID  string         `json:"mission_id"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EdgeID derives the deterministic edge key:
// sha1(relation|from|to|mission) truncated to 16 hex chars.
func EdgeID(rel Relation, from, to, missionID string) string {
	sum := sha1.Sum([]byte(string(rel) + "|" + from + "|" + to + "|" + missionID))
	return hex.EncodeToString(sum[:])[:16]
}
