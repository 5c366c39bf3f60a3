// Package models defines the shared domain types exchanged between the
// store, services, queue, and API layers.
package models

import "time"

// Mission lifecycle statuses.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Pipeline phases, in execution order.
const (
	PhasePassiveRecon  = "PASSIVE_RECON"
	PhaseSafetyNet     = "SAFETY_NET"
	PhaseActiveRecon   = "ACTIVE_RECON"
	PhaseEndpointIntel = "ENDPOINT_INTEL"
	PhaseVerification  = "VERIFICATION"
	PhasePlanning      = "PLANNING"
	PhaseReporting     = "REPORTING"
)

// Phases returns the pipeline phases in execution order.
func Phases() []string {
	return []string{
		PhasePassiveRecon,
		PhaseSafetyNet,
		PhaseActiveRecon,
		PhaseEndpointIntel,
		PhaseVerification,
		PhasePlanning,
		PhaseReporting,
	}
}

// TerminalStatus reports whether status is a terminal mission state.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidStatusTransition enforces the mission state machine:
// QUEUED → RUNNING → {COMPLETED, FAILED, CANCELLED}; QUEUED → CANCELLED;
// terminal states never transition. RUNNING → QUEUED is allowed for orphan
// recovery only.
func ValidStatusTransition(from, to string) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled || to == StatusQueued
	}
	return false
}

// Mission is one reconnaissance engagement against an authorized target.
type Mission struct {
	ID            string     `json:"id"`
	Target        string     `json:"target"`
	Scope         []string   `json:"scope"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	Phase         string     `json:"phase,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorStage    string     `json:"error_stage,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ClaimedBy     *string    `json:"claimed_by,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Report        *Report    `json:"report,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Report is the final mission deliverable produced by the reporting phase.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     string         `json:"summary"`
	Counts      map[string]int `json:"counts"`
	Findings    []Finding      `json:"findings"`
	AttackPaths []AttackPath   `json:"attack_paths,omitempty"`
	Coverage    Coverage       `json:"coverage"`
}

// Finding is one reportable vulnerability or exposure.
type Finding struct {
	NodeID     string   `json:"node_id"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	Severity   string   `json:"severity"`
	RiskScore  float64  `json:"risk_score"`
	Likelihood float64  `json:"likelihood"`
	Impact     float64  `json:"impact"`
	Targets    []string `json:"targets,omitempty"`
	Evidence   []any    `json:"evidence,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
}

// AttackPath is an ordered chain of graph nodes describing a plausible
// escalation route.
type AttackPath struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	NodeIDs   []string `json:"node_ids"`
	RiskScore float64  `json:"risk_score"`
	Rationale string   `json:"rationale,omitempty"`
}

// Coverage summarizes what the mission actually explored.
type Coverage struct {
	SubdomainsFound    int `json:"subdomains_found"`
	ServicesProbed     int `json:"services_probed"`
	EndpointsCataloged int `json:"endpoints_cataloged"`
	HypothesesTested   int `json:"hypotheses_tested"`
	ToolRuns           int `json:"tool_runs"`
	ToolFailures       int `json:"tool_failures"`
}
