package config

import "time"

// Recon engagement modes. The mode gates how aggressive active probing is
// allowed to be.
const (
	ModeStealth    = "stealth"
	ModeBalanced   = "balanced"
	ModeAggressive = "aggressive"
)

// ValidMode reports whether mode is a recognized engagement mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeStealth, ModeBalanced, ModeAggressive:
		return true
	}
	return false
}

// ReconConfig controls the recon pipeline: phase budgets, concurrency, and
// the planning thresholds.
type ReconConfig struct {
	// Mode is the default engagement mode for new missions.
	Mode string `yaml:"mode"`

	// MaxWorkers bounds concurrent tool calls within a single phase.
	MaxWorkers int `yaml:"max_workers"`

	// PhaseTimeout is the per-phase deadline. A phase that exceeds it is
	// abandoned with a checkpoint warning; the pipeline moves on.
	PhaseTimeout time.Duration `yaml:"phase_timeout"`

	// PassiveTimeout is the deadline for the passive recon phase, which is
	// network-light and gets a tighter budget than the probing phases.
	PassiveTimeout time.Duration `yaml:"passive_timeout"`

	// ToolTimeout is the per-tool-invocation deadline.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// RiskScoreThreshold is the minimum risk score for an endpoint to enter
	// the verification phase.
	RiskScoreThreshold float64 `yaml:"risk_score_threshold"`

	// MaxHypothesesPerService caps hypotheses generated per HTTP service.
	MaxHypothesesPerService int `yaml:"max_hypotheses_per_service"`

	// ReflectionMaxIterations bounds the analyze→script→merge loop per tool
	// result.
	ReflectionMaxIterations int `yaml:"reflection_max_iterations"`

	// ScriptTimeout is the sandbox deadline for one reflection script run.
	ScriptTimeout time.Duration `yaml:"script_timeout"`
}

// DefaultReconConfig returns the built-in recon defaults.
func DefaultReconConfig() *ReconConfig {
	return &ReconConfig{
		Mode:                    ModeBalanced,
		MaxWorkers:              5,
		PhaseTimeout:            600 * time.Second,
		PassiveTimeout:          120 * time.Second,
		ToolTimeout:             120 * time.Second,
		RiskScoreThreshold:      40,
		MaxHypothesesPerService: 3,
		ReflectionMaxIterations: 3,
		ScriptTimeout:           30 * time.Second,
	}
}
