package graph

import "encoding/json"

// Well-known score property keys.
const (
	PropRiskScore       = "risk_score"
	PropLikelihoodScore = "likelihood_score"
	PropImpactScore     = "impact_score"
	PropStatus          = "status"
)

// VulnStatus enumerates vulnerability lifecycle states. Transitions are
// monotone toward confirmation; FALSE_POSITIVE and MITIGATED require an
// explicit curator override.
type VulnStatus string

const (
	VulnTheoretical   VulnStatus = "THEORETICAL"
	VulnPossible      VulnStatus = "POSSIBLE"
	VulnLikely        VulnStatus = "LIKELY"
	VulnConfirmed     VulnStatus = "CONFIRMED"
	VulnFalsePositive VulnStatus = "FALSE_POSITIVE"
	VulnMitigated     VulnStatus = "MITIGATED"
)

// vulnRank orders statuses along the confirmation axis. Override-only
// statuses have no rank.
var vulnRank = map[VulnStatus]int{
	VulnTheoretical: 1,
	VulnPossible:    2,
	VulnLikely:      3,
	VulnConfirmed:   4,
}

// ValidVulnStatus reports whether s is a known vulnerability status.
func ValidVulnStatus(s VulnStatus) bool {
	switch s {
	case VulnTheoretical, VulnPossible, VulnLikely, VulnConfirmed,
		VulnFalsePositive, VulnMitigated:
		return true
	}
	return false
}

// VulnTransitionAllowed reports whether a vulnerability status change from
// old to new is permitted. Without override only forward movement toward
// CONFIRMED is allowed; override (the Evidence Curator path) permits any
// valid status.
func VulnTransitionAllowed(old, new VulnStatus, override bool) bool {
	if !ValidVulnStatus(new) {
		return false
	}
	if override {
		return true
	}
	oldRank, okOld := vulnRank[old]
	newRank, okNew := vulnRank[new]
	if !okOld || !okNew {
		// Entering or leaving FALSE_POSITIVE/MITIGATED needs the curator.
		return false
	}
	return newRank >= oldRank
}

// ClampScores enforces score ranges in place on a property map:
// risk_score ∈ [0,100], likelihood_score and impact_score ∈ [0,10].
// Non-numeric values for these keys are removed.
func ClampScores(props map[string]any) {
	clampKey(props, PropRiskScore, 0, 100)
	clampKey(props, PropLikelihoodScore, 0, 10)
	clampKey(props, PropImpactScore, 0, 10)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampKey(props map[string]any, key string, lo, hi float64) {
	v, ok := props[key]
	if !ok {
		return
	}
	f, ok := toFloat(v)
	if !ok {
		delete(props, key)
		return
	}
	props[key] = Clamp(f, lo, hi)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
