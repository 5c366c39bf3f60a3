package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeIDDeterministic(t *testing.T) {
	a := EdgeID(RelExposesHTTP, "subdomain:api.colombes.fr", "http_service:https://api.colombes.fr", "m1")
	b := EdgeID(RelExposesHTTP, "subdomain:api.colombes.fr", "http_service:https://api.colombes.fr", "m1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	// Any field change produces a different id.
	assert.NotEqual(t, a, EdgeID(RelExposesHTTP, "subdomain:api.colombes.fr", "http_service:https://api.colombes.fr", "m2"))
	assert.NotEqual(t, a, EdgeID(RelHasSubdomain, "subdomain:api.colombes.fr", "http_service:https://api.colombes.fr", "m1"))
}

func TestValidation(t *testing.T) {
	assert.True(t, ValidNodeType(NodeSubdomain))
	assert.True(t, ValidNodeType(NodeLLMReasoning))
	assert.False(t, ValidNodeType("WIDGET"))

	assert.True(t, ValidRelation(RelLinksTo))
	assert.False(t, ValidRelation("OWNS"))
}

func TestMergePropertiesShallowReplace(t *testing.T) {
	existing := map[string]any{"title": "old", "status_code": 200}
	incoming := map[string]any{"title": "new", "server": "nginx"}

	merged := MergeProperties(existing, incoming)
	assert.Equal(t, "new", merged["title"])
	assert.Equal(t, 200, merged["status_code"])
	assert.Equal(t, "nginx", merged["server"])

	// Inputs untouched.
	assert.Equal(t, "old", existing["title"])
}

func TestMergeEvidenceDedupBySHA256(t *testing.T) {
	item1 := map[string]any{"kind": "header", "summary": "server banner", "detail": "nginx/1.18"}
	item2 := map[string]any{"kind": "body", "summary": "error page", "detail": "stack trace"}

	existing := map[string]any{"evidence": []any{item1}}
	incoming := map[string]any{"evidence": []any{item1, item2}}

	merged := MergeProperties(existing, incoming)
	ev := merged["evidence"].([]any)
	require.Len(t, ev, 2)
	assert.Equal(t, item1, ev[0])
	assert.Equal(t, item2, ev[1])

	// Re-merging the same items changes nothing, regardless of repetition count.
	again := MergeProperties(merged, map[string]any{"evidence": []any{item2, item2, item1}})
	assert.Len(t, again["evidence"].([]any), 2)
}

func TestEvidenceHashPrefersExplicitField(t *testing.T) {
	item := map[string]any{"kind": "body", "sha256": "abc123"}
	assert.Equal(t, "abc123", EvidenceHash(item))

	// Without the field the hash is stable across calls.
	other := map[string]any{"kind": "body", "detail": "x"}
	assert.Equal(t, EvidenceHash(other), EvidenceHash(map[string]any{"detail": "x", "kind": "body"}))
}

func TestInScope(t *testing.T) {
	assert.True(t, InScope("colombes.fr", "colombes.fr"))
	assert.True(t, InScope("api.colombes.fr", "colombes.fr"))
	assert.True(t, InScope("API.Colombes.FR.", "colombes.fr"))
	assert.True(t, InScope("api.colombes.fr:8443", "colombes.fr"))
	assert.False(t, InScope("dev.other.com", "colombes.fr"))
	assert.False(t, InScope("notcolombes.fr", "colombes.fr"))
	assert.False(t, InScope("", "colombes.fr"))
}

func TestHostFromID(t *testing.T) {
	assert.Equal(t, "api.colombes.fr", HostFromID("subdomain:api.colombes.fr"))
	assert.Equal(t, "api.colombes.fr", HostFromID("http_service:https://api.colombes.fr"))
	assert.Equal(t, "api.colombes.fr", HostFromID("endpoint:https://api.colombes.fr:8443/v1/users?id=1"))
	assert.Equal(t, "colombes.fr", HostFromID("colombes.fr"))
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("subdomain:www.example.com"))
	assert.True(t, IsPlaceholder("endpoint:https://api.example.org/v1"))
	assert.False(t, IsPlaceholder("subdomain:www.colombes.fr"))
}

func TestClampScores(t *testing.T) {
	props := map[string]any{
		"risk_score":       121.0, // 11 * 11 must clamp to 100
		"likelihood_score": 11.0,
		"impact_score":     -3.0,
		"title":            "untouched",
	}
	ClampScores(props)
	assert.Equal(t, 100.0, props["risk_score"])
	assert.Equal(t, 10.0, props["likelihood_score"])
	assert.Equal(t, 0.0, props["impact_score"])
	assert.Equal(t, "untouched", props["title"])
}

func TestClampScoresDropsNonNumeric(t *testing.T) {
	props := map[string]any{"risk_score": "high"}
	ClampScores(props)
	_, ok := props["risk_score"]
	assert.False(t, ok)
}

func TestVulnTransitions(t *testing.T) {
	// Monotone toward confirmation.
	assert.True(t, VulnTransitionAllowed(VulnTheoretical, VulnPossible, false))
	assert.True(t, VulnTransitionAllowed(VulnPossible, VulnLikely, false))
	assert.True(t, VulnTransitionAllowed(VulnLikely, VulnConfirmed, false))
	assert.True(t, VulnTransitionAllowed(VulnLikely, VulnLikely, false))

	// No backsliding without the curator.
	assert.False(t, VulnTransitionAllowed(VulnConfirmed, VulnTheoretical, false))
	assert.False(t, VulnTransitionAllowed(VulnLikely, VulnFalsePositive, false))

	// Curator override may set any valid status.
	assert.True(t, VulnTransitionAllowed(VulnConfirmed, VulnFalsePositive, true))
	assert.True(t, VulnTransitionAllowed(VulnConfirmed, VulnMitigated, true))
	assert.False(t, VulnTransitionAllowed(VulnConfirmed, "BOGUS", true))
}
