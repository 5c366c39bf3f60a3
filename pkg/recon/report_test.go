package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

func TestFindingTitle(t *testing.T) {
	assert.Equal(t, "Behavioral anomaly", findingTitle(graph.Node{Properties: map[string]any{
		"title":       "Behavioral anomaly",
		"template_id": "behavioral-anomaly",
	}}))
	assert.Equal(t, "missing hsts", findingTitle(graph.Node{Properties: map[string]any{
		"template_id": "missing-hsts",
	}}))
	assert.Equal(t, "vulnerability:x:y", findingTitle(graph.Node{ID: "vulnerability:x:y", Properties: map[string]any{}}))
}

func TestNextStepsNeverSuggestExploitation(t *testing.T) {
	for _, id := range []string{"behavioral-anomaly", "auth_bypass", "sqli", "idor", "brute_force"} {
		steps := nextStepsFor(graph.Node{Properties: map[string]any{"template_id": id}})
		assert.NotEmpty(t, steps, id)
		for _, step := range steps {
			assert.NotContains(t, step, "exploit", id)
		}
	}
	assert.Nil(t, nextStepsFor(graph.Node{Properties: map[string]any{"template_id": "missing-hsts"}}))
}

func TestRenderRedTeamReport(t *testing.T) {
	report := &models.Report{
		GeneratedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Summary:     "3 subdomains, 2 live services, 14 endpoints, 1 findings",
		Findings: []models.Finding{{
			NodeID:    "vulnerability:sqli:https://api.colombes.fr/api/v1/users?id=1",
			Title:     "SQLI (untested hypothesis)",
			Status:    "THEORETICAL",
			Severity:  "high",
			Targets:   []string{"https://api.colombes.fr/api/v1/users?id=1"},
			NextSteps: []string{"review parameter handling with parameterized queries in mind"},
		}},
		Coverage: models.Coverage{SubdomainsFound: 3, ServicesProbed: 2, EndpointsCataloged: 14, ToolRuns: 9},
	}
	paths := []graph.Node{{
		ID:   "attack_path:api.colombes.fr",
		Type: graph.NodeAttackPath,
		Properties: map[string]any{
			"label":             "Attack surface on api.colombes.fr",
			"node_ids":          []string{"subdomain:api.colombes.fr", "http_service:https://api.colombes.fr/"},
			graph.PropRiskScore: 11.0,
			"rationale":         "API endpoints (+2)",
			"suggested_actions": []string{"ffuf_fuzz"},
		},
	}}

	md := renderRedTeamReport("colombes.fr", report, paths)

	assert.Contains(t, md, "# Reconnaissance Report: colombes.fr")
	assert.Contains(t, md, "### SQLI (untested hypothesis)")
	assert.Contains(t, md, "- Severity: high")
	assert.Contains(t, md, "### Attack surface on api.colombes.fr (risk 11)")
	assert.Contains(t, md, "subdomain:api.colombes.fr -> http_service:https://api.colombes.fr/")
	assert.Contains(t, md, "Suggested actions: ffuf_fuzz")
	assert.Contains(t, md, "- Tool runs: 9 (0 failed)")
}

func TestRenderKnowledgeSummary(t *testing.T) {
	report := &models.Report{
		Findings: []models.Finding{
			{Severity: "high"}, {Severity: "high"}, {Severity: "low"},
		},
	}
	stats := &store.GraphStats{
		NodeCount:   20,
		EdgeCount:   19,
		NodesByType: map[string]int{"SUBDOMAIN": 5, "ENDPOINT": 10},
	}

	out := renderKnowledgeSummary("colombes.fr", report, stats)

	assert.Contains(t, out, "Target: colombes.fr")
	assert.Contains(t, out, "Graph: 20 nodes, 19 edges")
	assert.Contains(t, out, "ENDPOINT: 10")
	assert.Contains(t, out, "high: 2")
	assert.Contains(t, out, "low: 1")
}
