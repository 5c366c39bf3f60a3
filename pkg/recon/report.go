package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

// Reporting runs P6: assemble the mission report, persist the four report
// artifacts as graph nodes, and save the report on the mission record.
func (p *Pipeline) Reporting(ctx context.Context, m *models.Mission) (map[string]int, error) {
	apex := graph.NormalizeHost(m.Target)

	report, paths, err := p.buildReport(ctx, m)
	if err != nil {
		return nil, err
	}

	snapshot, err := p.store.ExportSnapshot(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	graphJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, err
	}

	stats, err := p.store.Stats(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	metrics := map[string]any{
		"mission_id":    m.ID,
		"target":        apex,
		"generated_at":  report.GeneratedAt,
		"node_count":    stats.NodeCount,
		"edge_count":    stats.EdgeCount,
		"nodes_by_type": stats.NodesByType,
		"coverage":      report.Coverage,
	}
	metricsJSON, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return nil, err
	}

	artifacts := []struct {
		id, kind, format, content string
	}{
		{"report:red_team", "red_team", "markdown", renderRedTeamReport(apex, report, paths)},
		{"report:knowledge_summary", "knowledge_summary", "text", renderKnowledgeSummary(apex, report, stats)},
		{"report:graph_export", "graph_export", "json", string(graphJSON)},
		{"report:metrics", "metrics", "json", string(metricsJSON)},
	}

	b := newBatch()
	for _, a := range artifacts {
		b.node(graph.Node{
			ID:   a.id,
			Type: graph.NodeReport,
			Properties: map[string]any{
				"kind":         a.kind,
				"format":       a.format,
				"content":      a.content,
				"generated_at": report.GeneratedAt.Format(time.RFC3339),
			},
		})
		b.edge(graph.RelHasReport, "domain:"+apex, a.id)
	}
	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return nil, err
	}

	if err := p.missions.SaveReport(ctx, m.ID, report); err != nil {
		return nil, err
	}
	return map[string]int{
		"reports":  len(artifacts),
		"findings": len(report.Findings),
	}, nil
}

// buildReport assembles the structured report from the mission graph.
func (p *Pipeline) buildReport(ctx context.Context, m *models.Mission) (*models.Report, []graph.Node, error) {
	typeCounts := map[graph.NodeType][]graph.Node{}
	for _, t := range []graph.NodeType{
		graph.NodeSubdomain, graph.NodeHTTPService, graph.NodeEndpoint,
		graph.NodeVulnerability, graph.NodeHypothesis, graph.NodeAttackPath,
		graph.NodeSecret,
	} {
		ns, err := p.store.QueryNodes(ctx, m.ID, store.NodeFilter{Type: t})
		if err != nil {
			return nil, nil, err
		}
		typeCounts[t] = ns
	}

	findings := make([]models.Finding, 0, len(typeCounts[graph.NodeVulnerability]))
	for _, v := range typeCounts[graph.NodeVulnerability] {
		f := models.Finding{
			NodeID:     v.ID,
			Title:      findingTitle(v),
			Status:     asString(v.Properties[graph.PropStatus]),
			Severity:   strings.ToLower(asString(v.Properties["severity"])),
			RiskScore:  numberOf(v.Properties[graph.PropRiskScore]),
			Likelihood: numberOf(v.Properties[graph.PropLikelihoodScore]),
			Impact:     numberOf(v.Properties[graph.PropImpactScore]),
			NextSteps:  nextStepsFor(v),
		}
		if at := asString(v.Properties["matched_at"]); at != "" {
			f.Targets = []string{at}
		}
		if ev, ok := v.Properties["evidence"].([]any); ok {
			f.Evidence = ev
		}
		findings = append(findings, f)
	}
	sort.Slice(findings, func(i, j int) bool {
		si := severityPoints(strings.ToUpper(findings[i].Severity))
		sj := severityPoints(strings.ToUpper(findings[j].Severity))
		if si != sj {
			return si > sj
		}
		return findings[i].NodeID < findings[j].NodeID
	})

	pathNodes := typeCounts[graph.NodeAttackPath]
	sort.Slice(pathNodes, func(i, j int) bool {
		ri, rj := numberOf(pathNodes[i].Properties[graph.PropRiskScore]), numberOf(pathNodes[j].Properties[graph.PropRiskScore])
		if ri != rj {
			return ri > rj
		}
		return pathNodes[i].ID < pathNodes[j].ID
	})
	attackPaths := make([]models.AttackPath, 0, len(pathNodes))
	for _, n := range pathNodes {
		attackPaths = append(attackPaths, models.AttackPath{
			ID:        n.ID,
			Label:     asString(n.Properties["label"]),
			NodeIDs:   stringSlice(n.Properties["node_ids"]),
			RiskScore: numberOf(n.Properties[graph.PropRiskScore]),
			Rationale: asString(n.Properties["rationale"]),
		})
	}

	hypothesesTested := 0
	for _, h := range typeCounts[graph.NodeHypothesis] {
		if tested, _ := h.Properties["tested"].(bool); tested {
			hypothesesTested++
		}
	}

	report := &models.Report{
		GeneratedAt: time.Now().UTC(),
		Summary: fmt.Sprintf("%d subdomains, %d live services, %d endpoints, %d findings",
			len(typeCounts[graph.NodeSubdomain]), len(typeCounts[graph.NodeHTTPService]),
			len(typeCounts[graph.NodeEndpoint]), len(findings)),
		Counts: map[string]int{
			"subdomains":      len(typeCounts[graph.NodeSubdomain]),
			"services":        len(typeCounts[graph.NodeHTTPService]),
			"endpoints":       len(typeCounts[graph.NodeEndpoint]),
			"vulnerabilities": len(findings),
			"hypotheses":      len(typeCounts[graph.NodeHypothesis]),
			"attack_paths":    len(attackPaths),
			"secrets":         len(typeCounts[graph.NodeSecret]),
		},
		Findings:    findings,
		AttackPaths: attackPaths,
		Coverage: models.Coverage{
			SubdomainsFound:    len(typeCounts[graph.NodeSubdomain]),
			ServicesProbed:     len(typeCounts[graph.NodeHTTPService]),
			EndpointsCataloged: len(typeCounts[graph.NodeEndpoint]),
			HypothesesTested:   hypothesesTested,
			ToolRuns:           int(p.toolRuns.Load()),
			ToolFailures:       int(p.toolFailures.Load()),
		},
	}
	return report, pathNodes, nil
}

func findingTitle(v graph.Node) string {
	if t := asString(v.Properties["title"]); t != "" {
		return t
	}
	if id := asString(v.Properties["template_id"]); id != "" {
		return strings.ReplaceAll(id, "-", " ")
	}
	return v.ID
}

// nextStepsFor suggests manual follow-up. The platform never exploits;
// verification beyond observation belongs to the operator.
func nextStepsFor(v graph.Node) []string {
	switch asString(v.Properties["template_id"]) {
	case "behavioral-anomaly":
		return []string{"manually reproduce the baseline and probe requests", "review server logs for the error path"}
	case "auth_bypass":
		return []string{"review access control on the admin surface"}
	case "sqli":
		return []string{"review parameter handling with parameterized queries in mind"}
	case "idor":
		return []string{"verify object-level authorization on id-based endpoints"}
	case "brute_force":
		return []string{"confirm rate limiting and lockout policy on the auth endpoint"}
	}
	return nil
}

// renderRedTeamReport renders the operator-facing markdown artifact.
func renderRedTeamReport(apex string, report *models.Report, paths []graph.Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Reconnaissance Report: %s\n\n", apex)
	fmt.Fprintf(&sb, "_Generated %s_\n\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "%s\n\n", report.Summary)

	sb.WriteString("## Findings\n\n")
	if len(report.Findings) == 0 {
		sb.WriteString("No findings.\n\n")
	}
	for _, f := range report.Findings {
		fmt.Fprintf(&sb, "### %s\n\n", f.Title)
		fmt.Fprintf(&sb, "- Severity: %s\n- Status: %s\n", f.Severity, f.Status)
		for _, t := range f.Targets {
			fmt.Fprintf(&sb, "- Target: %s\n", t)
		}
		for _, step := range f.NextSteps {
			fmt.Fprintf(&sb, "- Next: %s\n", step)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Attack Paths\n\n")
	if len(paths) == 0 {
		sb.WriteString("No attack paths planned.\n")
	}
	for _, n := range paths {
		fmt.Fprintf(&sb, "### %s (risk %.0f)\n\n", asString(n.Properties["label"]), numberOf(n.Properties[graph.PropRiskScore]))
		fmt.Fprintf(&sb, "Chain: %s\n\n", strings.Join(stringSlice(n.Properties["node_ids"]), " -> "))
		if rationale := asString(n.Properties["rationale"]); rationale != "" {
			fmt.Fprintf(&sb, "%s\n\n", rationale)
		}
		if actions := stringSlice(n.Properties["suggested_actions"]); len(actions) > 0 {
			fmt.Fprintf(&sb, "Suggested actions: %s\n\n", strings.Join(actions, ", "))
		}
	}

	sb.WriteString("## Coverage\n\n")
	c := report.Coverage
	fmt.Fprintf(&sb, "- Subdomains found: %d\n- Services probed: %d\n- Endpoints cataloged: %d\n",
		c.SubdomainsFound, c.ServicesProbed, c.EndpointsCataloged)
	fmt.Fprintf(&sb, "- Hypotheses tested: %d\n- Tool runs: %d (%d failed)\n",
		c.HypothesesTested, c.ToolRuns, c.ToolFailures)
	return sb.String()
}

// renderKnowledgeSummary renders the compact per-mission knowledge artifact.
func renderKnowledgeSummary(apex string, report *models.Report, stats *store.GraphStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target: %s\n", apex)
	fmt.Fprintf(&sb, "Graph: %d nodes, %d edges\n", stats.NodeCount, stats.EdgeCount)

	types := make([]string, 0, len(stats.NodesByType))
	for t := range stats.NodesByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&sb, "  %s: %d\n", t, stats.NodesByType[t])
	}

	sb.WriteString("Severity distribution:\n")
	bySeverity := map[string]int{}
	for _, f := range report.Findings {
		bySeverity[f.Severity]++
	}
	for _, sev := range []string{"critical", "high", "medium", "low", "info"} {
		if n := bySeverity[sev]; n > 0 {
			fmt.Fprintf(&sb, "  %s: %d\n", sev, n)
		}
	}
	return sb.String()
}
