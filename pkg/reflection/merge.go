package reflection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/store"
)

// MergeStats summarizes one merge-back pass.
type MergeStats struct {
	NodesMerged   int
	EdgesMerged   int
	UnknownShapes int
}

// Merger folds recognized script output shapes back into the mission graph.
// Everything it writes carries source=reflection:<script_type>.
type Merger struct {
	store *store.GraphStore
}

// NewMerger creates a merger over the graph store.
func NewMerger(gs *store.GraphStore) *Merger {
	return &Merger{store: gs}
}

// Merge inspects the script output and upserts what it recognizes:
// subdomain lists, technology fingerprints, exposure findings, open ports,
// and certificate details. Unrecognized top-level keys are only counted.
func (m *Merger) Merge(ctx context.Context, missionID, target, scriptType string, output map[string]any) (MergeStats, error) {
	source := "reflection:" + scriptType
	stats := MergeStats{}

	for key, value := range output {
		switch key {
		case "subdomains":
			n, e, err := m.mergeSubdomains(ctx, missionID, target, source, stringSlice(value))
			if err != nil {
				return stats, err
			}
			stats.NodesMerged += n
			stats.EdgesMerged += e
		case "results":
			n, err := m.mergeResults(ctx, missionID, target, source, mapSlice(value))
			if err != nil {
				return stats, err
			}
			stats.NodesMerged += n
		case "findings":
			n, e, err := m.mergeFindings(ctx, missionID, target, source, mapSlice(value))
			if err != nil {
				return stats, err
			}
			stats.NodesMerged += n
			stats.EdgesMerged += e
		case "not_implemented", "error":
			// stub or script-reported failure, nothing to merge
		default:
			stats.UnknownShapes++
			slog.Debug("Unrecognized script output shape",
				"script_type", scriptType, "key", key)
		}
	}
	return stats, nil
}

func (m *Merger) mergeSubdomains(ctx context.Context, missionID, target, source string, hosts []string) (int, int, error) {
	nodes := make([]graph.Node, 0, len(hosts))
	edges := make([]graph.Edge, 0, len(hosts))
	for _, raw := range hosts {
		host := graph.NormalizeHost(raw)
		if host == "" || graph.IsPlaceholder(host) || !graph.InScope(host, target) {
			continue
		}
		id := "subdomain:" + host
		nodes = append(nodes, graph.Node{
			ID:   id,
			Type: graph.NodeSubdomain,
			Properties: map[string]any{
				"host":   host,
				"source": source,
			},
		})
		edges = append(edges, graph.Edge{
			Relation: graph.RelHasSubdomain,
			From:     "domain:" + target,
			To:       id,
		})
	}
	if len(nodes) == 0 {
		return 0, 0, nil
	}

	// The apex node may not exist yet when reflection runs early.
	nodes = append(nodes, graph.Node{
		ID:         "domain:" + target,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": target},
	})

	res, err := m.store.BatchUpsert(ctx, missionID, nodes, edges)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to merge subdomains: %w", err)
	}
	return len(res.Nodes), len(res.Edges), nil
}

// mergeResults handles per-target result rows: technology fingerprints onto
// HTTP services, open ports and certificate data onto subdomains.
func (m *Merger) mergeResults(ctx context.Context, missionID, target, source string, results []map[string]any) (int, error) {
	merged := 0
	for _, r := range results {
		switch {
		case r["url"] != nil:
			u, _ := r["url"].(string)
			if u == "" {
				continue
			}
			props := map[string]any{"source": source}
			if server, ok := r["server"].(string); ok && server != "" {
				props["server"] = server
			}
			if powered, ok := r["powered_by"].(string); ok && powered != "" {
				props["powered_by"] = powered
			}
			if techs := stringSlice(r["technologies"]); len(techs) > 0 {
				props["technologies"] = techs
			}
			if len(props) == 1 {
				continue
			}
			if _, err := m.store.PatchNode(ctx, missionID, "http_service:"+u, props, false); err != nil {
				slog.Debug("Skipping fingerprint for unknown service", "url", u, "error", err)
				continue
			}
			merged++

		case r["host"] != nil:
			host, _ := r["host"].(string)
			host = graph.NormalizeHost(host)
			if host == "" || !graph.InScope(host, target) {
				continue
			}
			props := map[string]any{"source": source}
			if ports, ok := r["open_ports"]; ok {
				props["open_ports"] = ports
			}
			for _, k := range []string{"subject", "issuer", "expires"} {
				if v, ok := r[k].(string); ok && v != "" {
					props["cert_"+k] = v
				}
			}
			if len(props) == 1 {
				continue
			}
			if _, err := m.store.PatchNode(ctx, missionID, "subdomain:"+host, props, false); err != nil {
				slog.Debug("Skipping enrichment for unknown host", "host", host, "error", err)
				continue
			}
			merged++
		}
	}
	return merged, nil
}

// mergeFindings materializes exposure findings as theoretical vulnerability
// nodes linked to the host they were observed on.
func (m *Merger) mergeFindings(ctx context.Context, missionID, target, source string, findings []map[string]any) (int, int, error) {
	nodes := make([]graph.Node, 0, len(findings))
	edges := make([]graph.Edge, 0, len(findings))
	for _, f := range findings {
		templateID, _ := f["template_id"].(string)
		matchedAt, _ := f["url"].(string)
		host := graph.NormalizeHost(matchedAt)
		if templateID == "" || matchedAt == "" || !graph.InScope(host, target) {
			continue
		}
		severity, _ := f["severity"].(string)
		detail, _ := f["detail"].(string)

		id := "vulnerability:" + templateID + ":" + matchedAt
		hostID := "subdomain:" + host
		nodes = append(nodes, graph.Node{
			ID:   id,
			Type: graph.NodeVulnerability,
			Properties: map[string]any{
				"template_id":    templateID,
				"severity":       severity,
				graph.PropStatus: string(graph.VulnTheoretical),
				"source":         source,
				"evidence":       []any{detail},
				"matched_at":     matchedAt,
			},
		})
		nodes = append(nodes, graph.Node{
			ID:         hostID,
			Type:       graph.NodeSubdomain,
			Properties: map[string]any{"host": host},
		})
		edges = append(edges,
			graph.Edge{Relation: graph.RelHasSubdomain, From: "domain:" + target, To: hostID},
			graph.Edge{Relation: graph.RelHasVulnerability, From: hostID, To: id},
		)
	}
	if len(nodes) == 0 {
		return 0, 0, nil
	}

	nodes = append(nodes, graph.Node{
		ID:         "domain:" + target,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": target},
	})

	res, err := m.store.BatchUpsert(ctx, missionID, nodes, edges)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to merge findings: %w", err)
	}
	return len(res.Nodes), len(res.Edges), nil
}
