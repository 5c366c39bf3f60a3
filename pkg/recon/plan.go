package recon

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/reason"
	"github.com/skyhound/recongraph/pkg/store"
)

// attackPathCap bounds how many attack paths the planner persists.
const attackPathCap = 10

// nameKeywords score subdomain labels that suggest privileged or forgotten
// surfaces.
var nameKeywords = map[string]float64{
	"admin":  5,
	"auth":   5,
	"dev":    4,
	"backup": 4,
	"mail":   4,
}

// cdnProviders trigger the fronting penalty: traffic terminates at the edge,
// not the origin.
var cdnProviders = []string{"cloudflare", "akamai", "fastly"}

// hostIntel aggregates everything the planner knows about one subdomain.
type hostIntel struct {
	host      string
	subID     string
	service   *graph.Node
	endpoints []graph.Node
	vulns     []graph.Node
	records   map[string][]string
	ipID      string
	asnID     string
	asnOrg    string
}

// Planning runs P5: score every subdomain's attack surface, persist the top
// chains as ATTACK_PATH nodes, and optionally let the reasoner annotate
// them.
func (p *Pipeline) Planning(ctx context.Context, m *models.Mission) (map[string]int, error) {
	phase := models.PhasePlanning
	apex := graph.NormalizeHost(m.Target)

	intel, err := p.collectHostIntel(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		intel   *hostIntel
		score   float64
		reasons []string
		actions []string
	}
	candidates := make([]scored, 0, len(intel))
	for _, hi := range intel {
		score, reasons, actions := scoreHost(hi)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{intel: hi, score: score, reasons: reasons, actions: actions})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].intel.host < candidates[j].intel.host
	})

	paths := candidates
	if len(paths) > attackPathCap {
		paths = paths[:attackPathCap]
	}

	b := newBatch()
	var pathNodes []graph.Node
	for _, c := range paths {
		chain := attackChain(c.intel)
		if len(chain) < 2 {
			continue
		}
		pathID := "attack_path:" + c.intel.host
		node := graph.Node{
			ID:   pathID,
			Type: graph.NodeAttackPath,
			Properties: map[string]any{
				"label":             "Attack surface on " + c.intel.host,
				"node_ids":          chain,
				graph.PropRiskScore: graph.Clamp(c.score, 0, 100),
				"rationale":         strings.Join(c.reasons, "; "),
				"suggested_actions": c.actions,
			},
		}
		b.node(node)
		b.edge(graph.RelTargets, pathID, c.intel.subID)
		pathNodes = append(pathNodes, node)
	}
	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return nil, err
	}

	for _, node := range pathNodes {
		p.bus.Publish(ctx, events.New(events.EventAttackPathAdded, m.ID, producer,
			events.NodePayload{Node: node}).WithPhase(phase))
	}

	if err := p.refinePaths(ctx, m, phase, apex, pathNodes); err != nil {
		// Reasoner refinement is advisory.
		p.warn(ctx, m.ID, phase, "attack path refinement failed", map[string]any{"error": err.Error()})
	}

	return map[string]int{
		"candidates":   len(candidates),
		"attack_paths": len(pathNodes),
	}, nil
}

// collectHostIntel indexes the mission graph by subdomain.
func (p *Pipeline) collectHostIntel(ctx context.Context, missionID string) (map[string]*hostIntel, error) {
	nodes := map[graph.NodeType][]graph.Node{}
	for _, t := range []graph.NodeType{
		graph.NodeSubdomain, graph.NodeHTTPService, graph.NodeEndpoint,
		graph.NodeVulnerability, graph.NodeDNSRecord, graph.NodeASN,
	} {
		ns, err := p.store.QueryNodes(ctx, missionID, store.NodeFilter{Type: t})
		if err != nil {
			return nil, err
		}
		nodes[t] = ns
	}
	edges, err := p.store.Edges(ctx, missionID, "")
	if err != nil {
		return nil, err
	}

	byID := map[string]graph.Node{}
	for _, ns := range nodes {
		for _, n := range ns {
			byID[n.ID] = n
		}
	}

	intel := map[string]*hostIntel{}
	for _, sub := range nodes[graph.NodeSubdomain] {
		intel[sub.ID] = &hostIntel{
			host:    graph.HostFromID(sub.ID),
			subID:   sub.ID,
			records: map[string][]string{},
		}
	}

	svcOwner := map[string]string{}
	ipOwner := map[string]string{}
	for _, e := range edges {
		switch e.Relation {
		case graph.RelExposesHTTP:
			if hi, ok := intel[e.From]; ok {
				if svc, ok := byID[e.To]; ok {
					if hi.service == nil || strings.Contains(svc.ID, "https://") {
						hi.service = &svc
					}
					svcOwner[e.To] = e.From
				}
			}
		case graph.RelResolvesTo:
			if hi, ok := intel[e.From]; ok && hi.ipID == "" {
				hi.ipID = e.To
				ipOwner[e.To] = e.From
			}
		case graph.RelHasRecord:
			if hi, ok := intel[e.From]; ok {
				if rec, ok := byID[e.To]; ok {
					rtype := asString(rec.Properties["type"])
					hi.records[rtype] = append(hi.records[rtype], stringSlice(rec.Properties["values"])...)
				}
			}
		}
	}
	for _, e := range edges {
		switch e.Relation {
		case graph.RelExposesEndpoint:
			if subID, ok := svcOwner[e.From]; ok {
				if ep, ok := byID[e.To]; ok {
					intel[subID].endpoints = append(intel[subID].endpoints, ep)
				}
			}
		case graph.RelHasVulnerability:
			subID := e.From
			if owner, ok := svcOwner[e.From]; ok {
				subID = owner
			} else if _, ok := intel[e.From]; !ok {
				// Vulnerability hangs off an endpoint; walk up via its host.
				subID = "subdomain:" + graph.HostFromID(e.From)
			}
			if hi, ok := intel[subID]; ok {
				if v, ok := byID[e.To]; ok {
					hi.vulns = append(hi.vulns, v)
				}
			}
		case graph.RelBelongsTo:
			if subID, ok := ipOwner[e.From]; ok {
				if asn, ok := byID[e.To]; ok {
					intel[subID].asnID = asn.ID
					intel[subID].asnOrg = asString(asn.Properties["org"])
				}
			}
		}
	}
	return intel, nil
}

// scoreHost computes the planning score for one subdomain and the reasons
// behind it.
func scoreHost(hi *hostIntel) (float64, []string, []string) {
	var score float64
	var reasons []string

	label := hi.host
	for kw, pts := range nameKeywords {
		if strings.Contains(label, kw) {
			score += pts
			reasons = append(reasons, fmt.Sprintf("name contains %q (+%.0f)", kw, pts))
		}
	}

	fronted := false
	lowOrg := strings.ToLower(hi.asnOrg)
	for _, cdn := range cdnProviders {
		if strings.Contains(lowOrg, cdn) {
			fronted = true
		}
	}
	if hi.service != nil {
		for _, tech := range stringSlice(hi.service.Properties["technologies"]) {
			for _, cdn := range cdnProviders {
				if strings.Contains(strings.ToLower(tech), cdn) {
					fronted = true
				}
			}
		}
	}
	if fronted {
		score--
		reasons = append(reasons, "CDN-fronted (-1)")
	}

	if len(hi.records["MX"]) > 0 {
		hasSPF, hasDMARC := false, false
		for _, txt := range hi.records["TXT"] {
			lower := strings.ToLower(txt)
			if strings.Contains(lower, "v=spf1") {
				hasSPF = true
			}
			if strings.Contains(lower, "v=dmarc1") {
				hasDMARC = true
			}
		}
		if hasSPF {
			score += 2
			reasons = append(reasons, "mail host with SPF (+2)")
		}
		if !hasDMARC {
			score++
			reasons = append(reasons, "MX without DMARC (+1)")
		}
	}

	if hi.service != nil && len(stringSlice(hi.service.Properties["technologies"])) > 0 {
		score += 3
		reasons = append(reasons, "fingerprinted technology stack (+3)")
	}

	var maxEndpointRisk float64
	cats := map[string]bool{}
	behaviors := map[string]bool{}
	historical := false
	for _, ep := range hi.endpoints {
		cats[asString(ep.Properties["category"])] = true
		behaviors[asString(ep.Properties["behavior_hint"])] = true
		if ib, _ := ep.Properties["id_based_access"].(bool); ib {
			behaviors[BehaviorIDBasedAccess] = true
		}
		if h, _ := ep.Properties["historical"].(bool); h {
			historical = true
		}
		if r := numberOf(ep.Properties[graph.PropRiskScore]); r > maxEndpointRisk {
			maxEndpointRisk = r
		}
	}
	if cats[CategoryAdmin] || cats[CategoryAuth] {
		score += 4
		reasons = append(reasons, "admin or auth endpoints (+4)")
	}
	if cats[CategoryAPI] {
		score += 2
		reasons = append(reasons, "API endpoints (+2)")
	}
	if cats[CategoryLegacy] {
		score += 2
		reasons = append(reasons, "legacy endpoints (+2)")
	}
	if behaviors[BehaviorStateChanging] {
		score += 2
		reasons = append(reasons, "state-changing endpoints (+2)")
	}
	if behaviors[BehaviorIDBasedAccess] {
		score++
		reasons = append(reasons, "id-based access endpoints (+1)")
	}
	if historical {
		score += 2
		reasons = append(reasons, "historical endpoints (+2)")
	}

	bestSeverity := ""
	confirmed := false
	for _, v := range hi.vulns {
		sev := strings.ToUpper(asString(v.Properties["severity"]))
		if severityPoints(sev) > severityPoints(bestSeverity) {
			bestSeverity = sev
		}
		if asString(v.Properties[graph.PropStatus]) == string(graph.VulnConfirmed) {
			confirmed = true
		}
	}
	if pts := severityPoints(bestSeverity); pts > 0 {
		score += pts
		reasons = append(reasons, fmt.Sprintf("%s finding (+%.0f)", strings.ToLower(bestSeverity), pts))
	}
	if confirmed {
		score += 3
		reasons = append(reasons, "confirmed finding (+3)")
	}

	var actions []string
	highValue := cats[CategoryAdmin] || cats[CategoryAuth]
	if maxEndpointRisk >= 30 || highValue {
		actions = append(actions, "nuclei_scan")
	}
	if maxEndpointRisk >= 40 || highValue || cats[CategoryAPI] {
		actions = append(actions, "ffuf_fuzz")
	}

	return score, reasons, actions
}

func severityPoints(severity string) float64 {
	switch severity {
	case "CRITICAL":
		return 7
	case "HIGH":
		return 5
	case "MEDIUM":
		return 3
	case "LOW":
		return 1
	}
	return 0
}

// attackChain builds the node id chain for one host: through the HTTP
// surface when one exists, otherwise through network attribution.
func attackChain(hi *hostIntel) []string {
	if hi.service != nil {
		chain := []string{hi.subID, hi.service.ID}
		var top *graph.Node
		for i := range hi.endpoints {
			ep := &hi.endpoints[i]
			if top == nil || numberOf(ep.Properties[graph.PropRiskScore]) > numberOf(top.Properties[graph.PropRiskScore]) {
				top = ep
			}
		}
		if top != nil {
			chain = append(chain, top.ID)
		}
		return chain
	}
	if hi.ipID != "" && hi.asnID != "" {
		return []string{hi.subID, hi.ipID, hi.asnID}
	}
	if hi.ipID != "" {
		return []string{hi.subID, hi.ipID}
	}
	return []string{hi.subID}
}

// refinePaths asks the reasoner to annotate the planned paths. Advisory
// only; the scored paths stand on their own.
func (p *Pipeline) refinePaths(ctx context.Context, m *models.Mission, phase, apex string, paths []graph.Node) error {
	if p.reasoner == nil || !p.reasoner.Enabled() || len(paths) == 0 {
		return nil
	}

	summary := make([]map[string]any, 0, len(paths))
	for _, node := range paths {
		chain := stringSlice(node.Properties["node_ids"])
		if len(chain) == 0 {
			continue
		}
		summary = append(summary, map[string]any{
			"host":      graph.HostFromID(chain[0]),
			"risk":      node.Properties[graph.PropRiskScore],
			"rationale": node.Properties["rationale"],
		})
	}

	resp, err := p.reasoner.Reason(ctx, reason.Request{
		Task: "refine_attack_paths",
		Context: map[string]any{
			"target": apex,
			"paths":  summary,
		},
	})
	if err != nil {
		return err
	}
	p.bus.Publish(ctx, events.New(events.EventLLMCall, m.ID, producer, map[string]any{
		"task":  "refine_attack_paths",
		"notes": resp.Notes,
	}).WithPhase(phase))
	if len(resp.Notes) == 0 {
		return nil
	}

	b := newBatch()
	reasonID := "llm_reasoning:attack_paths"
	b.node(graph.Node{
		ID:   reasonID,
		Type: graph.NodeLLMReasoning,
		Properties: map[string]any{
			"task":  "refine_attack_paths",
			"notes": resp.Notes,
		},
	})
	b.edge(graph.RelRefines, reasonID, paths[0].ID)
	return b.flush(ctx, p.store, m.ID, apex)
}
