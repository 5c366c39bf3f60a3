package recon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

// verifyEndpointCap bounds how many endpoints get probe-pair requests.
const verifyEndpointCap = 15

// vulnScanTargetCap bounds the passive misconfiguration scan.
const vulnScanTargetCap = 20

// maxObservationBody caps how much of a response body is hashed and scanned.
const maxObservationBody = 256 << 10

// errorLexicon are substrings whose appearance in a probe response (but not
// the baseline) counts as an error-pattern divergence.
var errorLexicon = []string{
	"sql syntax",
	"stack trace",
	"undefined",
	"fatal",
	"exception",
	"internal server error",
}

// observation captures one request's observable behavior. No exploitation is
// attempted; the verification phase only compares observations.
type observation struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Length    int      `json:"length"`
	BodySHA   string   `json:"body_sha256"`
	ErrorHits []string `json:"error_hits,omitempty"`
	Err       string   `json:"error,omitempty"`
}

// Verification runs P4: baseline-versus-probe observation pairs on the
// highest-priority hypotheses, theoretical promotion of untested high
// -priority hypotheses, a passive misconfiguration scan, and header stack
// analysis.
func (p *Pipeline) Verification(ctx context.Context, m *models.Mission) (map[string]int, error) {
	phase := models.PhaseVerification
	apex := graph.NormalizeHost(m.Target)
	counts := map[string]int{}

	hyps, err := p.store.QueryNodes(ctx, m.ID, store.NodeFilter{Type: graph.NodeHypothesis})
	if err != nil {
		return nil, err
	}
	byURL := map[string][]graph.Node{}
	for _, h := range hyps {
		if tested, _ := h.Properties["tested"].(bool); tested {
			continue
		}
		u := asString(h.Properties["target_url"])
		if u != "" {
			byURL[u] = append(byURL[u], h)
		}
	}

	// Candidates are endpoints scored at or above the risk threshold, plus
	// any endpoint carrying a hypothesis of priority 4 or higher. Probing
	// order is risk descending so the cap trims the least interesting tail.
	page, err := p.store.QueryNodesPage(ctx, m.ID, store.NodeQuery{
		Types:   []store.NodeType{graph.NodeEndpoint},
		RiskMin: p.cfg.Recon.RiskScoreThreshold,
	})
	if err != nil {
		return nil, err
	}
	riskByURL := map[string]float64{}
	candidates := map[string]bool{}
	for _, ep := range page.Nodes {
		u := asString(ep.Properties["url"])
		if u == "" {
			continue
		}
		candidates[u] = true
		riskByURL[u] = numberOf(ep.Properties[graph.PropRiskScore])
	}
	for u, group := range byURL {
		if maxPriority(group) >= 4 {
			candidates[u] = true
		}
	}

	urls := make([]string, 0, len(candidates))
	for u := range candidates {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if riskByURL[urls[i]] != riskByURL[urls[j]] {
			return riskByURL[urls[i]] > riskByURL[urls[j]]
		}
		pi, pj := maxPriority(byURL[urls[i]]), maxPriority(byURL[urls[j]])
		if pi != pj {
			return pi > pj
		}
		return urls[i] < urls[j]
	})

	active := p.cfg.ROE.ActiveProbingAllowed()
	tested := map[string]bool{}
	if active {
		probeURLs := urls
		if len(probeURLs) > verifyEndpointCap {
			probeURLs = probeURLs[:verifyEndpointCap]
		}
		rps := p.cfg.ROE.MaxRequestsPerSecond
		if rps <= 0 {
			rps = 5
		}
		limiter := rate.NewLimiter(rate.Limit(rps), 1)

		for _, u := range probeURLs {
			host := graph.HostFromID("endpoint:" + u)
			if !p.hostAllowed(host, apex) {
				continue
			}
			base := p.observe(ctx, limiter, u)
			test := p.observe(ctx, limiter, probeVariant(u))
			tested[u] = true
			counts["probed"]++

			verdict, reasons := classifyObservations(base, test)
			switch verdict {
			case VerdictLikelySafe:
				counts["likely_safe"]++
				continue
			case VerdictInconclusive:
				counts["inconclusive"]++
				continue
			}
			counts["possible"]++
			vulnID := "vulnerability:behavioral-anomaly:" + u
			b := newBatch()
			b.node(graph.Node{
				ID:   vulnID,
				Type: graph.NodeVulnerability,
				Properties: map[string]any{
					"type":            "BEHAVIORAL_ANOMALY",
					"template_id":     "behavioral-anomaly",
					"title":           "Behavioral anomaly under probe marker",
					graph.PropStatus:  string(graph.VulnPossible),
					"severity":        "medium",
					"confidence":      0.4,
					"matched_at":      u,
					"anomaly_reasons": reasons,
					"evidence": []any{map[string]any{
						"kind":        "probe_comparison",
						"baseline":    base,
						"test":        test,
						"patterns":    reasons,
						"status_diff": fmt.Sprintf("%d→%d", base.Status, test.Status),
					}},
				},
			})
			b.edge(graph.RelHasVulnerability, "endpoint:"+u, vulnID)
			if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
				return nil, err
			}
		}
	} else {
		p.warn(ctx, m.ID, phase, "active probing disabled, verification limited to theoretical analysis", nil)
	}

	// Untested high-priority hypotheses become theoretical findings so the
	// report never silently drops them.
	b := newBatch()
	for u, group := range byURL {
		for _, h := range group {
			if tested[u] {
				p.markHypothesisTested(ctx, m.ID, h.ID)
				continue
			}
			if int(numberOf(h.Properties["priority"])) < 4 {
				continue
			}
			attack := asString(h.Properties["attack_type"])
			vulnID := "vulnerability:" + strings.ToLower(attack) + ":" + u
			if b.node(graph.Node{
				ID:   vulnID,
				Type: graph.NodeVulnerability,
				Properties: map[string]any{
					"template_id":    strings.ToLower(attack),
					"title":          attack + " (untested hypothesis)",
					graph.PropStatus: string(graph.VulnTheoretical),
					"severity":       severityForAttack(attack),
					"matched_at":     u,
					"rationale":      asString(h.Properties["rationale"]),
				},
			}) {
				counts["theoretical"]++
			}
			b.edge(graph.RelHasVulnerability, "endpoint:"+u, vulnID)
		}
	}
	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return nil, err
	}

	if active {
		n, err := p.runVulnScan(ctx, m, phase, apex)
		if err != nil {
			return nil, err
		}
		counts["scan_findings"] = n
	}

	if err := p.analyzeStacks(ctx, m); err != nil {
		return nil, err
	}
	return counts, nil
}

func maxPriority(hyps []graph.Node) int {
	best := 0
	for _, h := range hyps {
		if pr := int(numberOf(h.Properties["priority"])); pr > best {
			best = pr
		}
	}
	return best
}

func (p *Pipeline) markHypothesisTested(ctx context.Context, missionID, hypID string) {
	// Best-effort status bookkeeping; a miss is not worth failing the phase.
	_, _ = p.store.PatchNode(ctx, missionID, hypID, map[string]any{"tested": true}, false)
}

// observe performs one GET and records the response behavior.
func (p *Pipeline) observe(ctx context.Context, limiter *rate.Limiter, rawURL string) observation {
	obs := observation{URL: rawURL}
	if err := limiter.Wait(ctx); err != nil {
		obs.Err = err.Error()
		return obs
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		obs.Err = err.Error()
		return obs
	}
	resp, err := p.client.Do(req)
	if err != nil {
		obs.Err = err.Error()
		return obs
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxObservationBody))
	sum := sha256.Sum256(body)

	obs.Status = resp.StatusCode
	obs.Length = len(body)
	obs.BodySHA = hex.EncodeToString(sum[:])
	lower := strings.ToLower(string(body))
	for _, marker := range errorLexicon {
		if strings.Contains(lower, marker) {
			obs.ErrorHits = append(obs.ErrorHits, marker)
		}
	}
	return obs
}

// probeVariant appends the harmless probe marker to a URL.
func probeVariant(rawURL string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&_probe=1"
	}
	return rawURL + "?_probe=1"
}

// Probe-pair verdicts. Only a possible-vulnerability verdict mints a
// VULNERABILITY node; inconclusive differences are counted, never recorded
// as findings.
const (
	VerdictPossibleVuln = "POSSIBLE_VULNERABILITY"
	VerdictInconclusive = "INCONCLUSIVE"
	VerdictLikelySafe   = "LIKELY_SAFE"
)

// classifyObservations compares a baseline and a probe observation and
// returns a verdict plus the observed differences. A server error that the
// baseline did not show is the only difference strong enough to call a
// possible vulnerability; any other divergence stays inconclusive.
func classifyObservations(base, test observation) (string, []string) {
	if test.Err != "" || base.Err != "" {
		return VerdictInconclusive, []string{"probe pair incomplete: request error"}
	}
	if test.Status >= 500 && base.Status < 500 {
		reasons := []string{fmt.Sprintf("probe marker triggered a server error (%d)", test.Status)}
		if len(test.ErrorHits) > len(base.ErrorHits) {
			reasons = append(reasons, "error indicators appeared in probe response: "+strings.Join(test.ErrorHits, ", "))
		}
		return VerdictPossibleVuln, reasons
	}
	var reasons []string
	if test.Status != base.Status {
		reasons = append(reasons, fmt.Sprintf("status changed from %d to %d under probe marker", base.Status, test.Status))
	}
	if len(test.ErrorHits) > len(base.ErrorHits) {
		reasons = append(reasons, "error indicators appeared in probe response: "+strings.Join(test.ErrorHits, ", "))
	}
	if len(reasons) > 0 {
		return VerdictInconclusive, reasons
	}
	return VerdictLikelySafe, nil
}

func severityForAttack(attack string) string {
	switch attack {
	case AttackAuthBypass, AttackSQLI:
		return "high"
	case AttackIDOR:
		return "medium"
	case AttackBruteForce:
		return "medium"
	}
	return "low"
}

// runVulnScan sweeps live services with the passive misconfiguration scanner
// and persists findings as POSSIBLE vulnerabilities on the owning host.
func (p *Pipeline) runVulnScan(ctx context.Context, m *models.Mission, phase, apex string) (int, error) {
	services, err := p.liveServices(ctx, m.ID)
	if err != nil {
		return 0, err
	}
	var targets []string
	for _, svc := range services {
		u := serviceURLOf(svc)
		if p.hostAllowed(graph.HostFromID(svc.ID), apex) {
			targets = append(targets, u)
		}
	}
	sort.Strings(targets)
	if len(targets) > vulnScanTargetCap {
		targets = targets[:vulnScanTargetCap]
	}
	if len(targets) == 0 {
		return 0, nil
	}

	res := p.invoke(ctx, m, phase, "vuln_scan", map[string]any{"targets": targets})
	defer p.reflect(ctx, m, phase, "vuln_scan", res)
	if !res.OK {
		return 0, nil
	}

	b := newBatch()
	found := 0
	for _, row := range mapSlice(res.Data["vulnerabilities"]) {
		templateID := asString(row["template_id"])
		matchedAt := asString(row["matched_at"])
		host := graph.NormalizeHost(asString(row["host"]))
		if templateID == "" || matchedAt == "" || !p.hostAllowed(host, apex) {
			continue
		}
		vulnID := "vulnerability:" + templateID + ":" + matchedAt
		props := map[string]any{
			"template_id":    templateID,
			"severity":       asString(row["severity"]),
			graph.PropStatus: string(graph.VulnPossible),
			"matched_at":     matchedAt,
			"source":         "vuln_scan",
		}
		if name := asString(row["matcher_name"]); name != "" {
			props["matcher_name"] = name
		}
		if extracted := stringSlice(row["extracted_results"]); len(extracted) > 0 {
			props["evidence"] = toAnySlice(extracted)
		}
		if tags := stringSlice(row["tags"]); len(tags) > 0 {
			props["tags"] = tags
		}
		if b.node(graph.Node{ID: vulnID, Type: graph.NodeVulnerability, Properties: props}) {
			found++
		}
		b.node(graph.Node{
			ID:         "subdomain:" + host,
			Type:       graph.NodeSubdomain,
			Properties: map[string]any{"host": host},
		})
		b.edge(graph.RelHasSubdomain, "domain:"+apex, "subdomain:"+host)
		b.edge(graph.RelHasVulnerability, "subdomain:"+host, vulnID)
	}
	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return 0, err
	}
	return found, nil
}

// analyzeStacks derives technology stack labels for every live service from
// its recorded fingerprints, refreshed with a live header fetch (Server,
// X-Powered-By, X-AspNet-Version) when active probing is allowed.
func (p *Pipeline) analyzeStacks(ctx context.Context, m *models.Mission) error {
	services, err := p.liveServices(ctx, m.ID)
	if err != nil {
		return err
	}
	apex := graph.NormalizeHost(m.Target)
	active := p.cfg.ROE.ActiveProbingAllowed()
	rps := p.cfg.ROE.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	fetched := 0
	for _, svc := range services {
		var hdr http.Header
		if active && fetched < vulnScanTargetCap && p.hostAllowed(graph.HostFromID(svc.ID), apex) {
			hdr = p.fetchHeaders(ctx, limiter, serviceURLOf(svc))
			fetched++
		}
		props := map[string]any{}
		if stack := stackFromService(svc, hdr); len(stack) > 0 {
			props["stack"] = stack
		}
		if hdr != nil {
			if powered := hdr.Get("X-Powered-By"); powered != "" {
				props["powered_by"] = powered
			}
			if aspnet := hdr.Get("X-AspNet-Version"); aspnet != "" {
				props["aspnet_version"] = aspnet
			}
		}
		if len(props) == 0 {
			continue
		}
		if _, err := p.store.PatchNode(ctx, m.ID, svc.ID, props, false); err != nil {
			return err
		}
	}
	return nil
}

// fetchHeaders sends one rate-limited HEAD request and returns the response
// headers, or nil when nothing answered.
func (p *Pipeline) fetchHeaders(ctx context.Context, limiter *rate.Limiter, rawURL string) http.Header {
	if err := limiter.Wait(ctx); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	return resp.Header
}

// stackFromService maps server banners, technology fingerprints, and live
// headers onto stack component labels. hdr may be nil.
func stackFromService(svc graph.Node, hdr http.Header) []string {
	var stack []string
	add := func(label string) {
		if label == "" {
			return
		}
		for _, s := range stack {
			if s == label {
				return
			}
		}
		stack = append(stack, label)
	}

	banner := strings.ToLower(asString(svc.Properties["server"]))
	powered := strings.ToLower(asString(svc.Properties["powered_by"]))
	if hdr != nil {
		banner += " " + strings.ToLower(hdr.Get("Server"))
		if live := strings.ToLower(hdr.Get("X-Powered-By")); live != "" {
			powered = live
		}
	}
	for _, component := range []string{"nginx", "apache", "iis", "caddy", "cloudflare", "litespeed"} {
		if strings.Contains(banner, component) {
			add(component)
		}
	}
	for _, tech := range stringSlice(svc.Properties["technologies"]) {
		add(strings.ToLower(tech))
	}
	add(powered)
	if hdr != nil && hdr.Get("X-AspNet-Version") != "" {
		add("asp.net")
	}
	return stack
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
