package recon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
)

// waybackHostCap bounds how many hosts are sent to the archive lookup.
const waybackHostCap = 50

// PassiveRecon runs P1: subdomain enumeration, historical URL recovery, DNS
// resolution, and ASN attribution. No packets are sent to the target itself.
func (p *Pipeline) PassiveRecon(ctx context.Context, m *models.Mission) (map[string]int, error) {
	phase := models.PhasePassiveRecon
	apex := graph.NormalizeHost(m.Target)
	counts := map[string]int{}

	if _, err := p.store.BatchUpsert(ctx, m.ID, []graph.Node{{
		ID:         "domain:" + apex,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": apex},
	}}, nil); err != nil {
		return nil, err
	}

	res := p.invoke(ctx, m, phase, "subdomain_enum", map[string]any{"domain": apex})
	var hosts []string
	if res.OK {
		hosts = p.scopedHosts(stringSlice(res.Data["subdomains"]), apex)
		n, err := p.ingestSubdomains(ctx, m.ID, apex, hosts, "subdomain_enum")
		if err != nil {
			return nil, err
		}
		counts["subdomains"] = n
	}
	p.reflect(ctx, m, phase, "subdomain_enum", res)

	allHosts := dedupStrings(append(hosts, apex))
	sort.Strings(allHosts)

	waybackHosts := allHosts
	if len(waybackHosts) > waybackHostCap {
		waybackHosts = waybackHosts[:waybackHostCap]
	}
	res = p.invoke(ctx, m, phase, "wayback", map[string]any{"domains": waybackHosts})
	if res.OK {
		n, err := p.ingestWayback(ctx, m.ID, apex, mapSlice(res.Data["results"]))
		if err != nil {
			return nil, err
		}
		counts["historical_endpoints"] = n
	}
	p.reflect(ctx, m, phase, "wayback", res)

	var ips []string
	res = p.invoke(ctx, m, phase, "dns_resolve", map[string]any{"subdomains": allHosts})
	if res.OK {
		var nIPs, nRecords int
		var err error
		ips, nIPs, nRecords, err = p.ingestDNS(ctx, m.ID, apex, mapSlice(res.Data["results"]))
		if err != nil {
			return nil, err
		}
		counts["ips"] = nIPs
		counts["dns_records"] = nRecords
	}
	p.reflect(ctx, m, phase, "dns_resolve", res)

	if len(ips) > 0 {
		res = p.invoke(ctx, m, phase, "asn_lookup", map[string]any{"ips": ips})
		if res.OK {
			n, err := p.ingestASNs(ctx, m.ID, mapSlice(res.Data["results"]))
			if err != nil {
				return nil, err
			}
			counts["asns"] = n
		}
		p.reflect(ctx, m, phase, "asn_lookup", res)
	}

	return counts, nil
}

// SafetyNet checks the passive checkpoint. A mission with zero discovered
// subdomains gets the apex and www injected so the active phases have
// something to work with; the checkpoint warns but never aborts.
func (p *Pipeline) SafetyNet(ctx context.Context, m *models.Mission) (map[string]int, error) {
	phase := models.PhaseSafetyNet
	apex := graph.NormalizeHost(m.Target)

	hosts, err := p.subdomainHosts(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if len(hosts) > 0 {
		return map[string]int{"subdomains": len(hosts)}, nil
	}

	p.warn(ctx, m.ID, phase, "no subdomains discovered, injecting apex fallback",
		map[string]any{"target": apex})

	fallback := []string{apex, "www." + apex}
	if _, err := p.ingestSubdomains(ctx, m.ID, apex, fallback, "APEX_FALLBACK"); err != nil {
		return nil, err
	}
	counts := map[string]int{"injected": len(fallback)}

	if !p.cfg.ROE.ActiveProbingAllowed() {
		return counts, nil
	}

	live := 0
	for _, host := range fallback {
		if p.cfg.ROE.HostDenied(host) {
			continue
		}
		for _, scheme := range []string{"https", "http"} {
			u := scheme + "://" + host + "/"
			status, ok := p.headProbe(ctx, u)
			if !ok {
				continue
			}
			_, err := p.store.BatchUpsert(ctx, m.ID, []graph.Node{{
				ID:   "http_service:" + u,
				Type: graph.NodeHTTPService,
				Properties: map[string]any{
					"url":         u,
					"status_code": status,
					"source":      "APEX_FALLBACK",
				},
			}}, []graph.Edge{{
				Relation: graph.RelExposesHTTP,
				From:     "subdomain:" + host,
				To:       "http_service:" + u,
			}})
			if err != nil {
				return nil, err
			}
			live++
			break
		}
	}
	counts["live"] = live
	return counts, nil
}

// headProbe sends a single HEAD request and reports whether anything
// answered.
func (p *Pipeline) headProbe(ctx context.Context, rawURL string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	return resp.StatusCode, true
}

// scopedHosts normalizes candidate hosts and drops anything outside the
// target domain or matching a placeholder.
func (p *Pipeline) scopedHosts(raw []string, apex string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		host := graph.NormalizeHost(r)
		if host == "" || graph.IsPlaceholder(host) || !graph.InScope(host, apex) {
			continue
		}
		out = append(out, host)
	}
	return dedupStrings(out)
}

func (p *Pipeline) ingestSubdomains(ctx context.Context, missionID, apex string, hosts []string, source string) (int, error) {
	if len(hosts) == 0 {
		return 0, nil
	}
	nodes := []graph.Node{{
		ID:         "domain:" + apex,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": apex},
	}}
	edges := make([]graph.Edge, 0, len(hosts))
	for _, host := range hosts {
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
			From:     "domain:" + apex,
			To:       id,
		})
	}
	if _, err := p.store.BatchUpsert(ctx, missionID, nodes, edges); err != nil {
		return 0, err
	}
	return len(hosts), nil
}

// ingestWayback materializes archived URLs as historical endpoints, creating
// the owning subdomain and service nodes as needed.
func (p *Pipeline) ingestWayback(ctx context.Context, missionID, apex string, rows []map[string]any) (int, error) {
	nodes := make([]graph.Node, 0, len(rows)*3)
	edges := make([]graph.Edge, 0, len(rows)*3)
	seen := map[string]bool{}

	for _, row := range rows {
		origin, _ := row["origin"].(string)
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		host := graph.NormalizeHost(u.Host)
		if host == "" || graph.IsPlaceholder(host) || !graph.InScope(host, apex) {
			continue
		}

		path, _ := row["path"].(string)
		if path == "" {
			path = u.Path
		}
		method, _ := row["method"].(string)
		if method == "" {
			method = http.MethodGet
		}

		serviceURL := u.Scheme + "://" + host
		subID := "subdomain:" + host
		svcID := "http_service:" + serviceURL
		epID := "endpoint:" + origin
		if seen[epID] {
			continue
		}
		seen[epID] = true

		if !seen[subID] {
			seen[subID] = true
			nodes = append(nodes, graph.Node{
				ID:         subID,
				Type:       graph.NodeSubdomain,
				Properties: map[string]any{"host": host, "source": "wayback"},
			})
			edges = append(edges, graph.Edge{Relation: graph.RelHasSubdomain, From: "domain:" + apex, To: subID})
		}
		if !seen[svcID] {
			seen[svcID] = true
			nodes = append(nodes, graph.Node{
				ID:         svcID,
				Type:       graph.NodeHTTPService,
				Properties: map[string]any{"url": serviceURL, "source": "wayback"},
			})
			edges = append(edges, graph.Edge{Relation: graph.RelExposesHTTP, From: subID, To: svcID})
		}
		nodes = append(nodes, graph.Node{
			ID:   epID,
			Type: graph.NodeEndpoint,
			Properties: map[string]any{
				"url":        origin,
				"path":       path,
				"method":     method,
				"source":     "wayback",
				"category":   "WAYBACK",
				"confidence": 0.6,
				"historical": true,
			},
		})
		edges = append(edges, graph.Edge{Relation: graph.RelExposesEndpoint, From: svcID, To: epID})
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	nodes = append(nodes, graph.Node{
		ID:         "domain:" + apex,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": apex},
	})
	if _, err := p.store.BatchUpsert(ctx, missionID, nodes, edges); err != nil {
		return 0, err
	}
	return len(seen), nil
}

// ingestDNS records resolved addresses and raw record sets. Returns the
// distinct resolved addresses for the ASN lookup.
func (p *Pipeline) ingestDNS(ctx context.Context, missionID, apex string, rows []map[string]any) ([]string, int, int, error) {
	nodes := make([]graph.Node, 0, len(rows)*2)
	edges := make([]graph.Edge, 0, len(rows)*2)
	seen := map[string]bool{}
	var allIPs []string
	records := 0

	for _, row := range rows {
		host := graph.NormalizeHost(asString(row["subdomain"]))
		if host == "" || !graph.InScope(host, apex) {
			continue
		}
		subID := "subdomain:" + host
		if !seen[subID] {
			seen[subID] = true
			nodes = append(nodes, graph.Node{
				ID:         subID,
				Type:       graph.NodeSubdomain,
				Properties: map[string]any{"host": host},
			})
			edges = append(edges, graph.Edge{Relation: graph.RelHasSubdomain, From: "domain:" + apex, To: subID})
		}

		for _, ip := range stringSlice(row["ips"]) {
			ipID := "ip:" + ip
			if !seen[ipID] {
				seen[ipID] = true
				allIPs = append(allIPs, ip)
				nodes = append(nodes, graph.Node{
					ID:         ipID,
					Type:       graph.NodeIPAddress,
					Properties: map[string]any{"address": ip},
				})
			}
			edges = append(edges, graph.Edge{Relation: graph.RelResolvesTo, From: subID, To: ipID})
		}

		if recs, ok := row["records"].(map[string]any); ok {
			for rtype, values := range recs {
				vals := stringSlice(values)
				if len(vals) == 0 {
					continue
				}
				recID := fmt.Sprintf("dns_record:%s/%s", host, rtype)
				if seen[recID] {
					continue
				}
				seen[recID] = true
				records++
				nodes = append(nodes, graph.Node{
					ID:   recID,
					Type: graph.NodeDNSRecord,
					Properties: map[string]any{
						"host":   host,
						"type":   rtype,
						"values": vals,
					},
				})
				edges = append(edges, graph.Edge{Relation: graph.RelHasRecord, From: subID, To: recID})
			}
		}
	}
	if len(nodes) == 0 {
		return nil, 0, 0, nil
	}

	nodes = append(nodes, graph.Node{
		ID:         "domain:" + apex,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": apex},
	})
	if _, err := p.store.BatchUpsert(ctx, missionID, nodes, edges); err != nil {
		return nil, 0, 0, err
	}
	return allIPs, len(allIPs), records, nil
}

// ingestASNs attributes resolved addresses to their announcing networks.
func (p *Pipeline) ingestASNs(ctx context.Context, missionID string, rows []map[string]any) (int, error) {
	nodes := make([]graph.Node, 0, len(rows)*2)
	edges := make([]graph.Edge, 0, len(rows))
	seen := map[string]bool{}
	asns := 0

	for _, row := range rows {
		ip := asString(row["ip"])
		asn := asString(row["asn"])
		if ip == "" || asn == "" {
			continue
		}
		asnID := "asn:AS" + asn
		if !seen[asnID] {
			seen[asnID] = true
			asns++
			nodes = append(nodes, graph.Node{
				ID:   asnID,
				Type: graph.NodeASN,
				Properties: map[string]any{
					"asn":     asn,
					"org":     asString(row["org"]),
					"country": asString(row["country"]),
				},
			})
		}
		ipID := "ip:" + ip
		if !seen[ipID] {
			seen[ipID] = true
			nodes = append(nodes, graph.Node{
				ID:         ipID,
				Type:       graph.NodeIPAddress,
				Properties: map[string]any{"address": ip},
			})
		}
		edges = append(edges, graph.Edge{Relation: graph.RelBelongsTo, From: ipID, To: asnID})
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	if _, err := p.store.BatchUpsert(ctx, missionID, nodes, edges); err != nil {
		return 0, err
	}
	return asns, nil
}

// asString returns v as a string, stringifying numbers so tools may return
// ASN values either way.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case int:
		return fmt.Sprintf("%d", s)
	}
	return ""
}

func dedupStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
