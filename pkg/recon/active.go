package recon

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

const (
	// probeChunkSize is the number of URLs per http_probe invocation.
	probeChunkSize = 10

	// crawlTargetCap bounds how many live services get crawled.
	crawlTargetCap = 12

	// jsMineTargetCap bounds how many JS files are mined.
	jsMineTargetCap = 15

	// pathProbeServiceCap bounds how many services get the sensitive-path
	// wordlist.
	pathProbeServiceCap = 20
)

// sensitivePaths is the wordlist probed on every live service root. Hits
// below 400 are persisted as endpoints.
var sensitivePaths = []string{
	"/.env",
	"/.git/config",
	"/admin",
	"/api",
	"/robots.txt",
	"/graphql",
	"/swagger.json",
}

// ActiveRecon runs P2: HTTP service probing, crawling, JS mining, and the
// sensitive-path sweep. Gated by the rules of engagement.
func (p *Pipeline) ActiveRecon(ctx context.Context, m *models.Mission) (map[string]int, error) {
	phase := models.PhaseActiveRecon
	apex := graph.NormalizeHost(m.Target)

	if !p.cfg.ROE.ActiveProbingAllowed() {
		p.warn(ctx, m.ID, phase, "active probing disabled by rules of engagement", nil)
		return map[string]int{"skipped": 1}, nil
	}

	hosts, err := p.subdomainHosts(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	var probeURLs []string
	for _, host := range hosts {
		if !p.hostAllowed(host, apex) {
			continue
		}
		probeURLs = append(probeURLs, "https://"+host+"/", "http://"+host+"/")
	}
	counts := map[string]int{"probed_urls": len(probeURLs)}

	rows := p.probeAll(ctx, m, phase, probeURLs)
	services, err := p.ingestServices(ctx, m.ID, apex, rows)
	if err != nil {
		return nil, err
	}
	counts["services"] = len(services)

	crawlTargets := services
	if len(crawlTargets) > crawlTargetCap {
		crawlTargets = crawlTargets[:crawlTargetCap]
	}
	var jsFiles []string
	if len(crawlTargets) > 0 {
		res := p.invoke(ctx, m, phase, "html_crawl", map[string]any{"urls": crawlTargets})
		if res.OK {
			var endpoints int
			endpoints, jsFiles, err = p.ingestCrawl(ctx, m.ID, apex, mapSlice(res.Data["results"]))
			if err != nil {
				return nil, err
			}
			counts["endpoints"] = endpoints
		}
		p.reflect(ctx, m, phase, "html_crawl", res)
	}

	if len(jsFiles) > jsMineTargetCap {
		jsFiles = jsFiles[:jsMineTargetCap]
	}
	if len(jsFiles) > 0 {
		res := p.invoke(ctx, m, phase, "js_mine", map[string]any{"urls": jsFiles})
		if res.OK {
			endpoints, secrets, err := p.ingestJSMine(ctx, m.ID, apex, mapSlice(res.Data["results"]))
			if err != nil {
				return nil, err
			}
			counts["js_endpoints"] = endpoints
			counts["secrets"] = secrets
		}
		p.reflect(ctx, m, phase, "js_mine", res)
	}
	counts["js_files"] = len(jsFiles)

	pathHits, err := p.probeSensitivePaths(ctx, m, phase, apex, services)
	if err != nil {
		return nil, err
	}
	counts["sensitive_paths"] = pathHits

	return counts, nil
}

// probeAll fans http_probe chunks out over the worker pool and collects the
// live result rows. Chunk failures degrade to ERROR events.
func (p *Pipeline) probeAll(ctx context.Context, m *models.Mission, phase string, urls []string) []map[string]any {
	var (
		mu   sync.Mutex
		rows []map[string]any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Recon.MaxWorkers)

	chunks := chunkStrings(urls, probeChunkSize)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			res := p.invoke(gctx, m, phase, "http_probe", map[string]any{"urls": chunk})
			if res.OK {
				mu.Lock()
				rows = append(rows, mapSlice(res.Data["results"])...)
				mu.Unlock()
			}
			p.reflect(gctx, m, phase, "http_probe", res)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// ingestServices persists probe results as HTTP_SERVICE nodes, one per host
// preferring HTTPS when both schemes answered. Returns the service URLs,
// sorted.
func (p *Pipeline) ingestServices(ctx context.Context, missionID, apex string, rows []map[string]any) ([]string, error) {
	byHost := map[string]map[string]any{}
	for _, row := range rows {
		rawURL, _ := row["url"].(string)
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			continue
		}
		host := graph.NormalizeHost(u.Host)
		if !p.hostAllowed(host, apex) {
			continue
		}
		existing, ok := byHost[host]
		if ok && strings.HasPrefix(asString(existing["url"]), "https://") {
			continue
		}
		byHost[host] = row
	}

	b := newBatch()
	var serviceURLs []string
	for host, row := range byHost {
		rawURL, _ := row["url"].(string)
		svcID := "http_service:" + rawURL
		props := map[string]any{
			"url":         rawURL,
			"status_code": numberOf(row["status_code"]),
			"source":      "http_probe",
		}
		for _, k := range []string{"title", "server", "ip"} {
			if v := asString(row[k]); v != "" {
				props[k] = v
			}
		}
		if techs := stringSlice(row["technologies"]); len(techs) > 0 {
			props["technologies"] = techs
		}
		b.node(graph.Node{ID: svcID, Type: graph.NodeHTTPService, Properties: props})
		b.node(graph.Node{
			ID:         "subdomain:" + host,
			Type:       graph.NodeSubdomain,
			Properties: map[string]any{"host": host},
		})
		b.edge(graph.RelHasSubdomain, "domain:"+apex, "subdomain:"+host)
		b.edge(graph.RelExposesHTTP, "subdomain:"+host, svcID)
		serviceURLs = append(serviceURLs, rawURL)
	}
	if err := b.flush(ctx, p.store, missionID, apex); err != nil {
		return nil, err
	}
	sort.Strings(serviceURLs)
	return serviceURLs, nil
}

// ingestCrawl persists crawled links and forms as endpoints and script
// references as JS_FILE nodes. Returns the endpoint count and the in-scope
// JS file URLs for mining.
func (p *Pipeline) ingestCrawl(ctx context.Context, missionID, apex string, rows []map[string]any) (int, []string, error) {
	b := newBatch()
	endpoints := 0
	var jsFiles []string

	for _, row := range rows {
		pageURL, _ := row["url"].(string)
		base, err := url.Parse(pageURL)
		if err != nil || base.Host == "" {
			continue
		}
		host := graph.NormalizeHost(base.Host)
		if !p.hostAllowed(host, apex) {
			continue
		}
		svcID := "http_service:" + base.Scheme + "://" + base.Host + "/"
		if !p.serviceExists(ctx, missionID, svcID) {
			svcID = "http_service:" + pageURL
			if !p.serviceExists(ctx, missionID, svcID) {
				continue
			}
		}

		for _, link := range stringSlice(row["links"]) {
			lu, err := base.Parse(link)
			if err != nil || lu.Host == "" {
				continue
			}
			lhost := graph.NormalizeHost(lu.Host)
			if !p.hostAllowed(lhost, apex) {
				continue
			}
			abs := lu.String()
			if strings.HasSuffix(strings.ToLower(lu.Path), ".js") {
				jsID := "js_file:" + abs
				if b.node(graph.Node{
					ID:         jsID,
					Type:       graph.NodeJSFile,
					Properties: map[string]any{"url": abs, "source": "crawl"},
				}) {
					jsFiles = append(jsFiles, abs)
				}
				b.edge(graph.RelLoadsJS, svcID, jsID)
				continue
			}
			if b.node(endpointNode(abs, lu.Path, "GET", "crawl")) {
				endpoints++
			}
			b.edge(graph.RelExposesEndpoint, svcID, "endpoint:"+abs)
		}

		for _, form := range mapSlice(row["forms"]) {
			action := asString(form["action"])
			fu, err := base.Parse(action)
			if err != nil || !p.hostAllowed(graph.NormalizeHost(fu.Host), apex) {
				continue
			}
			method := strings.ToUpper(asString(form["method"]))
			if method == "" {
				method = "GET"
			}
			abs := fu.String()
			n := endpointNode(abs, fu.Path, method, "crawl")
			if inputs := stringSlice(form["inputs"]); len(inputs) > 0 {
				n.Properties["form_inputs"] = inputs
			}
			if b.node(n) {
				endpoints++
			}
			b.edge(graph.RelExposesEndpoint, svcID, "endpoint:"+abs)
		}
	}
	if err := b.flush(ctx, p.store, missionID, apex); err != nil {
		return 0, nil, err
	}
	return endpoints, dedupStrings(jsFiles), nil
}

// ingestJSMine persists endpoints and redacted secrets recovered from
// JavaScript sources.
func (p *Pipeline) ingestJSMine(ctx context.Context, missionID, apex string, rows []map[string]any) (int, int, error) {
	b := newBatch()
	endpoints, secrets := 0, 0

	for _, row := range rows {
		jsURL, _ := row["url"].(string)
		base, err := url.Parse(jsURL)
		if err != nil || base.Host == "" {
			continue
		}
		host := graph.NormalizeHost(base.Host)
		if !p.hostAllowed(host, apex) {
			continue
		}
		jsID := "js_file:" + jsURL
		b.node(graph.Node{
			ID:         jsID,
			Type:       graph.NodeJSFile,
			Properties: map[string]any{"url": jsURL, "source": "js_mine"},
		})

		js, _ := row["js"].(map[string]any)
		if js == nil {
			continue
		}
		for _, ep := range mapSlice(js["endpoints"]) {
			path := asString(ep["path"])
			if path == "" || !strings.HasPrefix(path, "/") {
				continue
			}
			method := strings.ToUpper(asString(ep["method"]))
			if method == "" {
				method = "GET"
			}
			abs := base.Scheme + "://" + base.Host + path
			n := endpointNode(abs, path, method, "js_mine")
			if src := asString(ep["source_js"]); src != "" {
				n.Properties["source_js"] = src
			}
			if b.node(n) {
				endpoints++
			}
			b.edge(graph.RelExposesEndpoint, "http_service:"+base.Scheme+"://"+base.Host+"/", "endpoint:"+abs)
			b.node(graph.Node{
				ID:         "http_service:" + base.Scheme + "://" + base.Host + "/",
				Type:       graph.NodeHTTPService,
				Properties: map[string]any{"url": base.Scheme + "://" + base.Host + "/"},
			})
			b.edge(graph.RelExposesHTTP, "subdomain:"+host, "http_service:"+base.Scheme+"://"+base.Host+"/")
			b.node(graph.Node{
				ID:         "subdomain:" + host,
				Type:       graph.NodeSubdomain,
				Properties: map[string]any{"host": host},
			})
		}
		for _, sec := range mapSlice(js["secrets"]) {
			value := asString(sec["value"])
			kind := asString(sec["kind"])
			if value == "" || kind == "" {
				continue
			}
			secID := "secret:" + value
			if b.node(graph.Node{
				ID:   secID,
				Type: graph.NodeSecret,
				Properties: map[string]any{
					"kind":      kind,
					"value":     value,
					"source_js": asString(sec["source_js"]),
				},
			}) {
				secrets++
			}
			b.edge(graph.RelContainsSecret, jsID, secID)
		}
	}
	if err := b.flush(ctx, p.store, missionID, apex); err != nil {
		return 0, 0, err
	}
	return endpoints, secrets, nil
}

// probeSensitivePaths sweeps the wordlist across live services and persists
// responders below 400 as endpoints.
func (p *Pipeline) probeSensitivePaths(ctx context.Context, m *models.Mission, phase, apex string, services []string) (int, error) {
	targets := services
	if len(targets) > pathProbeServiceCap {
		targets = targets[:pathProbeServiceCap]
	}
	var urls []string
	for _, svc := range targets {
		root := strings.TrimSuffix(svc, "/")
		for _, path := range sensitivePaths {
			urls = append(urls, root+path)
		}
	}
	if len(urls) == 0 {
		return 0, nil
	}

	rows := p.probeAll(ctx, m, phase, urls)
	b := newBatch()
	hits := 0
	for _, row := range rows {
		status := int(numberOf(row["status_code"]))
		if status == 0 || status >= 400 {
			continue
		}
		rawURL, _ := row["url"].(string)
		u, err := url.Parse(rawURL)
		if err != nil || !p.hostAllowed(graph.NormalizeHost(u.Host), apex) {
			continue
		}
		n := endpointNode(rawURL, u.Path, "GET", "path_probe")
		n.Properties["status_code"] = status
		if b.node(n) {
			hits++
		}
		svcID := "http_service:" + u.Scheme + "://" + u.Host + "/"
		b.node(graph.Node{
			ID:         svcID,
			Type:       graph.NodeHTTPService,
			Properties: map[string]any{"url": u.Scheme + "://" + u.Host + "/"},
		})
		b.edge(graph.RelExposesHTTP, "subdomain:"+graph.NormalizeHost(u.Host), svcID)
		b.node(graph.Node{
			ID:         "subdomain:" + graph.NormalizeHost(u.Host),
			Type:       graph.NodeSubdomain,
			Properties: map[string]any{"host": graph.NormalizeHost(u.Host)},
		})
		b.edge(graph.RelExposesEndpoint, svcID, "endpoint:"+rawURL)
	}
	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return 0, err
	}
	return hits, nil
}

func (p *Pipeline) serviceExists(ctx context.Context, missionID, svcID string) bool {
	_, err := p.store.GetNode(ctx, missionID, svcID)
	return err == nil
}

func endpointNode(absURL, path, method, source string) graph.Node {
	if path == "" {
		path = "/"
	}
	return graph.Node{
		ID:   "endpoint:" + absURL,
		Type: graph.NodeEndpoint,
		Properties: map[string]any{
			"url":    absURL,
			"path":   path,
			"method": method,
			"source": source,
		},
	}
}

// batch accumulates deduplicated nodes and edges for one BatchUpsert.
type batch struct {
	nodes []graph.Node
	edges []graph.Edge
	seen  map[string]bool
}

func newBatch() *batch {
	return &batch{seen: map[string]bool{}}
}

// node adds n unless its id was already added. Reports whether it was new to
// the batch.
func (b *batch) node(n graph.Node) bool {
	if b.seen[n.ID] {
		return false
	}
	b.seen[n.ID] = true
	b.nodes = append(b.nodes, n)
	return true
}

func (b *batch) edge(rel graph.Relation, from, to string) {
	key := string(rel) + "|" + from + "|" + to
	if b.seen[key] {
		return
	}
	b.seen[key] = true
	b.edges = append(b.edges, graph.Edge{Relation: rel, From: from, To: to})
}

// flush writes the batch, anchoring it with the apex node so early edges
// always have their domain endpoint.
func (b *batch) flush(ctx context.Context, gs *store.GraphStore, missionID, apex string) error {
	if len(b.nodes) == 0 && len(b.edges) == 0 {
		return nil
	}
	b.node(graph.Node{
		ID:         "domain:" + apex,
		Type:       graph.NodeDomain,
		Properties: map[string]any{"host": apex},
	})
	_, err := gs.BatchUpsert(ctx, missionID, b.nodes, b.edges)
	return err
}
