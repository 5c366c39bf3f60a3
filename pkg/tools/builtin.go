package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/graph"
)

// maxBodyBytes caps how much of any response body a tool will read.
const maxBodyBytes = 2 << 20 // 2 MiB

// Builtins holds the shared transport used by the builtin collectors.
type Builtins struct {
	client    *http.Client
	resolver  *net.Resolver
	userAgent string
}

// NewBuiltins creates the builtin tool set with a shared HTTP client.
func NewBuiltins() *Builtins {
	return &Builtins{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		resolver:  net.DefaultResolver,
		userAgent: "recongraph/1.0 (authorized security assessment)",
	}
}

// RegisterBuiltins adds every builtin collector to the registry.
func RegisterBuiltins(r *Registry, b *Builtins) {
	r.Register(Tool{Name: "subdomain_enum", Description: "Passive subdomain discovery via certificate transparency", Handler: b.SubdomainEnum})
	r.Register(Tool{Name: "dns_resolve", Description: "Resolve DNS records for a set of subdomains", Handler: b.DNSResolve})
	r.Register(Tool{Name: "http_probe", Description: "Probe URLs for live HTTP services", Handler: b.HTTPProbe})
	r.Register(Tool{Name: "asn_lookup", Description: "Map IP addresses to their ASN and owning org", Handler: b.ASNLookup})
	r.Register(Tool{Name: "wayback", Description: "Historical URL discovery via the Wayback CDX API", Handler: b.Wayback})
	r.Register(Tool{Name: "js_mine", Description: "Mine JavaScript files for endpoints and leaked secrets", Handler: b.JSMine})
	r.Register(Tool{Name: "html_crawl", Description: "Extract links and forms from HTML pages", Handler: b.HTMLCrawl})
	r.Register(Tool{Name: "vuln_scan", Description: "Passive misconfiguration checks against live targets", Handler: b.VulnScan})
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", faults.New(faults.CodeValidationError, "", fmt.Sprintf("missing required argument %q", key))
	}
	return v, nil
}

// argStringList accepts both []string and the []any produced by JSON decoding.
func argStringList(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case []string:
		if len(v) > 0 {
			return v, nil
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, faults.New(faults.CodeValidationError, "", fmt.Sprintf("missing required argument %q", key))
}

func (b *Builtins) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", b.userAgent)
	return b.client.Do(req)
}

// SubdomainEnum queries the crt.sh certificate transparency index for
// certificates covering the target domain.
func (b *Builtins) SubdomainEnum(ctx context.Context, args map[string]any) (map[string]any, error) {
	domain, err := argString(args, "domain")
	if err != nil {
		return nil, err
	}

	resp, err := b.get(ctx, "https://crt.sh/?q=%25."+url.QueryEscape(domain)+"&output=json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.New(faults.CodeServiceUnavailable, "", fmt.Sprintf("crt.sh returned %d", resp.StatusCode))
	}

	var entries []struct {
		NameValue string `json:"name_value"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes*4))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, faults.Wrap(faults.CodeParseError, "", "crt.sh response is not valid JSON", err)
	}

	seen := make(map[string]bool)
	subdomains := make([]string, 0)
	for _, e := range entries {
		for _, name := range strings.Split(e.NameValue, "\n") {
			host := graph.NormalizeHost(strings.TrimPrefix(name, "*."))
			if host == "" || seen[host] || !graph.InScope(host, domain) {
				continue
			}
			seen[host] = true
			subdomains = append(subdomains, host)
		}
	}
	sort.Strings(subdomains)

	return map[string]any{"subdomains": subdomains}, nil
}

// DNSResolve collects IPs and the common record types for each subdomain.
// Per-host resolution failures yield an empty record set, not an error.
func (b *Builtins) DNSResolve(ctx context.Context, args map[string]any) (map[string]any, error) {
	subdomains, err := argStringList(args, "subdomains")
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(subdomains))
	for _, raw := range subdomains {
		host := graph.NormalizeHost(raw)
		records := make(map[string]any)
		ips := make([]string, 0, 2)

		if addrs, err := b.resolver.LookupIPAddr(ctx, host); err == nil {
			var a, aaaa []string
			for _, addr := range addrs {
				ips = append(ips, addr.IP.String())
				if addr.IP.To4() != nil {
					a = append(a, addr.IP.String())
				} else {
					aaaa = append(aaaa, addr.IP.String())
				}
			}
			if len(a) > 0 {
				records["A"] = a
			}
			if len(aaaa) > 0 {
				records["AAAA"] = aaaa
			}
		}
		if cname, err := b.resolver.LookupCNAME(ctx, host); err == nil {
			cname = strings.TrimSuffix(cname, ".")
			if cname != host {
				records["CNAME"] = []string{cname}
			}
		}
		if mxs, err := b.resolver.LookupMX(ctx, host); err == nil && len(mxs) > 0 {
			vals := make([]string, 0, len(mxs))
			for _, mx := range mxs {
				vals = append(vals, strings.TrimSuffix(mx.Host, "."))
			}
			records["MX"] = vals
		}
		if nss, err := b.resolver.LookupNS(ctx, host); err == nil && len(nss) > 0 {
			vals := make([]string, 0, len(nss))
			for _, ns := range nss {
				vals = append(vals, strings.TrimSuffix(ns.Host, "."))
			}
			records["NS"] = vals
		}
		if txts, err := b.resolver.LookupTXT(ctx, host); err == nil && len(txts) > 0 {
			records["TXT"] = txts
		}

		results = append(results, map[string]any{
			"subdomain": host,
			"ips":       ips,
			"records":   records,
		})
	}

	return map[string]any{"results": results}, nil
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// interestingHeaders are the response headers worth recording per service.
var interestingHeaders = []string{
	"Server", "X-Powered-By", "Content-Type", "Strict-Transport-Security",
	"Content-Security-Policy", "X-Frame-Options", "Access-Control-Allow-Origin",
	"Set-Cookie", "Via", "X-Cache", "X-AspNet-Version",
}

// HTTPProbe checks each URL for a live HTTP service. Dead targets are
// silently skipped; only live results are returned.
func (b *Builtins) HTTPProbe(ctx context.Context, args map[string]any) (map[string]any, error) {
	urls, err := argStringList(args, "urls")
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(urls))
	for _, probeURL := range urls {
		if ctx.Err() != nil {
			break
		}
		resp, err := b.get(ctx, probeURL)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		headers := make(map[string]any)
		for _, h := range interestingHeaders {
			if v := resp.Header.Get(h); v != "" {
				headers[h] = v
			}
		}

		var ip string
		if u, err := url.Parse(probeURL); err == nil {
			if addrs, err := b.resolver.LookupIPAddr(ctx, u.Hostname()); err == nil && len(addrs) > 0 {
				ip = addrs[0].IP.String()
			}
		}

		results = append(results, map[string]any{
			"url":          probeURL,
			"status_code":  resp.StatusCode,
			"title":        extractTitle(body),
			"technologies": fingerprintTechnologies(resp.Header, body),
			"ip":           ip,
			"server":       resp.Header.Get("Server"),
			"headers":      headers,
		})
	}

	return map[string]any{"results": results}, nil
}

func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(string(m[1]))
	if len(title) > 200 {
		title = title[:200]
	}
	return title
}

// fingerprintTechnologies applies cheap header and body heuristics.
func fingerprintTechnologies(h http.Header, body []byte) []string {
	techs := make([]string, 0, 4)
	add := func(t string) { techs = append(techs, t) }

	server := strings.ToLower(h.Get("Server"))
	switch {
	case strings.Contains(server, "nginx"):
		add("nginx")
	case strings.Contains(server, "apache"):
		add("apache")
	case strings.Contains(server, "iis"):
		add("iis")
	case strings.Contains(server, "cloudflare"):
		add("cloudflare")
	}
	if powered := strings.ToLower(h.Get("X-Powered-By")); powered != "" {
		switch {
		case strings.Contains(powered, "php"):
			add("php")
		case strings.Contains(powered, "express"):
			add("express")
		case strings.Contains(powered, "asp.net"):
			add("aspnet")
		}
	}
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "wp-content") || strings.Contains(lower, "wp-includes") {
		add("wordpress")
	}
	if strings.Contains(lower, "drupal") {
		add("drupal")
	}
	for _, c := range h.Values("Set-Cookie") {
		lc := strings.ToLower(c)
		switch {
		case strings.HasPrefix(lc, "phpsessid"):
			add("php")
		case strings.HasPrefix(lc, "jsessionid"):
			add("java")
		case strings.HasPrefix(lc, "asp.net_sessionid"):
			add("aspnet")
		}
	}
	return dedupeStrings(techs)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ASNLookup maps IPv4 addresses to their ASN via Team Cymru's DNS interface.
func (b *Builtins) ASNLookup(ctx context.Context, args map[string]any) (map[string]any, error) {
	ips, err := argStringList(args, "ips")
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(ips))
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil || ip.To4() == nil {
			continue
		}

		octets := strings.Split(ip.To4().String(), ".")
		query := fmt.Sprintf("%s.%s.%s.%s.origin.asn.cymru.com", octets[3], octets[2], octets[1], octets[0])
		txts, err := b.resolver.LookupTXT(ctx, query)
		if err != nil || len(txts) == 0 {
			continue
		}

		// "15169 | 8.8.8.0/24 | US | arin | 2023-12-28"
		fields := strings.Split(txts[0], "|")
		asn := strings.TrimSpace(fields[0])
		entry := map[string]any{"ip": ipStr, "asn": "AS" + asn}
		if len(fields) > 2 {
			entry["country"] = strings.TrimSpace(fields[2])
		}

		// "15169 | US | arin | 2000-03-30 | GOOGLE, US"
		if asTxts, err := b.resolver.LookupTXT(ctx, "AS"+asn+".asn.cymru.com"); err == nil && len(asTxts) > 0 {
			asFields := strings.Split(asTxts[0], "|")
			if len(asFields) > 4 {
				entry["org"] = strings.TrimSpace(asFields[4])
			}
		}
		results = append(results, entry)
	}

	return map[string]any{"results": results}, nil
}

// Wayback queries the Wayback Machine CDX API for historical URLs under each
// target domain.
func (b *Builtins) Wayback(ctx context.Context, args map[string]any) (map[string]any, error) {
	domains, err := argStringList(args, "domains")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	results := make([]map[string]any, 0)
	for _, domain := range domains {
		cdxURL := "https://web.archive.org/cdx/search/cdx?url=*." + url.QueryEscape(domain) +
			"%2F*&output=json&fl=original&collapse=urlkey&limit=500"
		resp, err := b.get(ctx, cdxURL)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes*4))
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, faults.New(faults.CodeServiceUnavailable, "", fmt.Sprintf("wayback CDX returned %d", resp.StatusCode))
		}

		var rows [][]string
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, faults.Wrap(faults.CodeParseError, "", "CDX response is not valid JSON", err)
		}

		for i, row := range rows {
			if i == 0 || len(row) == 0 { // first row is the header
				continue
			}
			origin := row[0]
			if seen[origin] {
				continue
			}
			seen[origin] = true

			u, err := url.Parse(origin)
			if err != nil {
				continue
			}
			path := u.Path
			if path == "" {
				path = "/"
			}
			if u.RawQuery != "" {
				path += "?" + u.RawQuery
			}
			results = append(results, map[string]any{
				"path":   path,
				"method": "GET",
				"source": "wayback",
				"origin": origin,
			})
		}
	}

	return map[string]any{"results": results}, nil
}

// Endpoint and secret patterns for JS mining. Secret values are hashed
// before any redaction so dedup is stable across sanitization.
var (
	jsPathRe     = regexp.MustCompile(`["'](/(?:api|v\d|rest|graphql|admin|auth|internal)[A-Za-z0-9_\-./{}]*)["']`)
	jsFileRe     = regexp.MustCompile(`["']([A-Za-z0-9_\-./]+\.js)["']`)
	jsAbsoluteRe = regexp.MustCompile(`["'](https?://[A-Za-z0-9_\-.]+/[A-Za-z0-9_\-./{}?&=%]*)["']`)

	secretPatterns = []struct {
		kind string
		re   *regexp.Regexp
	}{
		{"aws_access_key", regexp.MustCompile(`(?:AKIA|ASIA)[A-Z0-9]{16}`)},
		{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`)},
		{"api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|access[_-]?token|client[_-]?secret)["']?\s*[:=]\s*["'][A-Za-z0-9\-._~+/]{16,}["']`)},
		{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
		{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	}
)

// JSMine fetches JavaScript files and mines them for API endpoints and
// leaked credentials.
func (b *Builtins) JSMine(ctx context.Context, args map[string]any) (map[string]any, error) {
	urls, err := argStringList(args, "urls")
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(urls))
	for _, jsURL := range urls {
		if ctx.Err() != nil {
			break
		}
		resp, err := b.get(ctx, jsURL)
		if err != nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		src := string(body)

		endpoints := make([]map[string]any, 0)
		seen := make(map[string]bool)
		for _, m := range jsPathRe.FindAllStringSubmatch(src, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				endpoints = append(endpoints, map[string]any{
					"path":      m[1],
					"method":    "GET",
					"source_js": jsURL,
				})
			}
		}
		for _, m := range jsAbsoluteRe.FindAllStringSubmatch(src, -1) {
			if u, err := url.Parse(m[1]); err == nil && u.Path != "" && !seen[u.Path] {
				seen[u.Path] = true
				endpoints = append(endpoints, map[string]any{
					"path":      u.Path,
					"method":    "GET",
					"source_js": jsURL,
				})
			}
		}

		jsFiles := make([]string, 0)
		seenFile := make(map[string]bool)
		for _, m := range jsFileRe.FindAllStringSubmatch(src, -1) {
			if !seenFile[m[1]] {
				seenFile[m[1]] = true
				jsFiles = append(jsFiles, m[1])
			}
		}

		secrets := make([]map[string]any, 0)
		seenHash := make(map[string]bool)
		for _, p := range secretPatterns {
			for _, match := range p.re.FindAllString(src, -1) {
				h := graph.ContentHash([]byte(match))
				if seenHash[h] {
					continue
				}
				seenHash[h] = true
				secrets = append(secrets, map[string]any{
					"value":     match,
					"kind":      p.kind,
					"source_js": jsURL,
					"sha256":    h,
				})
			}
		}

		results = append(results, map[string]any{
			"url": jsURL,
			"js": map[string]any{
				"js_files":  jsFiles,
				"endpoints": endpoints,
				"secrets":   secrets,
			},
		})
	}

	return map[string]any{"results": results}, nil
}

// HTMLCrawl fetches HTML pages and extracts links, forms, and script
// sources. Single page per URL; breadth is driven by the pipeline.
func (b *Builtins) HTMLCrawl(ctx context.Context, args map[string]any) (map[string]any, error) {
	urls, err := argStringList(args, "urls")
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(urls))
	for _, pageURL := range urls {
		if ctx.Err() != nil {
			break
		}
		base, err := url.Parse(pageURL)
		if err != nil {
			continue
		}
		resp, err := b.get(ctx, pageURL)
		if err != nil {
			continue
		}
		doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			continue
		}

		links := make([]string, 0)
		scripts := make([]string, 0)
		forms := make([]map[string]any, 0)
		seen := make(map[string]bool)

		resolve := func(ref string) string {
			u, err := url.Parse(strings.TrimSpace(ref))
			if err != nil {
				return ""
			}
			abs := base.ResolveReference(u)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				return ""
			}
			abs.Fragment = ""
			return abs.String()
		}

		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode {
				switch n.Data {
				case "a":
					if href := attr(n, "href"); href != "" {
						if abs := resolve(href); abs != "" && !seen[abs] {
							seen[abs] = true
							links = append(links, abs)
						}
					}
				case "script":
					if src := attr(n, "src"); src != "" {
						if abs := resolve(src); abs != "" {
							scripts = append(scripts, abs)
						}
					}
				case "form":
					forms = append(forms, map[string]any{
						"action": resolve(attr(n, "action")),
						"method": strings.ToUpper(valueOr(attr(n, "method"), "GET")),
						"inputs": formInputs(n),
					})
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(doc)

		results = append(results, map[string]any{
			"url":     pageURL,
			"links":   links,
			"forms":   forms,
			"scripts": scripts,
		})
	}

	return map[string]any{"results": results}, nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func formInputs(form *html.Node) []string {
	inputs := make([]string, 0)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "input" || n.Data == "select" || n.Data == "textarea") {
			if name := attr(n, "name"); name != "" {
				inputs = append(inputs, name)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return inputs
}

var serverVersionRe = regexp.MustCompile(`/[\d.]+`)

// VulnScan runs passive misconfiguration checks against live targets:
// security headers, permissive CORS, directory listings, and verbose
// version banners. No intrusive payloads.
func (b *Builtins) VulnScan(ctx context.Context, args map[string]any) (map[string]any, error) {
	targets, err := argStringList(args, "targets")
	if err != nil {
		return nil, err
	}

	vulnerabilities := make([]map[string]any, 0)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		resp, err := b.get(ctx, target)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		host := target
		if u, err := url.Parse(target); err == nil {
			host = u.Hostname()
		}
		add := func(templateID, severity, matcherName string, extracted ...string) {
			vulnerabilities = append(vulnerabilities, map[string]any{
				"host":              host,
				"template_id":       templateID,
				"severity":          severity,
				"matched_at":        target,
				"matcher_name":      matcherName,
				"extracted_results": extracted,
				"tags":              []string{"passive", "misconfig"},
			})
		}

		if strings.HasPrefix(target, "https://") && resp.Header.Get("Strict-Transport-Security") == "" {
			add("missing-hsts", "low", "Strict-Transport-Security header absent")
		}
		if resp.Header.Get("Content-Security-Policy") == "" {
			add("missing-csp", "low", "Content-Security-Policy header absent")
		}
		if resp.Header.Get("X-Frame-Options") == "" &&
			!strings.Contains(resp.Header.Get("Content-Security-Policy"), "frame-ancestors") {
			add("missing-frame-options", "info", "clickjacking protection absent")
		}
		if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao == "*" {
			if resp.Header.Get("Access-Control-Allow-Credentials") == "true" {
				add("cors-wildcard-credentials", "high", "CORS wildcard with credentials")
			} else {
				add("cors-wildcard", "medium", "CORS allows any origin")
			}
		}
		if server := resp.Header.Get("Server"); serverVersionRe.MatchString(server) {
			add("verbose-server-banner", "info", "Server header leaks version", server)
		}
		if strings.Contains(string(body), "<title>Index of /") {
			add("directory-listing", "medium", "directory listing enabled")
		}
		if powered := resp.Header.Get("X-Powered-By"); powered != "" {
			add("x-powered-by", "info", "X-Powered-By header leaks stack", powered)
		}
	}

	return map[string]any{"vulnerabilities": vulnerabilities}, nil
}
