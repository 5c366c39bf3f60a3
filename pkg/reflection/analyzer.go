// Package reflection implements the post-tool reflection loop: analyze each
// tool result against pre-declared per-tool rules, generate and run sandboxed
// enrichment scripts for the gaps it finds, and merge recognized output
// shapes back into the mission graph.
package reflection

import (
	"fmt"
	"strings"

	"github.com/skyhound/recongraph/pkg/tools"
)

// Analysis is the analyzer verdict on one tool result.
type Analysis struct {
	Valid                   bool          `json:"valid"`
	CompletenessScore       float64       `json:"completeness_score"`
	Issues                  []Issue       `json:"issues,omitempty"`
	EnrichmentOpportunities []Opportunity `json:"enrichment_opportunities,omitempty"`
	SuggestedActions        []Action      `json:"suggested_actions,omitempty"`
}

// Issue flags a problem with the tool result.
type Issue struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"` // "low", "medium", "high", "critical"
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// Opportunity names follow-up work the result suggests.
type Opportunity struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets,omitempty"`
	Reason  string   `json:"reason"`
}

// Action kinds the loop knows how to execute.
const (
	ActionRetry          = "retry"
	ActionGenerateScript = "generate_script"
	ActionInvestigate    = "investigate"
)

// Action is one suggested follow-up.
type Action struct {
	Action     string   `json:"action"`
	ScriptType string   `json:"script_type,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Analyze runs the pre-declared rules for a tool against its result. The
// target domain scopes any suggested script targets.
func Analyze(tool string, res tools.Result, target string) Analysis {
	if !res.OK {
		a := Analysis{
			Valid:             false,
			CompletenessScore: 0,
			Issues: []Issue{{
				Type:     "tool_failure",
				Severity: "high",
				Message:  fmt.Sprintf("tool %s failed: %s", tool, res.Error),
				Data:     map[string]any{"code": string(res.Code)},
			}},
		}
		if res.Fault != nil && res.Fault.Retryable() {
			a.SuggestedActions = append(a.SuggestedActions, Action{
				Action: ActionRetry,
				Reason: "failure is retryable",
			})
		}
		return a
	}

	switch tool {
	case "subdomain_enum":
		return analyzeSubdomainEnum(res.Data, target)
	case "dns_resolve":
		return analyzeDNSResolve(res.Data, target)
	case "http_probe":
		return analyzeHTTPProbe(res.Data)
	case "wayback":
		return analyzeWayback(res.Data)
	case "js_mine":
		return analyzeJSMine(res.Data)
	case "html_crawl":
		return analyzeHTMLCrawl(res.Data)
	case "vuln_scan":
		return analyzeVulnScan(res.Data)
	default:
		// No declared rules: accept the result as-is.
		return Analysis{Valid: true, CompletenessScore: 1}
	}
}

func analyzeSubdomainEnum(data map[string]any, target string) Analysis {
	subs := stringSlice(data["subdomains"])
	if len(subs) == 0 {
		return Analysis{
			Valid:             true,
			CompletenessScore: 0.1,
			Issues: []Issue{{
				Type:     "empty_result",
				Severity: "medium",
				Message:  "passive enumeration found no subdomains",
			}},
			SuggestedActions: []Action{{
				Action:     ActionGenerateScript,
				ScriptType: ScriptDNSBruteforce,
				Targets:    []string{target},
				Reason:     "no passive results; brute-force common names",
			}},
		}
	}

	score := float64(len(subs)) / 20.0
	if score > 1 {
		score = 1
	}
	a := Analysis{Valid: true, CompletenessScore: score}
	if len(subs) < 5 {
		a.EnrichmentOpportunities = append(a.EnrichmentOpportunities, Opportunity{
			Type:    "dns_bruteforce",
			Targets: []string{target},
			Reason:  "sparse passive results; brute-force may widen coverage",
		})
		a.SuggestedActions = append(a.SuggestedActions, Action{
			Action:     ActionGenerateScript,
			ScriptType: ScriptDNSBruteforce,
			Targets:    []string{target},
			Reason:     "fewer than 5 subdomains discovered",
		})
	}
	return a
}

func analyzeDNSResolve(data map[string]any, target string) Analysis {
	results := mapSlice(data["results"])
	if len(results) == 0 {
		return Analysis{Valid: true, CompletenessScore: 0}
	}

	unresolved := make([]string, 0)
	for _, r := range results {
		if len(stringSlice(r["ips"])) == 0 {
			if host, ok := r["subdomain"].(string); ok {
				unresolved = append(unresolved, host)
			}
		}
	}

	a := Analysis{
		Valid:             true,
		CompletenessScore: float64(len(results)-len(unresolved)) / float64(len(results)),
	}
	if len(unresolved) > 0 {
		a.Issues = append(a.Issues, Issue{
			Type:     "unresolved_hosts",
			Severity: "low",
			Message:  fmt.Sprintf("%d hosts did not resolve", len(unresolved)),
			Data:     map[string]any{"hosts": unresolved},
		})
	}
	return a
}

func analyzeHTTPProbe(data map[string]any) Analysis {
	results := mapSlice(data["results"])
	if len(results) == 0 {
		return Analysis{
			Valid:             true,
			CompletenessScore: 0.2,
			Issues: []Issue{{
				Type:     "no_live_services",
				Severity: "medium",
				Message:  "no live HTTP services found",
			}},
			SuggestedActions: []Action{{
				Action: ActionRetry,
				Reason: "probe may have hit transient failures",
			}},
		}
	}

	serverErrors := 0
	unfingerprinted := make([]string, 0)
	for _, r := range results {
		if code, ok := numberOf(r["status_code"]); ok && code >= 500 {
			serverErrors++
		}
		if len(stringSlice(r["technologies"])) == 0 {
			if u, ok := r["url"].(string); ok {
				unfingerprinted = append(unfingerprinted, u)
			}
		}
	}

	a := Analysis{Valid: true, CompletenessScore: 1}
	if float64(serverErrors) > float64(len(results))*0.3 {
		a.Issues = append(a.Issues, Issue{
			Type:     "server_errors",
			Severity: "medium",
			Message:  fmt.Sprintf("%d of %d services return 5xx", serverErrors, len(results)),
		})
		a.SuggestedActions = append(a.SuggestedActions, Action{
			Action: ActionInvestigate,
			Reason: "high 5xx ratio may indicate instability worth observing",
		})
	}
	if len(unfingerprinted) > 0 {
		a.SuggestedActions = append(a.SuggestedActions, Action{
			Action:     ActionGenerateScript,
			ScriptType: ScriptTechFingerprint,
			Targets:    capTargets(unfingerprinted, 10),
			Reason:     "services without technology fingerprints",
		})
	}
	return a
}

func analyzeWayback(data map[string]any) Analysis {
	results := mapSlice(data["results"])
	a := Analysis{Valid: true, CompletenessScore: 1}
	if len(results) == 0 {
		a.CompletenessScore = 0.3
		return a
	}

	apiOrigins := make([]string, 0)
	for _, r := range results {
		path, _ := r["path"].(string)
		if strings.Contains(path, "/api/") || strings.Contains(path, "/graphql") {
			if origin, ok := r["origin"].(string); ok {
				apiOrigins = append(apiOrigins, origin)
			}
		}
	}
	if len(apiOrigins) > 0 {
		a.EnrichmentOpportunities = append(a.EnrichmentOpportunities, Opportunity{
			Type:    "api_discovery",
			Targets: capTargets(apiOrigins, 10),
			Reason:  "historical URLs reference API routes",
		})
	}
	if len(results) >= 400 {
		a.Issues = append(a.Issues, Issue{
			Type:     "possibly_truncated",
			Severity: "low",
			Message:  "result near the CDX query limit; coverage may be incomplete",
		})
	}
	return a
}

func analyzeJSMine(data map[string]any) Analysis {
	results := mapSlice(data["results"])
	a := Analysis{Valid: true, CompletenessScore: 1}

	for _, r := range results {
		js, _ := r["js"].(map[string]any)
		if js == nil {
			continue
		}
		if secrets := mapSlice(js["secrets"]); len(secrets) > 0 {
			url, _ := r["url"].(string)
			a.Issues = append(a.Issues, Issue{
				Type:     "secret_exposure",
				Severity: "critical",
				Message:  fmt.Sprintf("%d potential secrets in %s", len(secrets), url),
			})
		}
	}
	return a
}

func analyzeHTMLCrawl(data map[string]any) Analysis {
	results := mapSlice(data["results"])
	a := Analysis{Valid: true, CompletenessScore: 1}

	formTargets := make([]string, 0)
	for _, r := range results {
		if len(mapSlice(r["forms"])) > 0 {
			if u, ok := r["url"].(string); ok {
				formTargets = append(formTargets, u)
			}
		}
	}
	if len(formTargets) > 0 {
		a.EnrichmentOpportunities = append(a.EnrichmentOpportunities, Opportunity{
			Type:    "form_analysis",
			Targets: capTargets(formTargets, 10),
			Reason:  "pages expose HTML forms",
		})
		a.SuggestedActions = append(a.SuggestedActions, Action{
			Action:     ActionGenerateScript,
			ScriptType: ScriptHeaderAnalysis,
			Targets:    capTargets(formTargets, 10),
			Reason:     "inspect security headers on form-bearing pages",
		})
	}
	return a
}

func analyzeVulnScan(data map[string]any) Analysis {
	vulns := mapSlice(data["vulnerabilities"])
	a := Analysis{Valid: true, CompletenessScore: 1}

	severe := 0
	for _, v := range vulns {
		if sev, _ := v["severity"].(string); sev == "high" || sev == "critical" {
			severe++
		}
	}
	if severe > 0 {
		a.Issues = append(a.Issues, Issue{
			Type:     "severe_findings",
			Severity: "high",
			Message:  fmt.Sprintf("%d high or critical findings", severe),
		})
		a.SuggestedActions = append(a.SuggestedActions, Action{
			Action: ActionInvestigate,
			Reason: "severe findings warrant manual review",
		})
	}
	return a
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func mapSlice(v any) []map[string]any {
	switch s := v.(type) {
	case []map[string]any:
		return s
	case []any:
		out := make([]map[string]any, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func capTargets(targets []string, n int) []string {
	if len(targets) > n {
		return targets[:n]
	}
	return targets
}
