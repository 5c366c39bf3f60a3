package recon

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/graph"
)

func newTestPipeline() *Pipeline {
	return &Pipeline{cfg: &config.Config{
		Recon: config.DefaultReconConfig(),
		ROE:   config.DefaultROEConfig(),
	}}
}

func TestCategorizeOrderedRules(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/users", CategoryAPI},
		{"/admin/api/keys", CategoryAPI}, // API rule wins over admin
		{"/graphql", CategoryAPI},
		{"/swagger.json", CategoryAPI},
		{"/admin", CategoryAdmin},
		{"/wp-admin/options.php", CategoryAdmin},
		{"/dashboard", CategoryAdmin},
		{"/login", CategoryAuth},
		{"/accounts/password/reset", CategoryAuth},
		{"/oauth/callback", CategoryAuth},
		{"/static/app.css", CategoryStatic},
		{"/assets/logo.png", CategoryStatic},
		{"/health", CategoryHealthcheck},
		{"/ping", CategoryHealthcheck},
		{"/.env", CategoryLegacy},
		{"/.git/config", CategoryLegacy},
		{"/index.php", CategoryLegacy},
		{"/old/site.asp", CategoryLegacy},
		{"/about", CategoryPublic},
		{"/contact", CategoryPublic},
		{"/", CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorize(tt.path), tt.path)
	}
}

func TestBehaviorHint(t *testing.T) {
	assert.Equal(t, BehaviorStateChanging, behaviorHint("POST", "/contact", nil))
	assert.Equal(t, BehaviorStateChanging, behaviorHint("delete", "/users/3", nil))
	assert.Equal(t, BehaviorIDBasedAccess, behaviorHint("GET", "/users/42/profile", nil))
	assert.Equal(t, BehaviorIDBasedAccess, behaviorHint("GET", "/orders/0d1c9646-4a9b-44db-8f12-9a7f2e9b0c11", nil))
	assert.Equal(t, BehaviorIDBasedAccess, behaviorHint("GET", "/profile", []string{"user_id"}))
	assert.Equal(t, BehaviorReadOnly, behaviorHint("GET", "/about", []string{"lang"}))
	assert.Equal(t, BehaviorOther, behaviorHint("OPTIONS", "/api/v1/users", nil))
	assert.Equal(t, BehaviorUnknown, behaviorHint("", "/about", nil))
}

func TestIDBasedAccess(t *testing.T) {
	assert.True(t, idBasedAccess("/users/42/update", nil))
	assert.True(t, idBasedAccess("/profile", []string{"user_id"}))
	assert.True(t, idBasedAccess("/search", []string{"id"}))
	assert.False(t, idBasedAccess("/search", []string{"q"}))
}

func TestScoreEndpoint(t *testing.T) {
	l, i, risk := scoreEndpoint(CategoryAdmin, BehaviorReadOnly, false)
	assert.Equal(t, 7.0, l)
	assert.Equal(t, 9.0, i)
	assert.Equal(t, 63.0, risk)

	// State-changing behavior bumps likelihood.
	l2, _, risk2 := scoreEndpoint(CategoryAdmin, BehaviorStateChanging, false)
	assert.Equal(t, 8.0, l2)
	assert.Greater(t, risk2, risk)

	// The id-access trait bumps likelihood even when the method dominates
	// the hint.
	l3, _, _ := scoreEndpoint(CategoryAPI, BehaviorReadOnly, true)
	assert.Equal(t, 7.0, l3)

	// Risk stays clamped even for the hottest combination.
	_, _, legacyRisk := scoreEndpoint(CategoryLegacy, BehaviorStateChanging, true)
	assert.LessOrEqual(t, legacyRisk, 100.0)
}

func TestParamSensitivity(t *testing.T) {
	assert.Equal(t, SensitivityHigh, paramSensitivity("password"))
	assert.Equal(t, SensitivityHigh, paramSensitivity("api_token"))
	assert.Equal(t, SensitivityHigh, paramSensitivity("SECRET_KEY"))
	assert.Equal(t, SensitivityMedium, paramSensitivity("user_id"))
	assert.Equal(t, SensitivityMedium, paramSensitivity("email"))
	assert.Equal(t, SensitivityLow, paramSensitivity("lang"))
}

func TestHypothesesFor(t *testing.T) {
	assert.Equal(t, []string{AttackAuthBypass}, hypothesesFor(CategoryAdmin, BehaviorReadOnly, false, false))
	assert.Equal(t, []string{AttackBruteForce}, hypothesesFor(CategoryAuth, BehaviorReadOnly, false, false))
	assert.Equal(t, []string{AttackSQLI, AttackIDOR}, hypothesesFor(CategoryAPI, BehaviorIDBasedAccess, true, true))
	assert.Empty(t, hypothesesFor(CategoryStatic, BehaviorReadOnly, false, false))

	// A state-changing API endpoint addressed by id draws both injection and
	// object-access hypotheses, and no auth bypass.
	got := hypothesesFor(CategoryAPI, BehaviorStateChanging, true, true)
	assert.Equal(t, []string{AttackSQLI, AttackIDOR}, got)
	assert.NotContains(t, got, AttackAuthBypass)
}

func TestProbeVariant(t *testing.T) {
	assert.Equal(t, "https://api.colombes.fr/users?_probe=1", probeVariant("https://api.colombes.fr/users"))
	assert.Equal(t, "https://api.colombes.fr/users?id=1&_probe=1", probeVariant("https://api.colombes.fr/users?id=1"))
}

func TestClassifyObservations(t *testing.T) {
	base := observation{Status: 200, Length: 120}

	// A fresh server error is the one difference treated as a possible
	// vulnerability.
	verdict, reasons := classifyObservations(base, observation{Status: 500})
	assert.Equal(t, VerdictPossibleVuln, verdict)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "server error")

	// Error indicators without a status escalation stay inconclusive.
	verdict, reasons = classifyObservations(base, observation{Status: 200, ErrorHits: []string{"sql syntax"}})
	assert.Equal(t, VerdictInconclusive, verdict)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "sql syntax")

	// Same for a non-5xx status change.
	verdict, reasons = classifyObservations(base, observation{Status: 404})
	assert.Equal(t, VerdictInconclusive, verdict)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "status changed")

	verdict, _ = classifyObservations(base, observation{Status: 200})
	assert.Equal(t, VerdictLikelySafe, verdict)

	// A failed request leaves the pair incomplete rather than safe.
	verdict, _ = classifyObservations(base, observation{Err: "connection refused"})
	assert.Equal(t, VerdictInconclusive, verdict)

	// Both 5xx: the server was already broken at baseline.
	verdict, _ = classifyObservations(observation{Status: 502}, observation{Status: 502})
	assert.Equal(t, VerdictLikelySafe, verdict)
}

func TestSeverityForAttack(t *testing.T) {
	assert.Equal(t, "high", severityForAttack(AttackAuthBypass))
	assert.Equal(t, "high", severityForAttack(AttackSQLI))
	assert.Equal(t, "medium", severityForAttack(AttackIDOR))
	assert.Equal(t, "medium", severityForAttack(AttackBruteForce))
	assert.Equal(t, "low", severityForAttack("UNKNOWN"))
}

func TestScoreHostKeywordsAndDNS(t *testing.T) {
	hi := &hostIntel{
		host:  "admin.colombes.fr",
		subID: "subdomain:admin.colombes.fr",
		records: map[string][]string{
			"MX":  {"10 mail.colombes.fr."},
			"TXT": {"v=spf1 include:_spf.colombes.fr ~all"},
		},
	}
	score, reasons, _ := scoreHost(hi)

	// admin +5, SPF mail host +2, no DMARC +1
	assert.Equal(t, 8.0, score)
	assert.Len(t, reasons, 3)
}

func TestScoreHostEndpointAndVulnAggregates(t *testing.T) {
	hi := &hostIntel{
		host:  "api.colombes.fr",
		subID: "subdomain:api.colombes.fr",
		service: &graph.Node{
			ID:         "http_service:https://api.colombes.fr/",
			Properties: map[string]any{"technologies": []any{"nginx", "php"}},
		},
		endpoints: []graph.Node{
			{ID: "endpoint:https://api.colombes.fr/api/v1/users", Properties: map[string]any{
				"category":          CategoryAPI,
				"behavior_hint":     BehaviorIDBasedAccess,
				graph.PropRiskScore: 49.0,
			}},
		},
		vulns: []graph.Node{
			{ID: "vulnerability:cors-wildcard:https://api.colombes.fr/", Properties: map[string]any{
				"severity": "high",
				"status":   "POSSIBLE",
			}},
		},
	}
	score, _, actions := scoreHost(hi)

	// tech +3, API +2, id-based +1, high finding +5
	assert.Equal(t, 11.0, score)
	assert.Contains(t, actions, "nuclei_scan")
	assert.Contains(t, actions, "ffuf_fuzz")
}

func TestScoreHostCDNPenalty(t *testing.T) {
	hi := &hostIntel{
		host:    "www.colombes.fr",
		subID:   "subdomain:www.colombes.fr",
		asnOrg:  "CLOUDFLARENET, US",
		records: map[string][]string{},
		service: &graph.Node{
			ID:         "http_service:https://www.colombes.fr/",
			Properties: map[string]any{"technologies": []any{"wordpress"}},
		},
	}
	score, reasons, _ := scoreHost(hi)

	// tech +3, CDN -1
	assert.Equal(t, 2.0, score)
	assert.Contains(t, reasons, "CDN-fronted (-1)")
}

func TestAttackChainPrefersHTTPSurface(t *testing.T) {
	hi := &hostIntel{
		subID: "subdomain:api.colombes.fr",
		service: &graph.Node{
			ID: "http_service:https://api.colombes.fr/",
		},
		endpoints: []graph.Node{
			{ID: "endpoint:https://api.colombes.fr/health", Properties: map[string]any{graph.PropRiskScore: 4.0}},
			{ID: "endpoint:https://api.colombes.fr/api/v1/users", Properties: map[string]any{graph.PropRiskScore: 56.0}},
		},
		ipID:  "ip:203.0.113.10",
		asnID: "asn:AS64500",
	}
	chain := attackChain(hi)
	assert.Equal(t, []string{
		"subdomain:api.colombes.fr",
		"http_service:https://api.colombes.fr/",
		"endpoint:https://api.colombes.fr/api/v1/users",
	}, chain)
}

func TestAttackChainFallsBackToNetwork(t *testing.T) {
	hi := &hostIntel{
		subID: "subdomain:vpn.colombes.fr",
		ipID:  "ip:203.0.113.20",
		asnID: "asn:AS64500",
	}
	assert.Equal(t, []string{"subdomain:vpn.colombes.fr", "ip:203.0.113.20", "asn:AS64500"}, attackChain(hi))
}

func TestScopedHostsFiltersPlaceholdersAndScope(t *testing.T) {
	p := newTestPipeline()
	hosts := p.scopedHosts([]string{
		"api.colombes.fr",
		"API.COLOMBES.FR.", // dedups after normalization
		"evil.example.com",
		"other-domain.fr",
		"",
	}, "colombes.fr")
	assert.Equal(t, []string{"api.colombes.fr"}, hosts)
}

func TestHostAllowedHonorsROEDenyList(t *testing.T) {
	p := newTestPipeline()
	p.cfg.ROE.DeniedHosts = []string{"shared.colombes.fr"}

	assert.True(t, p.hostAllowed("api.colombes.fr", "colombes.fr"))
	assert.False(t, p.hostAllowed("shared.colombes.fr", "colombes.fr"))
	assert.False(t, p.hostAllowed("www.shared.colombes.fr", "colombes.fr"))
	assert.False(t, p.hostAllowed("outside.fr", "colombes.fr"))
}

func TestChunkStrings(t *testing.T) {
	chunks := chunkStrings([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"e"}, chunks[2])

	assert.Nil(t, chunkStrings(nil, 2))
}

func TestEndpointNodeDefaults(t *testing.T) {
	n := endpointNode("https://www.colombes.fr/contact", "", "GET", "crawl")
	assert.Equal(t, "endpoint:https://www.colombes.fr/contact", n.ID)
	assert.Equal(t, graph.NodeEndpoint, n.Type)
	assert.Equal(t, "/", n.Properties["path"])
	assert.Equal(t, "crawl", n.Properties["source"])
}

func TestStackFromService(t *testing.T) {
	svc := graph.Node{Properties: map[string]any{
		"server":       "nginx/1.24.0",
		"technologies": []any{"PHP", "WordPress"},
	}}
	stack := stackFromService(svc, nil)
	assert.Equal(t, []string{"nginx", "php", "wordpress"}, stack)

	// Live headers refine the recorded fingerprints: a fresh X-Powered-By
	// wins over the stored one and an ASP.NET version header adds the label.
	hdr := http.Header{}
	hdr.Set("Server", "Apache/2.4.57")
	hdr.Set("X-Powered-By", "Express")
	hdr.Set("X-AspNet-Version", "4.0.30319")
	stack = stackFromService(svc, hdr)
	assert.Equal(t, []string{"nginx", "apache", "php", "wordpress", "express", "asp.net"}, stack)
}
