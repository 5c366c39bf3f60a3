package recon

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/store"
)

// Endpoint categories, checked in order. The first matching rule wins.
const (
	CategoryAPI         = "API"
	CategoryAdmin       = "ADMIN"
	CategoryAuth        = "AUTH"
	CategoryHealthcheck = "HEALTHCHECK"
	CategoryStatic      = "STATIC"
	CategoryPublic      = "PUBLIC"
	CategoryLegacy      = "LEGACY"
	CategoryUnknown     = "UNKNOWN"
)

// Behavior hints derived from method and path shape.
const (
	BehaviorReadOnly      = "READ_ONLY"
	BehaviorStateChanging = "STATE_CHANGING"
	BehaviorIDBasedAccess = "ID_BASED_ACCESS"
	BehaviorOther         = "OTHER"
	BehaviorUnknown       = "UNKNOWN"
)

// Parameter sensitivity levels.
const (
	SensitivityHigh   = "HIGH"
	SensitivityMedium = "MEDIUM"
	SensitivityLow    = "LOW"
)

// Attack hypothesis types.
const (
	AttackAuthBypass = "AUTH_BYPASS"
	AttackBruteForce = "BRUTE_FORCE"
	AttackSQLI       = "SQLI"
	AttackIDOR       = "IDOR"
)

var (
	staticExtRe  = regexp.MustCompile(`(?i)\.(js|css|png|jpe?g|gif|svg|ico|woff2?|ttf|eot|map|pdf)$`)
	legacyExtRe  = regexp.MustCompile(`(?i)\.(php|asp|aspx|jsp|cgi|pl|do)$`)
	numericSegRe = regexp.MustCompile(`/\d+(/|$)`)
	uuidSegRe    = regexp.MustCompile(`(?i)/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(/|$)`)
	versionSegRe = regexp.MustCompile(`/v\d+/`)
)

// categorize assigns an endpoint category from its path. Rules are ordered:
// an admin API path is API, a static login page is AUTH.
func categorize(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "/api/") || strings.HasSuffix(lower, "/api") ||
		strings.Contains(lower, "/graphql") || strings.Contains(lower, "/rest/") ||
		strings.Contains(lower, "swagger") || versionSegRe.MatchString(lower):
		return CategoryAPI
	case strings.Contains(lower, "admin") || strings.Contains(lower, "dashboard") ||
		strings.Contains(lower, "manage") || strings.Contains(lower, "panel") ||
		strings.Contains(lower, "console"):
		return CategoryAdmin
	case strings.Contains(lower, "login") || strings.Contains(lower, "signin") ||
		strings.Contains(lower, "logout") || strings.Contains(lower, "auth") ||
		strings.Contains(lower, "register") || strings.Contains(lower, "password") ||
		strings.Contains(lower, "oauth") || strings.Contains(lower, "sso"):
		return CategoryAuth
	case staticExtRe.MatchString(lower) || strings.Contains(lower, "/static/") ||
		strings.Contains(lower, "/assets/") || strings.Contains(lower, "/media/"):
		return CategoryStatic
	case strings.Contains(lower, "/health") || strings.Contains(lower, "/ping") ||
		strings.Contains(lower, "/ready") || strings.Contains(lower, "/livez") ||
		strings.HasSuffix(lower, "/status"):
		return CategoryHealthcheck
	case strings.Contains(lower, "/.env") || strings.Contains(lower, "/.git") ||
		strings.Contains(lower, "/config") || legacyExtRe.MatchString(lower) ||
		strings.Contains(lower, "/old/") || strings.Contains(lower, "/backup/") ||
		strings.Contains(lower, "/legacy/"):
		return CategoryLegacy
	case strings.Contains(lower, "/about") || strings.Contains(lower, "/contact") ||
		strings.Contains(lower, "/blog") || strings.Contains(lower, "/news") ||
		strings.Contains(lower, "/docs") || strings.Contains(lower, "/help") ||
		strings.Contains(lower, "/faq"):
		return CategoryPublic
	}
	return CategoryUnknown
}

// behaviorHint derives the endpoint's primary behavior from its method, path
// shape, and parameter names. An endpoint can be both state-changing and
// id-addressed; the method wins here and idBasedAccess carries the second
// trait.
func behaviorHint(method, path string, params []string) string {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return BehaviorStateChanging
	case "GET", "HEAD":
		if idBasedAccess(path, params) {
			return BehaviorIDBasedAccess
		}
		return BehaviorReadOnly
	case "":
		return BehaviorUnknown
	}
	return BehaviorOther
}

// idBasedAccess reports whether the endpoint addresses an object by
// identifier: a numeric or UUID path segment, or an id-shaped parameter.
func idBasedAccess(path string, params []string) bool {
	if numericSegRe.MatchString(path) || uuidSegRe.MatchString(path) {
		return true
	}
	for _, name := range params {
		lower := strings.ToLower(name)
		if lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id") && len(lower) <= 6 {
			return true
		}
	}
	return false
}

// categoryScores returns the base likelihood and impact (0-10) per category.
func categoryScores(category string) (likelihood, impact float64) {
	switch category {
	case CategoryAPI:
		return 6, 7
	case CategoryAdmin:
		return 7, 9
	case CategoryAuth:
		return 6, 8
	case CategoryHealthcheck:
		return 1, 1
	case CategoryStatic:
		return 1, 2
	case CategoryPublic:
		return 2, 3
	case CategoryLegacy:
		return 8, 8
	}
	return 4, 5
}

// scoreEndpoint computes the endpoint's likelihood, impact, and risk.
// State-changing or id-addressed endpoints bump likelihood; risk is the
// clamped product.
func scoreEndpoint(category, behavior string, idBased bool) (likelihood, impact, risk float64) {
	likelihood, impact = categoryScores(category)
	if behavior == BehaviorStateChanging || behavior == BehaviorIDBasedAccess || idBased {
		likelihood = graph.Clamp(likelihood+1, 0, 10)
	}
	risk = graph.Clamp(likelihood*impact, 0, 100)
	return likelihood, impact, risk
}

// paramSensitivity classifies a parameter name.
func paramSensitivity(name string) string {
	lower := strings.ToLower(name)
	for _, kw := range []string{"password", "passwd", "token", "key", "secret", "auth", "session"} {
		if strings.Contains(lower, kw) {
			return SensitivityHigh
		}
	}
	for _, kw := range []string{"id", "user", "email", "account", "uid"} {
		if strings.Contains(lower, kw) {
			return SensitivityMedium
		}
	}
	return SensitivityLow
}

// hypothesesFor maps endpoint traits to attack hypotheses, in priority
// order. IDOR keys off the id-access trait, not the primary hint, so a
// state-changing endpoint addressed by id still gets one.
func hypothesesFor(category, behavior string, hasParams, idBased bool) []string {
	var out []string
	if category == CategoryAdmin {
		out = append(out, AttackAuthBypass)
	}
	if category == CategoryAuth {
		out = append(out, AttackBruteForce)
	}
	if category == CategoryAPI && hasParams {
		out = append(out, AttackSQLI)
	}
	if idBased || behavior == BehaviorIDBasedAccess {
		out = append(out, AttackIDOR)
	}
	return out
}

// EndpointIntel runs P3: categorize and score every cataloged endpoint,
// extract parameters, and generate attack hypotheses for endpoints above the
// risk threshold. Purely computational, no network traffic.
func (p *Pipeline) EndpointIntel(ctx context.Context, m *models.Mission) (map[string]int, error) {
	apex := graph.NormalizeHost(m.Target)

	endpoints, err := p.store.QueryNodes(ctx, m.ID, store.NodeFilter{Type: graph.NodeEndpoint})
	if err != nil {
		return nil, err
	}

	b := newBatch()
	params, hypotheses := 0, 0
	maxHyp := p.cfg.Recon.MaxHypothesesPerService
	if maxHyp <= 0 {
		maxHyp = 3
	}

	for _, ep := range endpoints {
		epURL := asString(ep.Properties["url"])
		path := asString(ep.Properties["path"])
		method := asString(ep.Properties["method"])
		if method == "" {
			method = "GET"
		}

		var paramNames []string
		if u, err := url.Parse(epURL); err == nil {
			if path == "" {
				path = u.Path
			}
			for name := range u.Query() {
				paramNames = append(paramNames, name)
			}
		}
		for _, input := range stringSlice(ep.Properties["form_inputs"]) {
			paramNames = append(paramNames, input)
		}
		paramNames = dedupStrings(paramNames)

		category := categorize(path)
		idBased := idBasedAccess(path, paramNames)
		behavior := behaviorHint(method, path, paramNames)
		likelihood, impact, risk := scoreEndpoint(category, behavior, idBased)
		if historical, _ := ep.Properties["historical"].(bool); historical {
			// Archived paths may be gone; confidence stays low.
			likelihood = graph.Clamp(likelihood-1, 0, 10)
			risk = graph.Clamp(likelihood*impact, 0, 100)
		}

		props := map[string]any{
			"category":                category,
			"behavior_hint":           behavior,
			graph.PropLikelihoodScore: likelihood,
			graph.PropImpactScore:     impact,
			graph.PropRiskScore:       risk,
		}
		if idBased {
			props["id_based_access"] = true
		}
		b.node(graph.Node{
			ID:         ep.ID,
			Type:       graph.NodeEndpoint,
			Properties: props,
		})

		host := graph.HostFromID(ep.ID)
		for _, name := range paramNames {
			paramID := fmt.Sprintf("parameter:%s:%s", host, name)
			if b.node(graph.Node{
				ID:   paramID,
				Type: graph.NodeParameter,
				Properties: map[string]any{
					"name":        name,
					"sensitivity": paramSensitivity(name),
				},
			}) {
				params++
			}
			b.edge(graph.RelHasParam, ep.ID, paramID)
		}

		if risk < p.cfg.Recon.RiskScoreThreshold {
			continue
		}
		attacks := hypothesesFor(category, behavior, len(paramNames) > 0, idBased)
		if len(attacks) > maxHyp {
			attacks = attacks[:maxHyp]
		}
		priority := int(graph.Clamp(math.Round(risk/20), 1, 5))
		for _, attack := range attacks {
			hypID := fmt.Sprintf("hypothesis:%s:%s", attack, epURL)
			if b.node(graph.Node{
				ID:   hypID,
				Type: graph.NodeHypothesis,
				Properties: map[string]any{
					"attack_type": attack,
					"priority":    priority,
					"tested":      false,
					"rationale":   fmt.Sprintf("%s endpoint with %s behavior, risk %.0f", category, behavior, risk),
					"target_url":  epURL,
				},
			}) {
				hypotheses++
			}
			b.edge(graph.RelHasHypothesis, ep.ID, hypID)
		}
	}

	if err := b.flush(ctx, p.store, m.ID, apex); err != nil {
		return nil, err
	}
	return map[string]int{
		"endpoints":  len(endpoints),
		"parameters": params,
		"hypotheses": hypotheses,
	}, nil
}
