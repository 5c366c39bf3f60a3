package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/reason"
	"github.com/skyhound/recongraph/pkg/tools"
)

func TestAnalyzeFailedResult(t *testing.T) {
	f := faults.New(faults.CodeNetworkTimeout, "PASSIVE_RECON", "timed out")
	res := tools.Result{Tool: "subdomain_enum", OK: false, Error: f.Error(), Code: f.Code, Fault: f}

	a := Analyze("subdomain_enum", res, "colombes.fr")

	assert.False(t, a.Valid)
	assert.Zero(t, a.CompletenessScore)
	require.Len(t, a.Issues, 1)
	assert.Equal(t, "tool_failure", a.Issues[0].Type)
	require.Len(t, a.SuggestedActions, 1)
	assert.Equal(t, ActionRetry, a.SuggestedActions[0].Action)
}

func TestAnalyzeEmptySubdomainResultSuggestsBruteforce(t *testing.T) {
	res := tools.Result{Tool: "subdomain_enum", OK: true, Data: map[string]any{
		"subdomains": []any{},
	}}

	a := Analyze("subdomain_enum", res, "colombes.fr")

	assert.True(t, a.Valid)
	assert.InDelta(t, 0.1, a.CompletenessScore, 0.001)
	require.NotEmpty(t, a.SuggestedActions)
	assert.Equal(t, ActionGenerateScript, a.SuggestedActions[0].Action)
	assert.Equal(t, ScriptDNSBruteforce, a.SuggestedActions[0].ScriptType)
	assert.Equal(t, []string{"colombes.fr"}, a.SuggestedActions[0].Targets)
}

func TestAnalyzeHTTPProbeServerErrors(t *testing.T) {
	res := tools.Result{Tool: "http_probe", OK: true, Data: map[string]any{
		"results": []any{
			map[string]any{"url": "https://a.colombes.fr/", "status_code": float64(500), "technologies": []any{"nginx"}},
			map[string]any{"url": "https://b.colombes.fr/", "status_code": float64(502), "technologies": []any{"nginx"}},
			map[string]any{"url": "https://c.colombes.fr/", "status_code": float64(200), "technologies": []any{"nginx"}},
		},
	}}

	a := Analyze("http_probe", res, "colombes.fr")

	require.NotEmpty(t, a.Issues)
	assert.Equal(t, "server_errors", a.Issues[0].Type)
	require.NotEmpty(t, a.SuggestedActions)
	assert.Equal(t, ActionInvestigate, a.SuggestedActions[0].Action)
}

func TestAnalyzeWaybackAPIDiscovery(t *testing.T) {
	res := tools.Result{Tool: "wayback", OK: true, Data: map[string]any{
		"results": []any{
			map[string]any{"path": "/api/v1/users", "origin": "https://api.colombes.fr/api/v1/users"},
			map[string]any{"path": "/index.html", "origin": "https://www.colombes.fr/index.html"},
		},
	}}

	a := Analyze("wayback", res, "colombes.fr")

	require.Len(t, a.EnrichmentOpportunities, 1)
	assert.Equal(t, "api_discovery", a.EnrichmentOpportunities[0].Type)
	assert.Equal(t, []string{"https://api.colombes.fr/api/v1/users"}, a.EnrichmentOpportunities[0].Targets)
}

func TestAnalyzeJSMineFlagsSecrets(t *testing.T) {
	res := tools.Result{Tool: "js_mine", OK: true, Data: map[string]any{
		"results": []any{
			map[string]any{
				"url": "https://www.colombes.fr/app.js",
				"js": map[string]any{
					"secrets": []any{map[string]any{"kind": "aws_access_key"}},
				},
			},
		},
	}}

	a := Analyze("js_mine", res, "colombes.fr")

	require.Len(t, a.Issues, 1)
	assert.Equal(t, "secret_exposure", a.Issues[0].Type)
	assert.Equal(t, "critical", a.Issues[0].Severity)
}

func TestGeneratorRendersBuiltinTemplate(t *testing.T) {
	g := NewGenerator(reason.Noop{})

	script, err := g.Generate(context.Background(), ScriptDNSBruteforce, []string{"colombes.fr"})
	require.NoError(t, err)

	assert.False(t, script.NotImplemented)
	assert.Contains(t, script.Content, "colombes.fr")
	assert.Contains(t, script.Content, "subdomains")
}

func TestGeneratorUnknownTypeReturnsStub(t *testing.T) {
	g := NewGenerator(reason.Noop{})

	script, err := g.Generate(context.Background(), "quantum_analysis", []string{"colombes.fr"})
	require.NoError(t, err)

	assert.True(t, script.NotImplemented)
	assert.Contains(t, script.Content, "not_implemented")
}

func TestKnownScriptTypes(t *testing.T) {
	for _, st := range []string{
		ScriptDNSBruteforce, ScriptTechFingerprint, ScriptConfigChecker,
		ScriptPortCheck, ScriptHeaderAnalysis, ScriptCertificateCheck,
	} {
		assert.True(t, KnownScriptType(st), st)
	}
	assert.False(t, KnownScriptType("nope"))
}

func TestExecutorParsesJSONStdout(t *testing.T) {
	e := NewExecutor(10 * time.Second)

	out, err := e.Run(context.Background(), Script{
		Type:    "test",
		Content: "#!/bin/sh\nprintf '{\"subdomains\":[\"a.colombes.fr\"]}\\n'\n",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a.colombes.fr"}, out["subdomains"])
}

func TestExecutorRejectsNonJSONStdout(t *testing.T) {
	e := NewExecutor(10 * time.Second)

	_, err := e.Run(context.Background(), Script{
		Type:    "test",
		Content: "#!/bin/sh\necho 'plain text output'\n",
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeParseError, faults.CodeOf(err))
}

func TestExecutorEnforcesTimeout(t *testing.T) {
	e := NewExecutor(1 * time.Second)

	start := time.Now()
	_, err := e.Run(context.Background(), Script{
		Type:    "test",
		Content: "#!/bin/sh\nsleep 30\n",
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeToolTimeout, faults.CodeOf(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecutorReportsScriptFailure(t *testing.T) {
	e := NewExecutor(10 * time.Second)

	_, err := e.Run(context.Background(), Script{
		Type:    "test",
		Content: "#!/bin/sh\necho 'boom' >&2\nexit 3\n",
	})
	require.Error(t, err)
	assert.Equal(t, faults.CodeToolExecFailed, faults.CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
}
