package reflection

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/skyhound/recongraph/pkg/reason"
)

// Built-in script types.
const (
	ScriptDNSBruteforce    = "dns_bruteforce"
	ScriptTechFingerprint  = "tech_fingerprint"
	ScriptConfigChecker    = "config_checker"
	ScriptPortCheck        = "port_check"
	ScriptHeaderAnalysis   = "header_analysis"
	ScriptCertificateCheck = "certificate_check"
)

// Script is an executable enrichment script. Content is a shell script that
// must print a single JSON document to stdout.
type Script struct {
	Type           string
	Targets        []string
	Content        string
	NotImplemented bool
}

// Shell templates for the built-in script types. Every template emits JSON
// on stdout and tolerates per-target failures.
var scriptTemplates = map[string]*template.Template{
	ScriptDNSBruteforce: mustTemplate(ScriptDNSBruteforce, `#!/bin/sh
# brute-force common subdomain labels against the target domain
set -u
words="www api dev staging test admin mail vpn portal app beta internal git jenkins grafana"
printf '{"subdomains":['
sep=""
{{range .Targets}}
for w in $words; do
  host="$w.{{.}}"
  if dig +short +time=2 +tries=1 "$host" A | grep -q '^[0-9]'; then
    printf '%s"%s"' "$sep" "$host"
    sep=","
  fi
done
{{end}}
printf ']}\n'
`),
	ScriptTechFingerprint: mustTemplate(ScriptTechFingerprint, `#!/bin/sh
# fingerprint server technology from response headers
set -u
printf '{"results":['
sep=""
{{range .Targets}}
headers=$(curl -ks -m 10 -o /dev/null -D - "{{.}}" 2>/dev/null)
server=$(printf '%s' "$headers" | awk -F': ' 'tolower($1)=="server" {print $2}' | tr -d '\r' | head -1)
powered=$(printf '%s' "$headers" | awk -F': ' 'tolower($1)=="x-powered-by" {print $2}' | tr -d '\r' | head -1)
printf '%s{"url":"{{.}}","server":"%s","powered_by":"%s"}' "$sep" "$server" "$powered"
sep=","
{{end}}
printf ']}\n'
`),
	ScriptConfigChecker: mustTemplate(ScriptConfigChecker, `#!/bin/sh
# check for commonly exposed configuration files
set -u
paths="/.env /.git/config /config.json /.htaccess /web.config /docker-compose.yml"
printf '{"findings":['
sep=""
{{range .Targets}}
for p in $paths; do
  code=$(curl -ks -m 10 -o /dev/null -w '%{http_code}' "{{.}}$p" 2>/dev/null)
  if [ "$code" = "200" ]; then
    printf '%s{"url":"{{.}}%s","template_id":"exposed-config","severity":"high","detail":"config path returns 200"}' "$sep" "$p"
    sep=","
  fi
done
{{end}}
printf ']}\n'
`),
	ScriptPortCheck: mustTemplate(ScriptPortCheck, `#!/bin/sh
# TCP connect check against a short list of common service ports
set -u
ports="21 22 25 80 443 3306 5432 6379 8080 8443"
printf '{"results":['
sep=""
{{range .Targets}}
open=""
psep=""
for port in $ports; do
  if timeout 2 sh -c "exec 3<>/dev/tcp/{{.}}/$port" 2>/dev/null; then
    open="$open$psep$port"
    psep=","
  fi
done
printf '%s{"host":"{{.}}","open_ports":[%s]}' "$sep" "$open"
sep=","
{{end}}
printf ']}\n'
`),
	ScriptHeaderAnalysis: mustTemplate(ScriptHeaderAnalysis, `#!/bin/sh
# report which security headers each target is missing
set -u
printf '{"findings":['
sep=""
{{range .Targets}}
headers=$(curl -ks -m 10 -o /dev/null -D - "{{.}}" 2>/dev/null | tr 'A-Z' 'a-z')
for h in strict-transport-security content-security-policy x-frame-options x-content-type-options; do
  if ! printf '%s' "$headers" | grep -q "^$h:"; then
    printf '%s{"url":"{{.}}","template_id":"missing-%s","severity":"low","detail":"%s header absent"}' "$sep" "$h" "$h"
    sep=","
  fi
done
{{end}}
printf ']}\n'
`),
	ScriptCertificateCheck: mustTemplate(ScriptCertificateCheck, `#!/bin/sh
# inspect TLS certificate subject, issuer, and expiry
set -u
printf '{"results":['
sep=""
{{range .Targets}}
cert=$(printf '' | timeout 10 openssl s_client -connect "{{.}}:443" -servername "{{.}}" 2>/dev/null | openssl x509 -noout -subject -issuer -enddate 2>/dev/null)
subject=$(printf '%s' "$cert" | awk -F'subject=' '/subject=/{print $2}')
issuer=$(printf '%s' "$cert" | awk -F'issuer=' '/issuer=/{print $2}')
expires=$(printf '%s' "$cert" | awk -F'notAfter=' '/notAfter=/{print $2}')
printf '%s{"host":"{{.}}","subject":"%s","issuer":"%s","expires":"%s"}' "$sep" "$subject" "$issuer" "$expires"
sep=","
{{end}}
printf ']}\n'
`),
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// KnownScriptType reports whether the generator has a built-in template.
func KnownScriptType(t string) bool {
	_, ok := scriptTemplates[t]
	return ok
}

// Generator resolves script types to executable scripts: built-in templates
// first, the reasoner for unknown types, a not-implemented stub last.
type Generator struct {
	reasoner reason.Reasoner
}

// NewGenerator creates a script generator. The reasoner may be a Noop.
func NewGenerator(r reason.Reasoner) *Generator {
	return &Generator{reasoner: r}
}

// Generate produces a script for the given type and targets.
func (g *Generator) Generate(ctx context.Context, scriptType string, targets []string) (Script, error) {
	if tmpl, ok := scriptTemplates[scriptType]; ok {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, struct{ Targets []string }{Targets: targets}); err != nil {
			return Script{}, fmt.Errorf("failed to render %s template: %w", scriptType, err)
		}
		return Script{Type: scriptType, Targets: targets, Content: buf.String()}, nil
	}

	if g.reasoner != nil && g.reasoner.Enabled() {
		resp, err := g.reasoner.Reason(ctx, reason.Request{
			Task: "generate_script",
			Context: map[string]any{
				"script_type": scriptType,
				"targets":     targets,
				"contract":    "shell script, JSON document on stdout, 30s budget",
			},
		})
		if err == nil {
			for _, action := range resp.Actions {
				if content, ok := action["script"].(string); ok && content != "" {
					return Script{Type: scriptType, Targets: targets, Content: content}, nil
				}
			}
		}
	}

	return Script{
		Type:           scriptType,
		Targets:        targets,
		Content:        fmt.Sprintf("#!/bin/sh\nprintf '{\"not_implemented\":\"%s\"}\\n'\n", scriptType),
		NotImplemented: true,
	}, nil
}
