package config

// ROEConfig captures the rules of engagement enforced process-wide, on top
// of each mission's own scope. Every active probe must clear both.
type ROEConfig struct {
	// AllowActiveProbing globally gates the active phases (HTTP probing,
	// vuln verification). When false, missions run passive collection only.
	AllowActiveProbing *bool `yaml:"allow_active_probing"`

	// DeniedHosts are host suffixes never probed regardless of mission
	// scope (e.g. shared infrastructure, third-party CDN origins).
	DeniedHosts []string `yaml:"denied_hosts"`

	// MaxRequestsPerSecond caps outbound requests per tool per target.
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`

	// RequireScopeSuffix rejects mission creation when the target is not a
	// registrable domain (bare TLDs, IPs without explicit allow).
	RequireScopeSuffix *bool `yaml:"require_scope_suffix"`
}

// ActiveProbingAllowed reports the effective active-probing gate.
func (r *ROEConfig) ActiveProbingAllowed() bool {
	if r == nil || r.AllowActiveProbing == nil {
		return true
	}
	return *r.AllowActiveProbing
}

// HostDenied reports whether host matches any denied suffix.
func (r *ROEConfig) HostDenied(host string) bool {
	if r == nil {
		return false
	}
	for _, suffix := range r.DeniedHosts {
		if host == suffix || len(host) > len(suffix) && host[len(host)-len(suffix)-1] == '.' && host[len(host)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// DefaultROEConfig returns the built-in rules of engagement.
func DefaultROEConfig() *ROEConfig {
	return &ROEConfig{
		MaxRequestsPerSecond: 10,
	}
}
