package graph

import (
	"net/url"
	"strings"
)

// hostScopedTypes are node types whose id carries a hostname that must fall
// inside the mission's target domain.
var hostScopedTypes = map[NodeType]bool{
	NodeSubdomain:   true,
	NodeHTTPService: true,
	NodeEndpoint:    true,
}

// HostScoped reports whether nodes of type t are subject to the scope
// invariant.
func HostScoped(t NodeType) bool { return hostScopedTypes[t] }

// InScope reports whether host is the target domain or a subdomain of it.
// Comparison is case-insensitive and ignores a trailing dot and port.
func InScope(host, target string) bool {
	host = NormalizeHost(host)
	target = NormalizeHost(target)
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// NormalizeHost lowercases a hostname and strips surrounding whitespace,
// a trailing dot, a port suffix, and any scheme prefix.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	// Strip port, but leave bracketed IPv6 literals alone.
	if !strings.HasPrefix(host, "[") {
		if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i+1:], ":") {
			host = host[:i]
		}
	}
	return host
}

// HostFromID extracts the hostname referenced by a node id. Ids follow the
// "<kind>:<value>" convention where value is either a bare host
// ("subdomain:api.example.com") or a URL
// ("endpoint:https://api.example.com/v1/users").
func HostFromID(id string) string {
	_, value, found := strings.Cut(id, ":")
	if !found {
		return NormalizeHost(id)
	}
	if strings.Contains(value, "://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return NormalizeHost(u.Host)
		}
	}
	return NormalizeHost(value)
}

// IDInScope applies the scope invariant to a node id of a host-scoped type.
func IDInScope(id, target string) bool {
	return InScope(HostFromID(id), target)
}

// placeholderHosts are reserved example domains that never belong in an
// exported snapshot regardless of mission target.
var placeholderHosts = []string{"example.com", "example.org"}

// IsPlaceholder reports whether a node id references a reserved example
// domain.
func IsPlaceholder(id string) bool {
	lower := strings.ToLower(id)
	for _, ph := range placeholderHosts {
		if strings.Contains(lower, ph) {
			return true
		}
	}
	return false
}
