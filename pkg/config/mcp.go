package config

import "time"

// Transport types for external MCP tool servers.
const (
	TransportTypeStdio = "stdio"
	TransportTypeHTTP  = "http"
	TransportTypeSSE   = "sse"
)

// MCPServerConfig describes one external MCP tool server. Tools exposed by
// the server are registered into the recon tool registry under
// "<server>.<tool>" names.
type MCPServerConfig struct {
	Transport string `yaml:"transport"`

	// Stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// HTTP/SSE transports.
	URL            string `yaml:"url,omitempty"`
	BearerTokenEnv string `yaml:"bearer_token_env,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ValidTransport reports whether t is a supported MCP transport type.
func ValidTransport(t string) bool {
	switch t {
	case TransportTypeStdio, TransportTypeHTTP, TransportTypeSSE:
		return true
	}
	return false
}
