package tools

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/faults"
	"github.com/skyhound/recongraph/pkg/version"
)

// Timeouts for MCP server lifecycle operations.
const (
	mcpInitTimeout = 30 * time.Second
	mcpListTimeout = 10 * time.Second
)

// Provider connects to external MCP tool servers and registers their tools
// into the recon registry under "<server>.<tool>" names. Servers that fail
// to connect are skipped with a warning; the builtin tool set always remains
// available.
type Provider struct {
	servers map[string]config.MCPServerConfig

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	failed   map[string]string

	logger *slog.Logger
}

// NewProvider creates a provider for the configured MCP servers.
func NewProvider(servers map[string]config.MCPServerConfig) *Provider {
	return &Provider{
		servers:  servers,
		sessions: make(map[string]*mcpsdk.ClientSession),
		failed:   make(map[string]string),
		logger:   slog.Default(),
	}
}

// Initialize connects to every configured server and registers the tools it
// exposes. Connection failures are recorded, not fatal.
func (p *Provider) Initialize(ctx context.Context, r *Registry) error {
	for serverID, cfg := range p.servers {
		if err := p.connectAndRegister(ctx, r, serverID, cfg); err != nil {
			p.mu.Lock()
			p.failed[serverID] = err.Error()
			p.mu.Unlock()
			p.logger.Warn("MCP server failed to initialize",
				"server", serverID, "error", err)
		}
	}
	return nil
}

// FailedServers returns server IDs that failed to connect, with reasons.
func (p *Provider) FailedServers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.failed))
	for k, v := range p.failed {
		out[k] = v
	}
	return out
}

func (p *Provider) connectAndRegister(ctx context.Context, r *Registry, serverID string, cfg config.MCPServerConfig) error {
	transport, err := createTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", serverID, err)
	}

	listCtx, cancel := context.WithTimeout(ctx, mcpListTimeout)
	defer cancel()
	listed, err := session.ListTools(listCtx, nil)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	p.mu.Lock()
	p.sessions[serverID] = session
	delete(p.failed, serverID)
	p.mu.Unlock()

	for _, t := range listed.Tools {
		name := serverID + "." + t.Name
		r.Register(Tool{
			Name:        name,
			Description: t.Description,
			Handler:     p.handler(serverID, t.Name),
		})
	}

	p.logger.Info("MCP server connected",
		"server", serverID, "tools", len(listed.Tools))
	return nil
}

// handler builds a registry Handler that proxies one remote tool.
func (p *Provider) handler(serverID, toolName string) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		p.mu.RLock()
		session, ok := p.sessions[serverID]
		p.mu.RUnlock()
		if !ok {
			return nil, faults.New(faults.CodeServiceUnavailable, "",
				fmt.Sprintf("no session for MCP server %q", serverID))
		}

		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: args,
		})
		if err != nil {
			return nil, err
		}

		text := extractTextContent(result)
		if result.IsError {
			return nil, faults.New(faults.CodeToolExecFailed, "", text)
		}
		return decodeToolOutput(text), nil
	}
}

// decodeToolOutput parses tool text output as a JSON object when possible,
// wrapping anything else under a "text" key.
func decodeToolOutput(text string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}
	return map[string]any{"text": text}
}

// extractTextContent concatenates all TextContent items from a tool result.
// Non-text content (images, embedded resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// Close shuts down all MCP sessions.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for id, session := range p.sessions {
		if err := session.Close(); err != nil {
			lastErr = err
			p.logger.Warn("Failed to close MCP session", "server", id, "error", err)
		}
		delete(p.sessions, id)
	}
	return lastErr
}

// createTransport builds an MCP SDK transport from server config.
func createTransport(cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case config.TransportTypeStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires command")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case config.TransportTypeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires url")
		}
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg),
		}, nil

	case config.TransportTypeSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires url")
		}
		return &mcpsdk.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: buildHTTPClient(cfg),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}
}

// buildHTTPClient creates an http.Client with bearer auth and timeout
// settings from the server config.
func buildHTTPClient(cfg config.MCPServerConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	var rt http.RoundTripper = transport
	if cfg.BearerTokenEnv != "" {
		if token := os.Getenv(cfg.BearerTokenEnv); token != "" {
			rt = &bearerRoundTripper{token: token, next: transport}
		}
	}

	client := &http.Client{Transport: rt}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return client
}

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (b *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(clone)
}
