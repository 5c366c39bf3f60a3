package config

// Config is the fully resolved runtime configuration. Built by Initialize;
// treated as read-only afterwards.
type Config struct {
	configDir string

	// DashboardURL is the base URL of the operator dashboard, used in
	// notification links.
	DashboardURL string

	// AllowedWSOrigins are additional WebSocket origin patterns accepted on
	// top of DashboardURL.
	AllowedWSOrigins []string

	Queue      *QueueConfig
	Recon      *ReconConfig
	ROE        *ROEConfig
	Tools      map[string]ToolConfig
	MCPServers map[string]MCPServerConfig
	Reasoner   *ReasonerConfig
	Slack      *SlackConfig
	Retention  *RetentionConfig
}

// SlackConfig holds resolved Slack notification settings.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string
	Channel  string
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ToolConfigFor returns the per-tool overrides for name, zero value if none.
func (c *Config) ToolConfigFor(name string) ToolConfig {
	if c.Tools == nil {
		return ToolConfig{}
	}
	return c.Tools[name]
}
