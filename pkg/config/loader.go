package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file recongraph loads from the config
// directory.
const ConfigFileName = "recongraph.yaml"

// YAMLConfig represents the complete recongraph.yaml file structure.
type YAMLConfig struct {
	System     *SystemYAMLConfig          `yaml:"system"`
	Queue      *QueueConfig               `yaml:"queue"`
	Recon      *ReconConfig               `yaml:"recon"`
	ROE        *ROEConfig                 `yaml:"roe"`
	Tools      map[string]ToolConfig      `yaml:"tools"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Reasoner   *ReasonerConfig            `yaml:"reasoner"`
	Retention  *RetentionConfig           `yaml:"retention"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DashboardURL     string           `yaml:"dashboard_url"`
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Slack            *SlackYAMLConfig `yaml:"slack"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load recongraph.yaml from configDir (missing file means all defaults)
//  2. Expand environment variables
//  3. Merge user values over built-in defaults
//  4. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"mode", cfg.Recon.Mode,
		"workers", cfg.Queue.WorkerCount,
		"tools_overridden", len(cfg.Tools),
		"reasoner_enabled", cfg.Reasoner.Enabled)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	raw, err := loadYAMLFile(configDir, ConfigFileName)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	queue := DefaultQueueConfig()
	if raw.Queue != nil {
		if err := mergo.Merge(queue, raw.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	recon := DefaultReconConfig()
	if raw.Recon != nil {
		if err := mergo.Merge(recon, raw.Recon, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge recon config: %w", err)
		}
	}

	roe := DefaultROEConfig()
	if raw.ROE != nil {
		if err := mergo.Merge(roe, raw.ROE, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge roe config: %w", err)
		}
	}

	reasoner := DefaultReasonerConfig()
	if raw.Reasoner != nil {
		if err := mergo.Merge(reasoner, raw.Reasoner, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge reasoner config: %w", err)
		}
	}

	retention := resolveRetention(raw.Retention)
	slackCfg := resolveSlack(raw.System)

	tools := raw.Tools
	if tools == nil {
		tools = make(map[string]ToolConfig)
	}

	mcpServers := raw.MCPServers
	if mcpServers == nil {
		mcpServers = make(map[string]MCPServerConfig)
	}

	return &Config{
		configDir:        configDir,
		DashboardURL:     resolveDashboardURL(raw.System),
		AllowedWSOrigins: resolveAllowedWSOrigins(raw.System),
		Queue:            queue,
		Recon:            recon,
		ROE:              roe,
		Tools:            tools,
		MCPServers:       mcpServers,
		Reasoner:         reasoner,
		Slack:            slackCfg,
		Retention:        retention,
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

// loadYAMLFile reads and parses one config file. A missing file yields an
// empty config so a fresh deployment runs entirely on defaults.
func loadYAMLFile(configDir, filename string) (*YAMLConfig, error) {
	var cfg YAMLConfig
	cfg.Tools = make(map[string]ToolConfig)

	path := filepath.Join(configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file not found, using defaults", "path", path)
			return &cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}

// resolveSlack resolves Slack configuration from system YAML, applying defaults.
func resolveSlack(sys *SystemYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}

// resolveRetention resolves retention configuration, applying defaults.
func resolveRetention(r *RetentionConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()
	if r == nil {
		return cfg
	}
	if r.MissionRetentionDays > 0 {
		cfg.MissionRetentionDays = r.MissionRetentionDays
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}
	return cfg
}

// resolveDashboardURL resolves the dashboard base URL, applying defaults.
func resolveDashboardURL(sys *SystemYAMLConfig) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
