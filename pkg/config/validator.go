package config

import (
	"fmt"
	"net/url"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateRecon(); err != nil {
		return fmt.Errorf("recon validation failed: %w", err)
	}

	if err := v.validateROE(); err != nil {
		return fmt.Errorf("roe validation failed: %w", err)
	}

	if err := v.validateTools(); err != nil {
		return fmt.Errorf("tool validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("mcp server validation failed: %w", err)
	}

	if err := v.validateReasoner(); err != nil {
		return fmt.Errorf("reasoner validation failed: %w", err)
	}

	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "queue", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.MaxConcurrentMissions < 1 {
		return NewValidationError("queue", "queue", "max_concurrent_missions", fmt.Errorf("must be at least 1"))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "queue", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.MissionTimeout <= 0 {
		return NewValidationError("queue", "queue", "mission_timeout", fmt.Errorf("must be positive"))
	}
	if q.OrphanThreshold <= q.HeartbeatInterval {
		return NewValidationError("queue", "queue", "orphan_threshold",
			fmt.Errorf("must exceed heartbeat_interval (%s)", q.HeartbeatInterval))
	}
	return nil
}

func (v *ConfigValidator) validateRecon() error {
	r := v.cfg.Recon
	if !ValidMode(r.Mode) {
		return NewValidationError("recon", "recon", "mode", fmt.Errorf("invalid mode: %s", r.Mode))
	}
	if r.MaxWorkers < 1 {
		return NewValidationError("recon", "recon", "max_workers", fmt.Errorf("must be at least 1"))
	}
	if r.PhaseTimeout <= 0 || r.PassiveTimeout <= 0 || r.ToolTimeout <= 0 {
		return NewValidationError("recon", "recon", "phase_timeout", fmt.Errorf("timeouts must be positive"))
	}
	if r.ToolTimeout > r.PhaseTimeout {
		return NewValidationError("recon", "recon", "tool_timeout",
			fmt.Errorf("must not exceed phase_timeout (%s)", r.PhaseTimeout))
	}
	if r.RiskScoreThreshold < 0 || r.RiskScoreThreshold > 100 {
		return NewValidationError("recon", "recon", "risk_score_threshold", fmt.Errorf("must be in [0,100]"))
	}
	if r.MaxHypothesesPerService < 1 {
		return NewValidationError("recon", "recon", "max_hypotheses_per_service", fmt.Errorf("must be at least 1"))
	}
	if r.ReflectionMaxIterations < 0 {
		return NewValidationError("recon", "recon", "reflection_max_iterations", fmt.Errorf("must not be negative"))
	}
	return nil
}

func (v *ConfigValidator) validateROE() error {
	r := v.cfg.ROE
	if r.MaxRequestsPerSecond <= 0 {
		return NewValidationError("roe", "roe", "max_requests_per_second", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateTools() error {
	for name, tool := range v.cfg.Tools {
		if tool.RatePerSecond < 0 {
			return NewValidationError("tool", name, "rate_per_second", fmt.Errorf("must not be negative"))
		}
		if tool.Burst < 0 {
			return NewValidationError("tool", name, "burst", fmt.Errorf("must not be negative"))
		}
		if tool.MaxRetries != nil && *tool.MaxRetries < 0 {
			return NewValidationError("tool", name, "max_retries", fmt.Errorf("must not be negative"))
		}
	}
	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for name, srv := range v.cfg.MCPServers {
		if !ValidTransport(srv.Transport) {
			return NewValidationError("mcp_server", name, "transport",
				fmt.Errorf("unsupported transport: %s", srv.Transport))
		}
		switch srv.Transport {
		case TransportTypeStdio:
			if srv.Command == "" {
				return NewValidationError("mcp_server", name, "command", ErrMissingRequiredField)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if srv.URL == "" {
				return NewValidationError("mcp_server", name, "url", ErrMissingRequiredField)
			}
			if _, err := url.ParseRequestURI(srv.URL); err != nil {
				return NewValidationError("mcp_server", name, "url", fmt.Errorf("%w: %v", ErrInvalidValue, err))
			}
		}
		if srv.BearerTokenEnv != "" && os.Getenv(srv.BearerTokenEnv) == "" {
			return NewValidationError("mcp_server", name, "bearer_token_env",
				fmt.Errorf("environment variable %s is not set", srv.BearerTokenEnv))
		}
	}
	return nil
}

func (v *ConfigValidator) validateReasoner() error {
	r := v.cfg.Reasoner
	if !r.Enabled {
		return nil
	}
	if r.BaseURL == "" {
		return NewValidationError("reasoner", "reasoner", "base_url", ErrMissingRequiredField)
	}
	if _, err := url.ParseRequestURI(r.BaseURL); err != nil {
		return NewValidationError("reasoner", "reasoner", "base_url", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	if r.APIKeyEnv != "" && os.Getenv(r.APIKeyEnv) == "" {
		return NewValidationError("reasoner", "reasoner", "api_key_env",
			fmt.Errorf("environment variable %s is not set", r.APIKeyEnv))
	}
	return nil
}

func (v *ConfigValidator) validateSlack() error {
	s := v.cfg.Slack
	if !s.Enabled {
		return nil
	}
	if s.Channel == "" {
		return NewValidationError("slack", "slack", "channel", ErrMissingRequiredField)
	}
	if os.Getenv(s.TokenEnv) == "" {
		return NewValidationError("slack", "slack", "token_env",
			fmt.Errorf("environment variable %s is not set", s.TokenEnv))
	}
	return nil
}
