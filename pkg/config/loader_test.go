package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o600))
	return dir
}

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ModeBalanced, cfg.Recon.Mode)
	assert.Equal(t, 5, cfg.Recon.MaxWorkers)
	assert.Equal(t, 600*time.Second, cfg.Recon.PhaseTimeout)
	assert.Equal(t, 120*time.Second, cfg.Recon.PassiveTimeout)
	assert.Equal(t, 120*time.Second, cfg.Recon.ToolTimeout)
	assert.Equal(t, float64(40), cfg.Recon.RiskScoreThreshold)
	assert.Equal(t, 3, cfg.Recon.ReflectionMaxIterations)
	assert.Equal(t, 5, cfg.Queue.WorkerCount)
	assert.Equal(t, 30*time.Minute, cfg.Queue.MissionTimeout)
	assert.Equal(t, 90, cfg.Retention.MissionRetentionDays)
	assert.False(t, cfg.Reasoner.Enabled)
	assert.False(t, cfg.Slack.Enabled)
	assert.True(t, cfg.ROE.ActiveProbingAllowed())
}

func TestInitialize_UserValuesOverrideDefaults(t *testing.T) {
	dir := writeConfig(t, `
system:
  dashboard_url: https://recon.example.test
recon:
  mode: stealth
  max_workers: 2
  risk_score_threshold: 60
queue:
  worker_count: 3
  mission_timeout: 45m
roe:
  denied_hosts:
    - cdn.shared.test
tools:
  http_probe:
    rate_per_second: 2
    burst: 4
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "https://recon.example.test", cfg.DashboardURL)
	assert.Equal(t, ModeStealth, cfg.Recon.Mode)
	assert.Equal(t, 2, cfg.Recon.MaxWorkers)
	assert.Equal(t, float64(60), cfg.Recon.RiskScoreThreshold)
	assert.Equal(t, 3, cfg.Queue.WorkerCount)
	assert.Equal(t, 45*time.Minute, cfg.Queue.MissionTimeout)

	// Unset fields keep defaults after the merge.
	assert.Equal(t, 1*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Recon.ToolTimeout)

	probe := cfg.ToolConfigFor("http_probe")
	assert.Equal(t, float64(2), probe.RatePerSecond)
	assert.Equal(t, 4, probe.Burst)
	assert.True(t, probe.IsEnabled())
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("RG_TEST_DASHBOARD", "https://dash.internal.test")
	dir := writeConfig(t, `
system:
  dashboard_url: "{{.RG_TEST_DASHBOARD}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://dash.internal.test", cfg.DashboardURL)
}

func TestInitialize_InvalidModeRejected(t *testing.T) {
	dir := writeConfig(t, `
recon:
  mode: yolo
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestInitialize_InvalidYAMLRejected(t *testing.T) {
	dir := writeConfig(t, "recon: [broken")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_SlackEnabledRequiresChannelAndToken(t *testing.T) {
	dir := writeConfig(t, `
system:
  slack:
    enabled: true
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel")

	t.Setenv("RG_TEST_SLACK_TOKEN", "xoxb-test")
	dir = writeConfig(t, `
system:
  slack:
    enabled: true
    channel: "#recon-alerts"
    token_env: RG_TEST_SLACK_TOKEN
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, cfg.Slack.Enabled)
	assert.Equal(t, "#recon-alerts", cfg.Slack.Channel)
}

func TestInitialize_ReasonerEnabledRequiresBaseURL(t *testing.T) {
	dir := writeConfig(t, `
reasoner:
  enabled: true
  api_key_env: ""
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestROEConfig_HostDenied(t *testing.T) {
	roe := &ROEConfig{DeniedHosts: []string{"cdn.shared.test"}}

	assert.True(t, roe.HostDenied("cdn.shared.test"))
	assert.True(t, roe.HostDenied("edge1.cdn.shared.test"))
	assert.False(t, roe.HostDenied("notcdn.shared.test.example"))
	assert.False(t, roe.HostDenied("sharedcdn.shared.testing"))
	assert.False(t, roe.HostDenied("unrelated.example"))
}

func TestExpandEnv_PreservesLiteralDollar(t *testing.T) {
	out := ExpandEnv([]byte(`pattern: "^secret.*$"`))
	assert.Equal(t, `pattern: "^secret.*$"`, string(out))
}

func TestExpandEnv_MissingVarExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte(`value: "{{.RG_DOES_NOT_EXIST_12345}}"`))
	assert.Equal(t, `value: ""`, string(out))
}

func TestValidMode(t *testing.T) {
	assert.True(t, ValidMode(ModeStealth))
	assert.True(t, ValidMode(ModeBalanced))
	assert.True(t, ValidMode(ModeAggressive))
	assert.False(t, ValidMode(""))
	assert.False(t, ValidMode("turbo"))
}
