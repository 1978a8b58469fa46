// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser().NetworkIdleWindow)
	assert.Equal(t, 5*time.Second, cfg.Browser().NetworkIdleHardCap)
	assert.Equal(t, 100, cfg.Agent().MaxSteps)
	assert.Equal(t, 5, cfg.Agent().MaxActionsPerStep)
	assert.Equal(t, 3, cfg.Agent().MaxFailures)
	assert.Equal(t, 3, cfg.Agent().PlanningInterval)
	assert.Equal(t, time.Second, cfg.Agent().DropdownWaitTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Agent().DropdownPollInterval)
	assert.Contains(t, cfg.Agent().MutationFilter.IgnoreTags, "SCRIPT")
	assert.Equal(t, "memory", cfg.Tokens().Backend)

	planner, ok := cfg.LLM().Models[cfg.LLM().PlannerModel]
	require.True(t, ok, "planner model must resolve in the default model table")
	assert.Equal(t, ProviderGemini, planner.Provider)
	assert.Equal(t, 90*time.Second, planner.APITimeout)
	assert.True(t, planner.StructuredOutput)

	assert.NoError(t, cfg.Validate(), "defaults must be valid")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero max steps", func(c *Config) { c.AgentCfg.MaxSteps = 0 }, "agent.max_steps"},
		{"zero actions per step", func(c *Config) { c.AgentCfg.MaxActionsPerStep = 0 }, "agent.max_actions_per_step"},
		{"negative failures", func(c *Config) { c.AgentCfg.MaxFailures = -1 }, "agent.max_failures"},
		{"zero planning interval", func(c *Config) { c.AgentCfg.PlanningInterval = 0 }, "agent.planning_interval"},
		{"dropdown timeout below poll", func(c *Config) {
			c.AgentCfg.DropdownWaitTimeout = 10 * time.Millisecond
			c.AgentCfg.DropdownPollInterval = 100 * time.Millisecond
		}, "agent.dropdown_wait_timeout"},
		{"unknown role model", func(c *Config) { c.LLMCfg.NavigatorModel = "missing" }, "unknown model 'missing'"},
		{"unsupported provider", func(c *Config) {
			m := c.LLMCfg.Models["gemini-flash"]
			m.Provider = "carrier-pigeon"
			c.LLMCfg.Models["gemini-flash"] = m
		}, "unsupported provider"},
		{"idle cap shorter than window", func(c *Config) {
			c.BrowserCfg.NetworkIdleHardCap = 100 * time.Millisecond
		}, "network_idle_hard_cap"},
		{"postgres without url", func(c *Config) { c.TokensCfg.Backend = "postgres" }, "tokens.database_url"},
		{"unknown backend", func(c *Config) { c.TokensCfg.Backend = "etcd" }, "tokens.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Loading Tests --

func TestNewConfigFromViper_YAMLOverrides(t *testing.T) {
	yamlConfig := []byte(`
agent:
  max_steps: 12
  max_failures: 2
  use_vision: true
browser:
  headless: false
  network_idle_hard_cap: 8s
llm:
  planner_model: local
  navigator_model: local
  validator_model: local
  models:
    local:
      provider: ollama
      model: qwen2.5
      endpoint: http://127.0.0.1:11434/v1/chat/completions
tokens:
  costs:
    local: 0
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Agent().MaxSteps)
	assert.Equal(t, 2, cfg.Agent().MaxFailures)
	assert.True(t, cfg.Agent().UseVision)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 8*time.Second, cfg.Browser().NetworkIdleHardCap)
	assert.Equal(t, ProviderOllama, cfg.LLM().Models["local"].Provider)
	assert.Equal(t, int64(0), cfg.Tokens().Costs["local"])
}

func TestNewConfigFromViper_APIKeyFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM().Models["gemini-pro"].APIKey)
}

func TestNewConfigFromViper_ExpandsHome(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("logger.log_file", "~/webpilot.log")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.NotContains(t, cfg.Logger().LogFile, "~")
	assert.Contains(t, cfg.Logger().LogFile, "webpilot.log")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetAgentMaxSteps(7)
	cfg.SetAgentUseVision(true)
	cfg.SetBrowserHeadless(false)

	assert.Equal(t, 7, cfg.Agent().MaxSteps)
	assert.True(t, cfg.Agent().UseVision)
	assert.False(t, cfg.Browser().Headless)
}
