// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Tokens() TokensConfig
	Metrics() MetricsConfig

	// Agent Setters
	SetAgentMaxSteps(int)
	SetAgentUseVision(bool)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	AgentCfg   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLMCfg     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	TokensCfg  TokensConfig  `mapstructure:"tokens" yaml:"tokens"`
	MetricsCfg MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig     { return c.AgentCfg }
func (c *Config) LLM() LLMConfig         { return c.LLMCfg }
func (c *Config) Tokens() TokensConfig   { return c.TokensCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxSteps(n int)    { c.AgentCfg.MaxSteps = n }
func (c *Config) SetAgentUseVision(b bool)  { c.AgentCfg.UseVision = b }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chrome instance and page-level waits.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU   bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// MinPageLoadWait is always waited after a navigation, even on an idle network.
	MinPageLoadWait time.Duration `mapstructure:"min_page_load_wait" yaml:"min_page_load_wait"`
	// NetworkIdleWindow is the quiet period that counts as idle.
	NetworkIdleWindow time.Duration `mapstructure:"network_idle_window" yaml:"network_idle_window"`
	// NetworkIdleHardCap bounds the whole idle wait; streaming pages never go quiet.
	NetworkIdleHardCap time.Duration `mapstructure:"network_idle_hard_cap" yaml:"network_idle_hard_cap"`

	SnapshotRetries    int           `mapstructure:"snapshot_retries" yaml:"snapshot_retries"`
	SnapshotRetryDelay time.Duration `mapstructure:"snapshot_retry_delay" yaml:"snapshot_retry_delay"`
	// ViewportExpansion is how many pixels beyond the viewport still count as visible. -1 means all.
	ViewportExpansion int `mapstructure:"viewport_expansion" yaml:"viewport_expansion"`
}

// MutationFilterConfig decides which DOM changes observed during an action are worth reporting.
type MutationFilterConfig struct {
	MinTextLength  int      `mapstructure:"min_text_length" yaml:"min_text_length"`
	IgnoreTags     []string `mapstructure:"ignore_tags" yaml:"ignore_tags"`
	RequireVisible bool     `mapstructure:"require_visible" yaml:"require_visible"`
}

// AgentConfig holds the limits and switches of the planner/navigator/validator loop.
type AgentConfig struct {
	MaxSteps            int  `mapstructure:"max_steps" yaml:"max_steps"`
	MaxActionsPerStep   int  `mapstructure:"max_actions_per_step" yaml:"max_actions_per_step"`
	MaxFailures         int  `mapstructure:"max_failures" yaml:"max_failures"`
	PlanningInterval    int  `mapstructure:"planning_interval" yaml:"planning_interval"`
	UseVision           bool `mapstructure:"use_vision" yaml:"use_vision"`
	UseVisionForPlanner bool `mapstructure:"use_vision_for_planner" yaml:"use_vision_for_planner"`
	MaxInputTokens      int  `mapstructure:"max_input_tokens" yaml:"max_input_tokens"`
	// Language forces the response language. Empty means detect from the task.
	Language string `mapstructure:"language" yaml:"language"`

	DropdownWaitTimeout  time.Duration        `mapstructure:"dropdown_wait_timeout" yaml:"dropdown_wait_timeout"`
	DropdownPollInterval time.Duration        `mapstructure:"dropdown_poll_interval" yaml:"dropdown_poll_interval"`
	MutationFilter       MutationFilterConfig `mapstructure:"mutation_filter" yaml:"mutation_filter"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMConfig maps each agent role to an entry of the model table.
type LLMConfig struct {
	PlannerModel   string                    `mapstructure:"planner_model" yaml:"planner_model"`
	NavigatorModel string                    `mapstructure:"navigator_model" yaml:"navigator_model"`
	ValidatorModel string                    `mapstructure:"validator_model" yaml:"validator_model"`
	Models         map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// StructuredOutput requests schema-constrained output from providers that support it.
	StructuredOutput  bool    `mapstructure:"structured_output" yaml:"structured_output"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// TokensConfig configures the token ledger.
type TokensConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Budget      int64  `mapstructure:"budget" yaml:"budget"`
	DefaultCost int64  `mapstructure:"default_cost" yaml:"default_cost"`
	// Costs is keyed by the llm.models entry name, not the provider model id.
	Costs       map[string]int64 `mapstructure:"costs" yaml:"costs"`
	DatabaseURL string           `mapstructure:"database_url" yaml:"database_url"`
	Account     string           `mapstructure:"account" yaml:"account"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 1100)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.min_page_load_wait", "250ms")
	v.SetDefault("browser.network_idle_window", "500ms")
	v.SetDefault("browser.network_idle_hard_cap", "5s")
	v.SetDefault("browser.snapshot_retries", 3)
	v.SetDefault("browser.snapshot_retry_delay", "300ms")
	v.SetDefault("browser.viewport_expansion", 0)

	// -- Agent --
	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.max_actions_per_step", 5)
	v.SetDefault("agent.max_failures", 3)
	v.SetDefault("agent.planning_interval", 3)
	v.SetDefault("agent.use_vision", false)
	v.SetDefault("agent.use_vision_for_planner", false)
	v.SetDefault("agent.max_input_tokens", 128000)
	v.SetDefault("agent.language", "")
	v.SetDefault("agent.dropdown_wait_timeout", "1s")
	v.SetDefault("agent.dropdown_poll_interval", "100ms")
	v.SetDefault("agent.mutation_filter.min_text_length", 1)
	v.SetDefault("agent.mutation_filter.require_visible", true)
	v.SetDefault("agent.mutation_filter.ignore_tags",
		[]string{"SCRIPT", "STYLE", "LINK", "META", "NOSCRIPT", "SVG", "PATH"})

	// -- LLM --
	v.SetDefault("llm.planner_model", "gemini-pro")
	v.SetDefault("llm.navigator_model", "gemini-flash")
	v.SetDefault("llm.validator_model", "gemini-flash")
	v.SetDefault("llm.models", map[string]interface{}{
		"gemini-pro": map[string]interface{}{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-pro",
			"api_timeout":         "90s",
			"temperature":         0.2,
			"structured_output":   true,
			"requests_per_minute": 30,
		},
		"gemini-flash": map[string]interface{}{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-flash",
			"api_timeout":         "60s",
			"temperature":         0.1,
			"structured_output":   true,
			"requests_per_minute": 60,
		},
	})

	// -- Tokens --
	v.SetDefault("tokens.backend", "memory")
	v.SetDefault("tokens.budget", 1_000_000)
	v.SetDefault("tokens.default_cost", 1)
	v.SetDefault("tokens.account", "default")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
}

// NewConfigFromViper unmarshals and validates a configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("tokens.database_url", "WEBPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys fall back to the conventional provider variables.
	for name, m := range cfg.LLMCfg.Models {
		if m.APIKey == "" {
			m.APIKey = apiKeyFromEnv(m.Provider)
			cfg.LLMCfg.Models[name] = m
		}
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}
	if cfg.BrowserCfg.ExecPath != "" {
		expanded, err := homedir.Expand(cfg.BrowserCfg.ExecPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand browser.exec_path: %w", err)
		}
		cfg.BrowserCfg.ExecPath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func apiKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderGemini:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.BrowserCfg.NetworkIdleHardCap < c.BrowserCfg.NetworkIdleWindow {
		return fmt.Errorf("browser.network_idle_hard_cap must not be shorter than browser.network_idle_window")
	}
	if c.BrowserCfg.SnapshotRetries < 1 {
		return fmt.Errorf("browser.snapshot_retries must be at least 1")
	}
	switch c.TokensCfg.Backend {
	case "memory":
	case "postgres":
		if c.TokensCfg.DatabaseURL == "" {
			return fmt.Errorf("tokens.database_url is required for the postgres backend (hint: check WEBPILOT_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("tokens.backend must be one of [memory, postgres], got '%s'", c.TokensCfg.Backend)
	}
	return nil
}

// Validate checks the loop limits.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if a.MaxActionsPerStep <= 0 {
		return fmt.Errorf("agent.max_actions_per_step must be a positive integer")
	}
	if a.MaxFailures <= 0 {
		return fmt.Errorf("agent.max_failures must be a positive integer")
	}
	if a.PlanningInterval <= 0 {
		return fmt.Errorf("agent.planning_interval must be a positive integer")
	}
	if a.DropdownPollInterval <= 0 || a.DropdownWaitTimeout < a.DropdownPollInterval {
		return fmt.Errorf("agent.dropdown_wait_timeout must be at least one agent.dropdown_poll_interval")
	}
	return nil
}

// Validate checks that every role references a known model with a supported provider.
func (l *LLMConfig) Validate() error {
	roles := map[string]string{
		"planner_model":   l.PlannerModel,
		"navigator_model": l.NavigatorModel,
		"validator_model": l.ValidatorModel,
	}
	for role, name := range roles {
		m, ok := l.Models[name]
		if !ok {
			return fmt.Errorf("llm.%s references unknown model '%s'", role, name)
		}
		switch m.Provider {
		case ProviderGemini, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("llm.models.%s has unsupported provider '%s'. Supported: [%s]", name, m.Provider,
				strings.Join([]string{string(ProviderGemini), string(ProviderOpenAI), string(ProviderOllama)}, ", "))
		}
	}
	return nil
}
