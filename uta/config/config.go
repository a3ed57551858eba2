package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	internal "github.com/ZanzyTHEbar/tester-agent/uta"
)

// Config stores all configuration of the harness.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Harness HarnessConfig `mapstructure:"harness"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Judge   JudgeConfig   `mapstructure:"judge"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Store   StoreConfig   `mapstructure:"store"`
	Seed    SeedConfig    `mapstructure:"seed"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarnessConfig stores orchestration and adapter plumbing settings.
type HarnessConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`     // Conversations run in parallel by a batch
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"` // Deadline for one agent reply

	// Judge response cache
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheCapacity   int  `mapstructure:"cache_capacity"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`

	// Rate limiting of external calls
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	EnableTracing bool `mapstructure:"enable_tracing"` // Structured span logging
}

// BudgetConfig stores the default per-conversation limits.
type BudgetConfig struct {
	MaxTurns        int     `mapstructure:"max_turns"`
	MaxLatencyMsAvg float64 `mapstructure:"max_latency_ms_avg"`
	MaxCostUSD      float64 `mapstructure:"max_cost_usd"`
}

// JudgeConfig stores scoring settings.
type JudgeConfig struct {
	Mode            string         `mapstructure:"mode"` // "heuristic", "llm", "hybrid"
	WeightLLM       float64        `mapstructure:"weight_llm"`
	WeightHeuristic float64        `mapstructure:"weight_heuristic"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	Provider        ProviderConfig `mapstructure:"provider"`
}

// ProviderConfig stores an OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Retry       RetrySettings `mapstructure:"retry"`
}

// RetrySettings mirrors the provider retry policy.
type RetrySettings struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// AgentConfig selects and configures the agent under test.
type AgentConfig struct {
	Kind            string         `mapstructure:"kind"` // "http" or "mock"
	SystemPrompt    string         `mapstructure:"system_prompt"`
	CostPer1KTokens float64        `mapstructure:"cost_per_1k_tokens"`
	Provider        ProviderConfig `mapstructure:"provider"`
	Mock            MockConfig     `mapstructure:"mock"`
}

// MockConfig points the fixture-driven agent at its data.
type MockConfig struct {
	FixturesDir   string `mapstructure:"fixtures_dir"`
	DebtorID      string `mapstructure:"debtor_id"`
	PolicyProfile string `mapstructure:"policy_profile"`
}

// StoreConfig stores result persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	Path    string `mapstructure:"path"`
}

// SeedConfig stores the master seed. Nil means draw one from entropy.
type SeedConfig struct {
	Master *int64 `mapstructure:"master"`
}

// MetricsConfig stores Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "console" or "json"
}

// LoadConfig reads configuration from file or environment variables.
// Environment variables use the UTA_ prefix, e.g. UTA_JUDGE_MODE.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	// AutomaticEnv only reaches keys viper already knows, and the master seed
	// has no default.
	if raw := v.GetString("seed.master"); raw != "" && cfg.Seed.Master == nil {
		seed := v.GetInt64("seed.master")
		cfg.Seed.Master = &seed
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Harness defaults
	v.SetDefault("harness.concurrency", 4)
	v.SetDefault("harness.adapter_timeout", "30s")
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 1000)
	v.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_tracing", false)

	// Budget defaults
	v.SetDefault("budget.max_turns", 10)
	v.SetDefault("budget.max_latency_ms_avg", 5000)
	v.SetDefault("budget.max_cost_usd", 0.10)

	// Judge defaults
	v.SetDefault("judge.mode", "heuristic")
	v.SetDefault("judge.weight_llm", 0.7)
	v.SetDefault("judge.weight_heuristic", 0.3)
	v.SetDefault("judge.timeout", "30s")
	v.SetDefault("judge.provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("judge.provider.api_key", "")
	v.SetDefault("judge.provider.model", "gpt-3.5-turbo")
	v.SetDefault("judge.provider.temperature", 0.1)
	v.SetDefault("judge.provider.max_tokens", 1000)
	setRetryDefaults(v, "judge.provider.retry")

	// Agent defaults
	v.SetDefault("agent.kind", "http")
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.cost_per_1k_tokens", 0)
	v.SetDefault("agent.provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("agent.provider.api_key", "")
	v.SetDefault("agent.provider.model", "gpt-3.5-turbo")
	v.SetDefault("agent.provider.temperature", 0.7)
	v.SetDefault("agent.provider.max_tokens", 1000)
	setRetryDefaults(v, "agent.provider.retry")
	v.SetDefault("agent.mock.fixtures_dir", "fixtures")
	v.SetDefault("agent.mock.debtor_id", "")
	v.SetDefault("agent.mock.policy_profile", "default")

	// Store defaults (embedded libsql)
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.type", internal.DefaultDatabaseType)
	v.SetDefault("store.path", internal.DefaultDatabaseDSN)

	// Observability defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", internal.DefaultMetricsPrefix)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func setRetryDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".max_attempts", 3)
	v.SetDefault(prefix+".backoff_base", "2s")
	v.SetDefault(prefix+".backoff_multiplier", 2.0)
	v.SetDefault(prefix+".max_backoff", "30s")
}
