package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

// Config holds all configuration for spinloop
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	DefaultProvider string                 `mapstructure:"default_provider"`
	Providers       map[string]LLMProvider `mapstructure:"providers"`
	Embedding       EmbeddingConfig        `mapstructure:"embedding"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai or gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig selects the provider used to embed approved documents.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

func (l LLMConfig) Validate() error {
	for name, p := range l.Providers {
		switch p.Type {
		case "openai", "gemini":
		default:
			return fmt.Errorf("llm.providers.%s.type must be openai or gemini, got %q", name, p.Type)
		}
	}
	if _, ok := l.Providers[l.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q is not configured", l.DefaultProvider)
	}
	if l.Embedding.Provider != "" {
		if _, ok := l.Providers[l.Embedding.Provider]; !ok {
			return fmt.Errorf("llm.embedding.provider %q is not configured", l.Embedding.Provider)
		}
	}
	return nil
}

// ScraperConfig controls page rendering and extraction.
type ScraperConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	ContentSelector string            `mapstructure:"content_selector"`
	MaxChars        int               `mapstructure:"max_chars"`
	UserAgent       string            `mapstructure:"user_agent"`
	Screenshot      bool              `mapstructure:"screenshot"`
	CrawlPolicy     CrawlPolicyConfig `mapstructure:"crawl_policy"`
}

// RetrievalConfig configures the query-expansion bandit.
type RetrievalConfig struct {
	Actions        []string `mapstructure:"actions"`
	Epsilon        float64  `mapstructure:"epsilon"`
	LearningRate   float64  `mapstructure:"learning_rate"`
	Alpha          float64  `mapstructure:"alpha"`
	Seed           int64    `mapstructure:"seed"` // 0 seeds from the clock
	Collection     string   `mapstructure:"collection"`
	DefaultResults int      `mapstructure:"default_results"`
}

// Normalize trims action labels and drops empty ones.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	var actions []string
	for _, a := range r.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	r.Actions = actions
	return r
}

func (r RetrievalConfig) Validate() error {
	if len(r.Actions) == 0 {
		return fmt.Errorf("retrieval.actions must not be empty")
	}
	seen := make(map[string]struct{}, len(r.Actions))
	for _, a := range r.Actions {
		if _, ok := seen[a]; ok {
			return fmt.Errorf("retrieval.actions contains %q twice", a)
		}
		seen[a] = struct{}{}
	}
	if r.Epsilon < 0 || r.Epsilon > 1 {
		return fmt.Errorf("retrieval.epsilon must be within [0,1]")
	}
	if r.DefaultResults <= 0 {
		return fmt.Errorf("retrieval.default_results must be > 0")
	}
	return nil
}

// PolicyConfig selects where the bandit snapshot lives.
type PolicyConfig struct {
	Backend string `mapstructure:"backend"` // file or sqlite
	Path    string `mapstructure:"path"`
	Keep    int    `mapstructure:"keep"` // sqlite versions retained
}

func (p PolicyConfig) Validate() error {
	switch p.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("policy.backend must be file or sqlite, got %q", p.Backend)
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("policy.path required")
	}
	return nil
}

// WorkflowConfig controls where rewrite threads are kept.
type WorkflowConfig struct {
	ThreadStore string        `mapstructure:"thread_store"` // memory or redis
	ThreadTTL   time.Duration `mapstructure:"thread_ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis         RedisConfig    `mapstructure:"redis"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
	MigrationsDir string         `mapstructure:"migrations_dir"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether any connection detail is set. Without
// Postgres the CLI runs on in-memory stores.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Configured() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 2*time.Minute)

	v.SetDefault("llm.default_provider", "groq")
	v.SetDefault("llm.providers", map[string]interface{}{
		"gemini": map[string]interface{}{
			"type": "gemini", "api_key": "", "model": "gemini-1.5-flash-latest",
			"temperature": 0.7, "timeout": "2m",
		},
		"groq": map[string]interface{}{
			"type": "openai", "api_key": "", "base_url": "https://api.groq.com/openai/v1",
			"model": "llama3-8b-8192", "temperature": 0.7, "timeout": "2m",
		},
		"cerebras": map[string]interface{}{
			"type": "openai", "api_key": "", "base_url": "https://api.cerebras.ai/v1",
			"model": "llama-4-scout-17b-16e-instruct", "temperature": 0.7, "timeout": "2m",
		},
	})
	v.SetDefault("llm.embedding.provider", "")
	v.SetDefault("llm.embedding.model", "")

	v.SetDefault("scraper.timeout", time.Minute)
	v.SetDefault("scraper.content_selector", ".mw-parser-output")
	v.SetDefault("scraper.max_chars", 0)
	v.SetDefault("scraper.screenshot", true)

	v.SetDefault("retrieval.actions", []string{"summary", "characters", "style", "setting", "plot"})
	v.SetDefault("retrieval.epsilon", bandit.DefaultEpsilon)
	v.SetDefault("retrieval.learning_rate", bandit.DefaultLearningRate)
	v.SetDefault("retrieval.alpha", bandit.DefaultAlpha)
	v.SetDefault("retrieval.seed", 0)
	v.SetDefault("retrieval.collection", "approved_versions")
	v.SetDefault("retrieval.default_results", 5)

	v.SetDefault("policy.backend", "file")
	v.SetDefault("policy.path", "rl_policy.json")
	v.SetDefault("policy.keep", 20)

	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 10*time.Second)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.migrations_dir", "file://migrations")

	v.SetDefault("workflow.thread_store", "memory")
	v.SetDefault("workflow.thread_ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
}

// LoadConfig reads config from path, or from the first config.{json,yaml}
// found in the usual locations when path is empty. A missing file is only
// an error when path is given. SPINLOOP_* environment variables override
// file values; the provider API keys also honour GEMINI_API_KEY,
// GROQ_API_KEY and CEREBRAS_API_KEY.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SPINLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"gemini", "groq", "cerebras"} {
		key := "llm.providers." + name + ".api_key"
		envName := "SPINLOOP_LLM_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY"
		if err := v.BindEnv(key, envName, strings.ToUpper(name)+"_API_KEY"); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("storage.postgres.url", "SPINLOOP_STORAGE_POSTGRES_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Retrieval = cfg.Retrieval.Normalize()
	cfg.Scraper.CrawlPolicy = cfg.Scraper.CrawlPolicy.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Scraper.CrawlPolicy.Validate(); err != nil {
		return err
	}
	switch c.Workflow.ThreadStore {
	case "memory":
	case "redis":
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("workflow.thread_store must be memory or redis, got %q", c.Workflow.ThreadStore)
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}
