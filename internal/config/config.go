package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Environment variables that override secrets from the config file.
const (
	EnvAIKey         = "MCP_NEWS_AI_KEY"
	EnvWebhookSecret = "MCP_NEWS_WEBHOOK_SECRET"
)

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

type AnalysisConfig struct {
	ConfidenceThreshold int    `yaml:"confidence_threshold"`
	Lexicon             string `yaml:"lexicon,omitempty"`
}

type AIConfig struct {
	Provider string `yaml:"provider"` // "claude" or "openai"
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

type WebhookConfig struct {
	URL     string `yaml:"url,omitempty"`
	Secret  string `yaml:"secret,omitempty"`
	Mode    string `yaml:"mode"` // "batch" or "item"
	Retries int    `yaml:"retries"`
}

type RateLimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
}

type HistoryConfig struct {
	Retention string `yaml:"retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

type Source struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	AI        *AIConfig       `yaml:"ai,omitempty"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sources   []Source        `yaml:"sources"`
}

// AIEnabled returns true if AI is configured with a resolvable API key.
func (c *Config) AIEnabled() bool {
	return c.AI != nil && c.AIKey() != ""
}

// AIKey returns the resolved API key (config or env var).
func (c *Config) AIKey() string {
	if c.AI != nil && c.AI.APIKey != "" {
		return c.AI.APIKey
	}
	return os.Getenv(EnvAIKey)
}

// WebhookSecret returns the resolved webhook secret (config or env var).
func (c *Config) WebhookSecret() string {
	if c.Webhook.Secret != "" {
		return c.Webhook.Secret
	}
	return os.Getenv(EnvWebhookSecret)
}

func (c *Config) ListenAddr() string {
	if c.Server.Listen == "" {
		return ":8080"
	}
	return c.Server.Listen
}

func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

func (c *Config) Threshold() int {
	if c.Analysis.ConfidenceThreshold <= 0 || c.Analysis.ConfidenceThreshold > 100 {
		return 60
	}
	return c.Analysis.ConfidenceThreshold
}

func (c *Config) RequestsPerHour() int {
	if c.RateLimit.RequestsPerHour <= 0 {
		return 100
	}
	return c.RateLimit.RequestsPerHour
}

func (c *Config) RetentionDuration() time.Duration {
	if c.History.Retention == "" {
		return 90 * 24 * time.Hour
	}
	// Support "Nd" day syntax
	if len(c.History.Retention) > 1 && c.History.Retention[len(c.History.Retention)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(c.History.Retention, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(c.History.Retention)
	if err != nil {
		return 90 * 24 * time.Hour
	}
	return d
}

func (c *Config) EnabledSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) SourceNames() []string {
	var names []string
	for _, s := range c.EnabledSources() {
		names = append(names, s.Name)
	}
	return names
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "mcp-crypto-news", "config.yaml")
}

func HistoryPath() string {
	return filepath.Join(xdg.CacheHome, "mcp-crypto-news", "history.db")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Write defaults to config path on first run
			if err := writeDefaults(path); err != nil {
				// Non-fatal: just use embedded defaults
				return defaults, nil
			}
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	mergeDefaultSources(&cfg, defaults)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

// mergeDefaultSources folds the built-in sources into a user config: sources
// the user already names are refreshed from the defaults, new defaults are
// appended, user-only sources are kept as-is.
func mergeDefaultSources(cfg, defaults *Config) {
	byName := make(map[string]int, len(cfg.Sources))
	for i, s := range cfg.Sources {
		byName[s.Name] = i
	}
	for _, d := range defaults.Sources {
		if i, ok := byName[d.Name]; ok {
			enabled := cfg.Sources[i].Enabled
			cfg.Sources[i] = d
			cfg.Sources[i].Enabled = enabled
			continue
		}
		cfg.Sources = append(cfg.Sources, d)
	}
}

func validate(cfg *Config) error {
	validTypes := map[string]bool{"rss": true, "atom": true}
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if s.URL == "" {
			return fmt.Errorf("source %q: url is required", s.Name)
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("source %q: invalid url: %w", s.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source %q: url scheme must be http or https, got %q", s.Name, u.Scheme)
		}
		if !validTypes[s.Type] {
			return fmt.Errorf("source %q: unknown type %q (valid: rss, atom)", s.Name, s.Type)
		}
	}

	if cfg.AI != nil && cfg.AI.Provider != "" &&
		cfg.AI.Provider != "claude" && cfg.AI.Provider != "openai" {
		return fmt.Errorf("ai provider must be claude or openai, got %q", cfg.AI.Provider)
	}

	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
		}
	}
	if m := cfg.Webhook.Mode; m != "" && m != "batch" && m != "item" {
		return fmt.Errorf("webhook mode must be batch or item, got %q", m)
	}

	return nil
}
