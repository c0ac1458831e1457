// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

// DefaultTokenTTL is the lifetime of minted API tokens when auth.token_ttl is unset.
const DefaultTokenTTL = 24 * time.Hour

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"` // lifetime of tokens minted by tokenctl
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables redis (in-process rate limiting, no session cache)
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	Provider        string `yaml:"provider"` // openai|gemini|noop
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	GeminiModel     string `yaml:"gemini_model"`     // used for non-gemini session models
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	SystemPrompt    string `yaml:"system_prompt"`
}

type TokensConfig struct {
	Tokenizer    string `yaml:"tokenizer"` // tiktoken|estimate
	CacheDir     string `yaml:"cache_dir"` // tiktoken BPE cache
	DefaultModel string `yaml:"default_model"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"` // per identity per window
	Window   time.Duration `yaml:"window"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 16/24/32 bytes; empty stores message content in plaintext
}

type RetentionConfig struct {
	FinishedTTL time.Duration `yaml:"finished_ttl"` // finished sessions older than this are purged; 0 keeps them
	Interval    time.Duration `yaml:"interval"`     // housekeeping period
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Tokens    TokensConfig    `yaml:"tokens"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Security  SecurityConfig  `yaml:"security"`
	Retention RetentionConfig `yaml:"retention"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates it.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.GeminiModel == "" {
		cfg.AI.GeminiModel = "gemini-2.0-flash"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.Tokens.Tokenizer == "" {
		cfg.Tokens.Tokenizer = "tiktoken"
	}
	if cfg.Tokens.DefaultModel == "" {
		cfg.Tokens.DefaultModel = "gpt-4o"
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = 10 * time.Minute
	}
}

// Minimal validation
func (cfg *Config) validate() error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIKey == "" {
			return errors.New("ai.openai_key is required for provider openai")
		}
	case "gemini":
		if cfg.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key is required for provider gemini")
		}
	case "noop":
		if !cfg.Runtime.Dev {
			return errors.New("ai.provider noop is only allowed with -dev")
		}
	default:
		return fmt.Errorf("ai.provider %q not supported", cfg.AI.Provider)
	}
	switch cfg.Tokens.Tokenizer {
	case "tiktoken", "estimate":
	default:
		return fmt.Errorf("tokens.tokenizer %q not supported", cfg.Tokens.Tokenizer)
	}
	switch len(cfg.Security.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return errors.New("security.encryption_key must be 16, 24, or 32 bytes")
	}
	if cfg.Retention.FinishedTTL < 0 {
		return errors.New("retention.finished_ttl must not be negative")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
