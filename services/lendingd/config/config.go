package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = ":8453"
	defaultDataDir     = "data/lendingd"
	defaultClockSkew   = 30 * time.Second
	defaultPerMinute   = 120
	defaultBurst       = 20
	defaultAuditDriver = "sqlite"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	GenesisPath   string          `yaml:"genesis"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Audit         AuditConfig     `yaml:"audit"`
	Webhook       WebhookConfig   `yaml:"webhook"`
	Log           LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification. Tokens are HMAC signed JWTs
// whose subject is the caller's bech32 address.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTSecretEnv string        `yaml:"jwt_secret_env"`
	Issuer       string        `yaml:"issuer"`
	Audience     []string      `yaml:"audience"`
	ClockSkew    time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
	Disabled  bool `yaml:"disabled"`
}

// AuditConfig selects the relational store backing the audit chain.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WebhookConfig enables outbound event delivery. An empty endpoint disables it.
type WebhookConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Secret   string   `yaml:"secret"`
	Topics   []string `yaml:"topics"`
}

// LogConfig mirrors logging.FileConfig.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.RateLimit.normalize()
	cfg.Audit.normalize()
	cfg.Webhook.normalize()
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := cfg.Audit.validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := cfg.Webhook.validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWTSecretEnv = strings.TrimSpace(cfg.JWTSecretEnv)
	if cfg.JWTSecret == "" && cfg.JWTSecretEnv != "" {
		cfg.JWTSecret = os.Getenv(cfg.JWTSecretEnv)
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	audience := make([]string, 0, len(cfg.Audience))
	for _, aud := range cfg.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	cfg.Audience = audience
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = defaultClockSkew
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.JWTSecret == "" {
		if cfg.JWTSecretEnv != "" {
			return fmt.Errorf("environment variable %s is empty", cfg.JWTSecretEnv)
		}
		return fmt.Errorf("jwt_secret or jwt_secret_env must be configured")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg.ClockSkew < 0 {
		return fmt.Errorf("clock_skew must not be negative")
	}
	return nil
}

func (cfg *RateLimitConfig) normalize() {
	if cfg == nil || cfg.Disabled {
		return
	}
	if cfg.PerMinute == 0 {
		cfg.PerMinute = defaultPerMinute
	}
	if cfg.Burst == 0 {
		cfg.Burst = defaultBurst
	}
}

func (cfg RateLimitConfig) validate() error {
	if cfg.Disabled {
		return nil
	}
	if cfg.PerMinute < 0 || cfg.Burst < 0 {
		return fmt.Errorf("per_minute and burst must be positive")
	}
	return nil
}

func (cfg *AuditConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = defaultAuditDriver
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
}

func (cfg AuditConfig) validate() error {
	switch cfg.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if cfg.DSN == "" {
			return fmt.Errorf("dsn is required for postgres")
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func (cfg *WebhookConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	topics := make([]string, 0, len(cfg.Topics))
	for _, topic := range cfg.Topics {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	cfg.Topics = topics
}

func (cfg WebhookConfig) validate() error {
	if cfg.Endpoint == "" {
		return nil
	}
	if cfg.Secret == "" {
		return fmt.Errorf("secret is required when endpoint is set")
	}
	return nil
}

// Enabled reports whether outbound webhooks are configured.
func (cfg WebhookConfig) Enabled() bool { return cfg.Endpoint != "" }
