package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// DefaultExportLimit caps the journal rows returned by one export request.
const DefaultExportLimit = 10_000

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for stakingd.
type Config struct {
	ListenAddress     string          `yaml:"listen"`
	Environment       string          `yaml:"environment"`
	PoolConfigPath    string          `yaml:"pool_config"`
	DataDir           string          `yaml:"data_dir"`
	JournalPath       string          `yaml:"journal"`
	Auth              AuthConfig      `yaml:"auth"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Prices            PriceConfig     `yaml:"prices"`
	Logging           LoggingConfig   `yaml:"logging"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
	Webhook           WebhookConfig   `yaml:"webhook"`
	Genesis           []Allocation    `yaml:"genesis"`
	CORSOrigins       []string        `yaml:"cors_origins"`
	InvariantInterval Duration        `yaml:"invariant_interval"`
	ShutdownTimeout   Duration        `yaml:"shutdown_timeout"`
	ExportLimit       int             `yaml:"export_limit"`
	// FaucetAmount enables POST /v1/faucet in dev deployments. Each call mints
	// this much stake asset to the caller.
	FaucetAmount      string          `yaml:"faucet_amount"`
}

// AuthConfig controls bearer token validation.
type AuthConfig struct {
	Enabled       bool     `yaml:"enabled"`
	HMACSecret    string   `yaml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	ClockSkew     Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	WriteTokens       int     `yaml:"write_tokens"`
}

// PriceConfig supplies the asset prices used for APY. Empty values mean
// both assets are valued equally.
type PriceConfig struct {
	Reward string `yaml:"reward"`
	Stake  string `yaml:"stake"`
}

// LoggingConfig tunes structured logging and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig points the OTLP exporters at a collector.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`
	// SampleRatio is the fraction of root spans recorded. Zero records all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// WebhookConfig forwards pool events to an external endpoint. An empty URL
// disables delivery.
type WebhookConfig struct {
	URL         string   `yaml:"url"`
	Secret      string   `yaml:"secret"`
	SecretEnv   string   `yaml:"secret_env"`
	MaxAttempts int      `yaml:"max_attempts"`
	MinBackoff  Duration `yaml:"min_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// Allocation credits a ledger balance when the data directory is first
// initialised.
type Allocation struct {
	Address string `yaml:"address"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	cfg.PoolConfigPath = strings.TrimSpace(cfg.PoolConfigPath)
	if cfg.PoolConfigPath == "" {
		cfg.PoolConfigPath = "pool.toml"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./stakepool-data"
	}
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	if cfg.JournalPath == "" {
		cfg.JournalPath = strings.TrimRight(cfg.DataDir, "/") + "/journal.db"
	}
	if secretEnv := strings.TrimSpace(cfg.Auth.HMACSecretEnv); secretEnv != "" && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(os.Getenv(secretEnv))
	}
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	if secretEnv := strings.TrimSpace(cfg.Webhook.SecretEnv); secretEnv != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		cfg.Webhook.Secret = strings.TrimSpace(os.Getenv(secretEnv))
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.WriteTokens <= 0 {
		cfg.RateLimit.WriteTokens = 2
	}
	if cfg.InvariantInterval.Duration <= 0 {
		cfg.InvariantInterval.Duration = time.Minute
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = DefaultExportLimit
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	cfg.FaucetAmount = strings.TrimSpace(cfg.FaucetAmount)
	for i := range cfg.Genesis {
		cfg.Genesis[i].Address = strings.TrimSpace(cfg.Genesis[i].Address)
		cfg.Genesis[i].Asset = strings.ToUpper(strings.TrimSpace(cfg.Genesis[i].Asset))
		cfg.Genesis[i].Amount = strings.TrimSpace(cfg.Genesis[i].Amount)
	}
}

func validate(cfg Config) error {
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return errors.New("auth.hmac_secret (or hmac_secret_env) required when auth is enabled")
	}
	if !cfg.Auth.Enabled && !strings.EqualFold(strings.TrimSpace(cfg.Environment), "dev") {
		return errors.New("auth may only be disabled when environment is dev")
	}
	if cfg.Webhook.URL != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return errors.New("webhook.secret (or secret_env) required when webhook.url is set")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	for _, price := range []string{cfg.Prices.Reward, cfg.Prices.Stake} {
		if strings.TrimSpace(price) == "" {
			continue
		}
		if _, err := ParseAmount(price); err != nil {
			return fmt.Errorf("prices: %w", err)
		}
	}
	if cfg.FaucetAmount != "" {
		if !strings.EqualFold(strings.TrimSpace(cfg.Environment), "dev") {
			return errors.New("faucet_amount may only be set when environment is dev")
		}
		amount, err := ParseAmount(cfg.FaucetAmount)
		if err != nil {
			return fmt.Errorf("faucet_amount: %w", err)
		}
		if amount.Sign() == 0 {
			return errors.New("faucet_amount must be positive")
		}
	}
	for i, alloc := range cfg.Genesis {
		if !common.IsHexAddress(alloc.Address) {
			return fmt.Errorf("genesis[%d]: invalid address %q", i, alloc.Address)
		}
		if alloc.Asset == "" {
			return fmt.Errorf("genesis[%d]: asset required", i)
		}
		if _, err := ParseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return nil
}
