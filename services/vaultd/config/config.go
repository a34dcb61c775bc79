package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

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

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	StateDir      string          `yaml:"state_dir"`
	AuditDatabase string          `yaml:"audit_database"`
	LedgerConfig  string          `yaml:"ledger_config"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Sources       []Source        `yaml:"sources"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	TLS           TLSConfig       `yaml:"tls"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// OracleConfig tunes the price feeder loop.
type OracleConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Account  string   `yaml:"account"`
	Base     string   `yaml:"base"`
	Quote    string   `yaml:"quote"`
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
	Price    string            `yaml:"price"`
}

// AuthConfig maps bearer tokens to the ledger accounts they act as.
type AuthConfig struct {
	Tokens         []Token `yaml:"tokens"`
	AnonymousReads bool    `yaml:"anonymous_reads"`
}

// Token binds a bearer credential to an account.
type Token struct {
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
}

// RateLimitConfig throttles requests per authenticated account.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps"`
	Burst             int     `yaml:"burst"`
}

// TLSConfig enables HTTPS when both paths are set.
type TLSConfig struct {
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
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
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML from raw and applies defaults and validation.
func Parse(raw string) (Config, error) {
	cfg := Config{}
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "/var/data/vaultd/state"
	}
	if cfg.AuditDatabase == "" {
		cfg.AuditDatabase = "/var/data/vaultd/audit.sqlite"
	}
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = "config/ledger.toml"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = time.Minute
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 5 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Oracle.Base == "" {
		cfg.Oracle.Base = "EUI"
	}
	if cfg.Oracle.Quote == "" {
		cfg.Oracle.Quote = "EUD"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks cross-field constraints.
func Validate(cfg Config) error {
	if cfg.Oracle.Enabled {
		if !common.IsHexAddress(strings.TrimSpace(cfg.Oracle.Account)) {
			return fmt.Errorf("oracle.account must be a hex address when the feeder is enabled")
		}
		if len(cfg.Sources) == 0 {
			return fmt.Errorf("at least one oracle source must be configured")
		}
		if cfg.Oracle.MinFeeds > len(cfg.Sources) {
			return fmt.Errorf("oracle.min_feeds %d exceeds %d configured sources", cfg.Oracle.MinFeeds, len(cfg.Sources))
		}
	}
	seen := make(map[string]struct{}, len(cfg.Auth.Tokens))
	for i, tok := range cfg.Auth.Tokens {
		secret := strings.TrimSpace(tok.Token)
		if secret == "" {
			return fmt.Errorf("auth.tokens[%d]: token must not be empty", i)
		}
		if _, dup := seen[secret]; dup {
			return fmt.Errorf("auth.tokens[%d]: duplicate token", i)
		}
		seen[secret] = struct{}{}
		if !common.IsHexAddress(strings.TrimSpace(tok.Account)) {
			return fmt.Errorf("auth.tokens[%d]: account %q is not a hex address", i, tok.Account)
		}
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if (cfg.TLS.CertPath == "") != (cfg.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert and tls.key must be configured together")
	}
	return nil
}
