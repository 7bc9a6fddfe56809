package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// APIKey is one API key and shared secret pair accepted by the gateway.
type APIKey struct {
	Key    string `toml:"Key"`
	Secret string `toml:"Secret"`
}

// RateLimit controls the per-client request budget for the gateway.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Config captures runtime configuration for the escrow daemon.
type Config struct {
	ListenAddress   string    `toml:"ListenAddress"`
	MetricsAddress  string    `toml:"MetricsAddress"`
	DataDir         string    `toml:"DataDir"`
	GatewayDatabase string    `toml:"GatewayDatabase"`
	Environment     string    `toml:"Environment"`
	ChainID         uint64    `toml:"ChainID"`
	FactoryAddress  string    `toml:"FactoryAddress"`
	SrcImplSeed     string    `toml:"SrcImplSeed"`
	DstImplSeed     string    `toml:"DstImplSeed"`
	RescueDelay     duration  `toml:"RescueDelay"`
	TimestampSkew   duration  `toml:"TimestampSkew"`
	APIKeys         []APIKey  `toml:"APIKeys"`
	RateLimit       RateLimit `toml:"RateLimit"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// RescueDelaySeconds returns the configured rescue delay in whole seconds.
func (c *Config) RescueDelaySeconds() uint64 {
	return uint64(c.RescueDelay.Duration / time.Second)
}

// Skew returns the allowed auth timestamp skew.
func (c *Config) Skew() time.Duration { return c.TimestampSkew.Duration }

// Load reads the configuration from the given path, applying defaults for
// unset fields.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8081"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9091"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.GatewayDatabase) == "" {
		cfg.GatewayDatabase = "gateway.db"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.RescueDelay.Duration == 0 {
		cfg.RescueDelay.Duration = 7 * 24 * time.Hour
	}
	if cfg.TimestampSkew.Duration == 0 {
		cfg.TimestampSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.RescueDelay.Duration < time.Hour {
		return fmt.Errorf("config: rescue delay must be at least one hour")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("config: rate limit must be non-negative")
	}
	for i, key := range c.APIKeys {
		if strings.TrimSpace(key.Key) == "" || strings.TrimSpace(key.Secret) == "" {
			return fmt.Errorf("config: api key entry %d missing key or secret", i)
		}
	}
	return nil
}
