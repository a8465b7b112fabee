// Package config loads and validates the engine configuration from a YAML
// file, with environment overrides for the secrets that must not live on
// disk (RPC URL, signing key).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML file at path, applies defaults and env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets secrets come from the environment (or a .env file
// loaded by the entrypoint) instead of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRIP_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("DRIP_PRIVATE_KEY"); v != "" {
		cfg.Ledger.PrivateKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DisplayDecimals == 0 {
		c.App.DisplayDecimals = 18
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "evm"
	}
	if c.Ledger.CallTimeout <= 0 {
		c.Ledger.CallTimeout = 15 * time.Second
	}
	if c.Ledger.BreakerThreshold <= 0 {
		c.Ledger.BreakerThreshold = 5
	}
	if c.Ledger.BreakerCooldown <= 0 {
		c.Ledger.BreakerCooldown = 30 * time.Second
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 60 * time.Second
	}
	if c.Scheduler.MetricsDumpInterval <= 0 {
		c.Scheduler.MetricsDumpInterval = 5 * time.Minute
	}
	if c.Executor.MaxRetries <= 0 {
		c.Executor.MaxRetries = 3
	}
	if c.Executor.BaseDelay <= 0 {
		c.Executor.BaseDelay = time.Second
	}
	if c.Allowance.ConfirmPoll <= 0 {
		c.Allowance.ConfirmPoll = 2 * time.Second
	}
	if c.Allowance.ConfirmTimeout <= 0 {
		c.Allowance.ConfirmTimeout = 2 * time.Minute
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = "127.0.0.1:8087"
	}
}

func validate(c *Config) error {
	switch c.Ledger.Backend {
	case "memory":
		// nothing to connect to
	case "evm":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("config: ledger.rpc_url is required (or DRIP_RPC_URL)")
		}
		if c.Ledger.Contract == "" {
			return fmt.Errorf("config: ledger.contract is required")
		}
		if c.Ledger.PrivateKey == "" {
			return fmt.Errorf("config: ledger.private_key is required (or DRIP_PRIVATE_KEY)")
		}
		if c.Ledger.ChainID == 0 {
			return fmt.Errorf("config: ledger.chain_id is required")
		}
	default:
		return fmt.Errorf("config: unknown ledger.backend %q", c.Ledger.Backend)
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("config: scheduler.interval below 1s would hammer the node")
	}
	if c.Scheduler.FirstRunLead < 0 {
		return fmt.Errorf("config: scheduler.first_run_lead cannot be negative")
	}
	return nil
}
