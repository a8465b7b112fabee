package config

import "time"

// Config is the full engine configuration, loaded from YAML.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Allowance AllowanceConfig `mapstructure:"allowance"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	// DisplayDecimals is used when rendering base-unit amounts in logs and
	// the status API.
	DisplayDecimals int32 `mapstructure:"display_decimals"`
}

type LedgerConfig struct {
	// Backend selects the adapter: "evm" or "memory" (local dry-run).
	Backend          string        `mapstructure:"backend"`
	RPCURL           string        `mapstructure:"rpc_url"`
	Contract         string        `mapstructure:"contract"`
	ChainID          int64         `mapstructure:"chain_id"`
	PrivateKey       string        `mapstructure:"private_key"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type SchedulerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MetricsDumpInterval time.Duration `mapstructure:"metrics_dump_interval"`
	// FirstRunLead is subtracted from the hour-aligned first execution time
	// of newly created orders. Deployment-specific; see ledger docs.
	FirstRunLead time.Duration `mapstructure:"first_run_lead"`
}

type ExecutorConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	// PerOrder submits orders individually instead of the batched execute.
	PerOrder bool `mapstructure:"per_order"`
}

type AllowanceConfig struct {
	ConfirmPoll    time.Duration `mapstructure:"confirm_poll"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type StoreConfig struct {
	// RunLogPath enables the sqlite per-cycle run log when non-empty.
	RunLogPath string `mapstructure:"runlog_path"`
}
