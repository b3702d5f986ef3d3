// Package config loads and validates the TOML configuration file that is
// the only persisted input this service reads. It decodes
// into a single Config struct mirroring the file's table layout and runs
// a collect-all Validate pass before the manager or facade ever see it.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/certen-io/chain-listener/pkg/errs"
	"github.com/certen-io/chain-listener/pkg/model"
)

// DatabaseConfig is the [database] table: a Redis connection used by the
// pub/sub notifier, named "database" in the config file for historical
// reasons carried over from the distilled spec.
type DatabaseConfig struct {
	RedisURL           string `toml:"redis_url"`
	ConnectionPoolSize int    `toml:"connection_pool_size"`
}

// LoggingConfig is the [logging] table.
type LoggingConfig struct {
	Level               string `toml:"level"`  // debug|info|warn|error
	Format              string `toml:"format"` // json|text
	CorrelationTracking bool   `toml:"correlation_tracking"`
}

// ChainConfig is one [chains.<name>] table. Not every field applies to
// every chain; EVM chains use ChainID/BlockConfirmationCount, Solana uses
// Commitment.
type ChainConfig struct {
	RPCURL                 string `toml:"rpc_url"`
	WebsocketURL           string `toml:"websocket_url,omitempty"`
	MaxRetryAttempts       int    `toml:"max_retry_attempts"`
	ChainID                int64  `toml:"chain_id,omitempty"`
	BlockConfirmationCount uint64 `toml:"block_confirmation_count,omitempty"`
	Commitment             string `toml:"commitment,omitempty"` // processed|confirmed|finalized
	Enabled                bool   `toml:"enabled"`
}

// MonitoringSectionConfig backs both [monitoring.transfers] and
// [monitoring.token_minting].
type MonitoringSectionConfig struct {
	Enabled            bool   `toml:"enabled"`
	BatchSize          int    `toml:"batch_size"`
	PollingIntervalMs  int    `toml:"polling_interval_ms"`
	ConfirmationBlocks uint64 `toml:"confirmation_blocks"`
}

// MonitoringConfig is the [monitoring] table group.
type MonitoringConfig struct {
	Transfers    MonitoringSectionConfig `toml:"transfers"`
	TokenMinting MonitoringSectionConfig `toml:"token_minting"`
}

// TargetAddressesConfig is [targets.addresses].
type TargetAddressesConfig struct {
	WatchAddresses []string `toml:"watch_addresses"`
}

// TargetContractsConfig is [targets.contracts].
type TargetContractsConfig struct {
	ERC20Contracts   []string `toml:"erc20_contracts"`
	ERC721Contracts  []string `toml:"erc721_contracts"`
	TRC20Contracts   []string `toml:"trc20_contracts"`
	TRC721Contracts  []string `toml:"trc721_contracts"`
	SPLTokenPrograms []string `toml:"spl_token_programs"`
}

// TargetsConfig is the [targets] table group. The enhanced_targets array
// is decoded into first-class MonitoringTarget values; pkg/resolver is
// their sole reader at runtime so override precedence lives in one place.
type TargetsConfig struct {
	Addresses       TargetAddressesConfig    `toml:"addresses"`
	Contracts       TargetContractsConfig    `toml:"contracts"`
	EnhancedTargets []model.MonitoringTarget `toml:"enhanced_targets"`
}

// FilterDefaultsConfig backs [filters.transfer] and [filters.token_minting].
type FilterDefaultsConfig struct {
	MinAmount          string `toml:"min_amount,omitempty"`
	MaxAmount          string `toml:"max_amount,omitempty"`
	RequiredConfirms   int    `toml:"required_confirmations,omitempty"`
	MinPriority        string `toml:"min_priority,omitempty"`
	RejectSelfTransfer bool   `toml:"reject_self_transfer,omitempty"`
}

// FiltersConfig is the [filters] table group.
type FiltersConfig struct {
	Transfer     FilterDefaultsConfig `toml:"transfer"`
	TokenMinting FilterDefaultsConfig `toml:"token_minting"`
}

// NotificationsConfig is the [notifications] table.
type NotificationsConfig struct {
	Enabled      bool     `toml:"enabled"`
	Channels     []string `toml:"channels"` // subset of {webhook, redis_pubsub}
	WebhookURL   string   `toml:"webhook_url,omitempty"`
	RedisChannel string   `toml:"redis_channel,omitempty"`
}

// PerformanceConfig is the [performance] table.
type PerformanceConfig struct {
	WorkerPoolSize          int `toml:"worker_pool_size"`
	MaxConcurrentRequests   int `toml:"max_concurrent_requests"`
	RequestTimeoutMs        int `toml:"request_timeout_ms"`
	CircuitBreakerThreshold int `toml:"circuit_breaker_threshold"`
}

// Config is the root of the decoded TOML file.
type Config struct {
	Database      DatabaseConfig         `toml:"database"`
	Logging       LoggingConfig          `toml:"logging"`
	Chains        map[string]ChainConfig `toml:"chains"`
	Monitoring    MonitoringConfig       `toml:"monitoring"`
	Targets       TargetsConfig          `toml:"targets"`
	Filters       FiltersConfig          `toml:"filters"`
	Notifications NotificationsConfig    `toml:"notifications"`
	Performance   PerformanceConfig      `toml:"performance"`
}

// Load reads and decodes the TOML file at path, annotating decode errors
// with the file name.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.ConfigError{Field: "path", Msg: err.Error()}
	}
	defer f.Close()

	var cfg Config
	if _, err := toml.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return nil, &errs.ConfigError{Field: path, Msg: err.Error()}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in zero-value fields with the service's defaults,
// run after decode so an explicit zero in the file is indistinguishable
// from an absent key (TOML has no tri-state bool/int).
func (c *Config) applyDefaults() {
	if c.Database.ConnectionPoolSize == 0 {
		c.Database.ConnectionPoolSize = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Performance.WorkerPoolSize == 0 {
		c.Performance.WorkerPoolSize = 8
	}
	if c.Performance.MaxConcurrentRequests == 0 {
		c.Performance.MaxConcurrentRequests = 32
	}
	if c.Performance.RequestTimeoutMs == 0 {
		c.Performance.RequestTimeoutMs = 10_000
	}
	for name, cc := range c.Chains {
		if cc.MaxRetryAttempts == 0 {
			cc.MaxRetryAttempts = 5
		}
		c.Chains[name] = cc
	}
}

// Validate collects every configuration problem rather than stopping at
// the first, and returns them joined into a single *errs.ConfigError.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Chains) == 0 {
		problems = append(problems, "chains: at least one [chains.<name>] table is required")
	}
	for name, cc := range c.Chains {
		if cc.RPCURL == "" {
			problems = append(problems, fmt.Sprintf("chains.%s.rpc_url: required", name))
		}
		kind := model.ChainKind(name)
		if !kind.Valid() && name != "tron_evm" {
			problems = append(problems, fmt.Sprintf("chains.%s: not a supported chain kind", name))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level: invalid %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: invalid %q", c.Logging.Format))
	}

	for i, t := range c.Targets.EnhancedTargets {
		if t.ID == "" {
			problems = append(problems, fmt.Sprintf("targets.enhanced_targets[%d].id: required", i))
		}
		switch t.Kind {
		case model.TargetAddress, model.TargetContract, model.TargetToken:
		default:
			problems = append(problems, fmt.Sprintf("targets.enhanced_targets[%d].type: invalid %q", i, t.Kind))
		}
		if len(t.EventKinds) == 0 {
			problems = append(problems, fmt.Sprintf("targets.enhanced_targets[%d].event_types: must be non-empty", i))
		}
	}

	if c.Notifications.Enabled {
		for _, ch := range c.Notifications.Channels {
			switch ch {
			case "webhook":
				if c.Notifications.WebhookURL == "" {
					problems = append(problems, "notifications.webhook_url: required when channels includes webhook")
				}
			case "redis_pubsub":
				if c.Database.RedisURL == "" {
					problems = append(problems, "database.redis_url: required when channels includes redis_pubsub")
				}
			default:
				problems = append(problems, fmt.Sprintf("notifications.channels: unknown channel %q", ch))
			}
		}
	}

	if len(problems) > 0 {
		return &errs.ConfigError{Field: "config", Msg: strings.Join(problems, "; ")}
	}
	return nil
}
