// Package config loads service configuration from a yaml file with
// environment-variable overrides. Secrets (database password, gateway keys,
// wallet keys, the derivation master secret) come from the environment only.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Paystack    PaystackConfig   `mapstructure:"paystack"`
	Chain       ChainConfig      `mapstructure:"chain"`
	Aggregator  AggregatorConfig `mapstructure:"aggregator"`
	Ramp        RampConfig       `mapstructure:"ramp"`
	Workers     WorkersConfig    `mapstructure:"workers"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// DatabaseConfig contains Postgres connection configuration
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	MigrationsPath  string `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PaystackConfig contains payment gateway configuration. The secret key
// authenticates API calls and signs webhook bodies (HMAC-SHA512).
type PaystackConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SecretKey      string        `mapstructure:"secret_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainConfig contains blockchain configuration. Private keys are hex-encoded
// secp256k1 keys; MasterSecret seeds deterministic deposit-wallet derivation
// and must never change once sessions exist.
type ChainConfig struct {
	RPCURL                  string        `mapstructure:"rpc_url"`
	ChainID                 int64         `mapstructure:"chain_id"`
	TokenAddress            string        `mapstructure:"token_address"`  // SEND
	StableAddress           string        `mapstructure:"stable_address"` // USDC
	TokenDecimals           int32         `mapstructure:"token_decimals"`
	StableDecimals          int32         `mapstructure:"stable_decimals"`
	MasterWalletKey         string        `mapstructure:"master_wallet_key"`
	DistributionWalletKey   string        `mapstructure:"distribution_wallet_key"`
	SettlementWalletAddress string        `mapstructure:"settlement_wallet_address"`
	MasterSecret            string        `mapstructure:"master_secret"`
	ConfirmTimeout          time.Duration `mapstructure:"confirm_timeout"`
	GasTopUpWei             string        `mapstructure:"gas_top_up_wei"`
	GasThresholdWei         string        `mapstructure:"gas_threshold_wei"`
	MasterReserveWei        string        `mapstructure:"master_reserve_wei"`
	SweepHoldbackWei        string        `mapstructure:"sweep_holdback_wei"`
}

// AggregatorConfig contains DEX aggregator API configuration
type AggregatorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SlippageBps    int           `mapstructure:"slippage_bps"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RampConfig contains settlement policy configuration
type RampConfig struct {
	FeePercent      string        `mapstructure:"fee_percent"`       // e.g. "2.5"
	ClaimWindow     time.Duration `mapstructure:"claim_window"`      // fuzzy-match lookback
	MaxSwapAttempts int           `mapstructure:"max_swap_attempts"` // swapping → token_received retry budget
	StableFiatRate  string        `mapstructure:"stable_fiat_rate"`  // NGN per stable unit, payout pricing
	StaleSwapAge    time.Duration `mapstructure:"stale_swap_age"`    // reclaim window for orphaned swapping rows
}

// WorkersConfig contains background worker configuration
type WorkersConfig struct {
	DepositPollSpec    string `mapstructure:"deposit_poll_spec"`
	SettlementPollSpec string `mapstructure:"settlement_poll_spec"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load reads configuration from config.yaml and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 600)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "ramp_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrations_path", "migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("paystack.base_url", "https://api.paystack.co")
	viper.SetDefault("paystack.request_timeout", 15*time.Second)

	viper.SetDefault("chain.chain_id", 8453)
	viper.SetDefault("chain.token_decimals", 18)
	viper.SetDefault("chain.stable_decimals", 6)
	viper.SetDefault("chain.confirm_timeout", 3*time.Minute)
	viper.SetDefault("chain.gas_top_up_wei", "2000000000000000")      // 0.002 ETH
	viper.SetDefault("chain.gas_threshold_wei", "500000000000000")    // 0.0005 ETH
	viper.SetDefault("chain.master_reserve_wei", "50000000000000000") // 0.05 ETH
	viper.SetDefault("chain.sweep_holdback_wei", "100000000000000")   // 0.0001 ETH

	viper.SetDefault("aggregator.base_url", "https://api.0x.org")
	viper.SetDefault("aggregator.slippage_bps", 100)
	viper.SetDefault("aggregator.request_timeout", 15*time.Second)

	viper.SetDefault("ramp.fee_percent", "2.5")
	viper.SetDefault("ramp.claim_window", 10*time.Minute)
	viper.SetDefault("ramp.max_swap_attempts", 3)
	viper.SetDefault("ramp.stable_fiat_rate", "1500")
	viper.SetDefault("ramp.stale_swap_age", 10*time.Minute)

	viper.SetDefault("workers.deposit_poll_spec", "@every 1m")
	viper.SetDefault("workers.settlement_poll_spec", "@every 5m")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
}

func validate(cfg *Config) error {
	if cfg.Environment != "development" && cfg.Environment != "test" {
		if cfg.Paystack.SecretKey == "" {
			return fmt.Errorf("paystack.secret_key is required")
		}
		if cfg.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url is required")
		}
		if cfg.Chain.MasterSecret == "" {
			return fmt.Errorf("chain.master_secret is required")
		}
		if cfg.Chain.MasterWalletKey == "" {
			return fmt.Errorf("chain.master_wallet_key is required")
		}
		if cfg.Chain.DistributionWalletKey == "" {
			return fmt.Errorf("chain.distribution_wallet_key is required")
		}
	}
	if cfg.Ramp.MaxSwapAttempts <= 0 {
		return fmt.Errorf("ramp.max_swap_attempts must be positive")
	}
	return nil
}
