// Package config loads the settlement daemon configuration from a YAML file
// and environment variables. Environment variables win, keys are dotted
// paths with dots replaced by underscores (SETTLEMENT_REDIS_ADDR).
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ChainConfig describes one supported blockchain.
type ChainConfig struct {
	// Family selects the client implementation: evm, bitcoin or solana.
	Family string `mapstructure:"family"`
	// RPCURL is the node endpoint for evm and solana chains.
	RPCURL string `mapstructure:"rpc_url"`
	// FeeAPIURL and FallbackFeeAPIURL are the bitcoin fee estimate sources.
	FeeAPIURL         string `mapstructure:"fee_api_url"`
	FallbackFeeAPIURL string `mapstructure:"fallback_fee_api_url"`
	// ExplorerURL is the bitcoin block explorer used for tx status.
	ExplorerURL string `mapstructure:"explorer_url"`
	// NativeUnit labels fee amounts for evm chains (ETH, BNB).
	NativeUnit string `mapstructure:"native_unit"`
	// Confirmations overrides the default required confirmation count.
	Confirmations uint64 `mapstructure:"confirmations"`
	// InitialMonitorDelay overrides the default first-poll delay.
	InitialMonitorDelay time.Duration `mapstructure:"initial_monitor_delay"`
}

// CurrencyConfig carries per-currency withdrawal limits and platform fee.
// Keyed as "<blockchain>/<token>" in the config file.
type CurrencyConfig struct {
	Min         decimal.Decimal `mapstructure:"min"`
	Max         decimal.Decimal `mapstructure:"max"`
	DailyLimit  decimal.Decimal `mapstructure:"daily_limit"`
	PlatformFee decimal.Decimal `mapstructure:"platform_fee"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Custody struct {
		BaseURL        string        `mapstructure:"base_url"`
		APIKey         string        `mapstructure:"api_key"`
		VaultAccountID string        `mapstructure:"vault_account_id"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"custody"`

	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		NotificationTopic string   `mapstructure:"notification_topic"`
		RefundTopic       string   `mapstructure:"refund_topic"`
	} `mapstructure:"kafka"`

	Queue struct {
		Workers int `mapstructure:"workers"`
	} `mapstructure:"queue"`

	Ops struct {
		Addr          string `mapstructure:"addr"`
		ReviewBaseURL string `mapstructure:"review_base_url"`
	} `mapstructure:"ops"`

	Chains     map[string]ChainConfig    `mapstructure:"chains"`
	Currencies map[string]CurrencyConfig `mapstructure:"currencies"`
}

// Load reads the configuration file at path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("custody.timeout", 30*time.Second)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.notification_topic", "settlement.notifications")
	v.SetDefault("kafka.refund_topic", "settlement.refunds")
	v.SetDefault("queue.workers", 8)
	v.SetDefault("ops.addr", ":8085")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalDecodeHook(),
	))
	var cfg Config
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	for key, chain := range cfg.Chains {
		switch chain.Family {
		case "evm", "solana":
			if chain.RPCURL == "" {
				return nil, fmt.Errorf("chains.%s.rpc_url is required for family %s", key, chain.Family)
			}
		case "bitcoin":
			if chain.ExplorerURL == "" {
				return nil, fmt.Errorf("chains.%s.explorer_url is required", key)
			}
		default:
			return nil, fmt.Errorf("chains.%s.family must be evm, bitcoin or solana, got %q", key, chain.Family)
		}
	}
	return &cfg, nil
}

// decimalDecodeHook converts YAML strings and numbers into decimal.Decimal
// without passing amounts through float64.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return data, nil
		}
	}
}
