package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "250ms" or "1m", which plain
// time.Duration fields cannot parse from yaml strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

type Config struct {
	Quoteflow QuoteflowConfig `yaml:"quoteflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Source    SourceConfig    `yaml:"source"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type QuoteflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	MarketBuffer  int `yaml:"market_buffer"`
	PrivateBuffer int `yaml:"private_buffer"`
	FillBuffer    int `yaml:"fill_buffer"`
}

type StrategyConfig struct {
	Symbol           string   `yaml:"symbol"`
	AccountSize      float64  `yaml:"account_size"`
	TickSize         float64  `yaml:"tick_size"`
	LotSize          float64  `yaml:"lot_size"`
	MaxOrders        int      `yaml:"max_orders"`
	MinOrderSize     float64  `yaml:"min_order_size"`
	MaxOrderSize     float64  `yaml:"max_order_size"`
	InventoryExtreme float64  `yaml:"inventory_extreme"`
	TargetSpread     float64  `yaml:"target_spread"`
	AmendBuffer      float64  `yaml:"amend_buffer"`
	VolatilityLength int      `yaml:"volatility_length"`
	VolatilityMult   int      `yaml:"volatility_mult"`
	VolatilityOffset float64  `yaml:"volatility_offset"`
	MomentumLengths  []int    `yaml:"momentum_lengths"`
	QuoteInterval    Duration `yaml:"quote_interval"`
	WarmupKlines     int      `yaml:"warmup_klines"`
	MaxKlines        int      `yaml:"max_klines"`
}

type GatewayConfig struct {
	BaseURL           string   `yaml:"base_url"`
	RecvWindow        string   `yaml:"recv_window"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	BurstSize         int      `yaml:"burst_size"`
	ResyncInterval    Duration `yaml:"resync_interval"`

	// Credentials come from the environment, never from the yaml file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type SourceConfig struct {
	Bybit   BybitSourceConfig   `yaml:"bybit"`
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BybitSourceConfig struct {
	PublicWSURL   string `yaml:"public_ws_url"`
	PrivateWSURL  string `yaml:"private_ws_url"`
	Depth         int    `yaml:"depth"`
	KlineInterval string `yaml:"kline_interval"`
}

type BinanceSourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Symbol  string `yaml:"symbol"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool     `yaml:"enabled"`
	Bucket          string   `yaml:"bucket"`
	Region          string   `yaml:"region"`
	Endpoint        string   `yaml:"endpoint"`
	PathStyle       bool     `yaml:"path_style"`
	Prefix          string   `yaml:"prefix"`
	FlushInterval   Duration `yaml:"flush_interval"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Gateway: GatewayConfig{
			RecvWindow:        "5000",
			MaxAttempts:       3,
			RequestsPerSecond: 10,
			BurstSize:         10,
			ResyncInterval:    Duration(500 * time.Millisecond),
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.Gateway.APIKey = strings.TrimSpace(os.Getenv("BYBIT_API_KEY"))
	config.Gateway.APISecret = strings.TrimSpace(os.Getenv("BYBIT_API_SECRET"))

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Quoteflow.Name == "" {
		return fmt.Errorf("quoteflow.name is required")
	}
	if cfg.Quoteflow.Version == "" {
		return fmt.Errorf("quoteflow.version is required")
	}

	if cfg.Channels.MarketBuffer <= 0 {
		return fmt.Errorf("channels.market_buffer must be greater than 0")
	}
	if cfg.Channels.PrivateBuffer <= 0 {
		return fmt.Errorf("channels.private_buffer must be greater than 0")
	}

	s := cfg.Strategy
	if s.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if s.AccountSize <= 0 {
		return fmt.Errorf("strategy.account_size must be greater than 0")
	}
	if s.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be greater than 0")
	}
	if s.LotSize <= 0 {
		return fmt.Errorf("strategy.lot_size must be greater than 0")
	}
	if s.MaxOrders <= 0 {
		return fmt.Errorf("strategy.max_orders must be greater than 0")
	}
	if s.MinOrderSize <= 0 || s.MaxOrderSize < s.MinOrderSize {
		return fmt.Errorf("strategy order sizes must satisfy 0 < min_order_size <= max_order_size")
	}
	if s.InventoryExtreme <= 0 || s.InventoryExtreme > 1 {
		return fmt.Errorf("strategy.inventory_extreme must be in (0, 1]")
	}
	if s.TargetSpread <= 0 {
		return fmt.Errorf("strategy.target_spread must be greater than 0")
	}
	if s.AmendBuffer <= 0 {
		return fmt.Errorf("strategy.amend_buffer must be greater than 0")
	}
	if s.VolatilityLength <= 1 {
		return fmt.Errorf("strategy.volatility_length must be greater than 1")
	}
	if s.VolatilityMult <= 0 {
		return fmt.Errorf("strategy.volatility_mult must be greater than 0")
	}
	if s.VolatilityOffset <= 0 {
		return fmt.Errorf("strategy.volatility_offset must be greater than 0")
	}
	if len(s.MomentumLengths) == 0 {
		return fmt.Errorf("strategy.momentum_lengths is required")
	}
	for i, l := range s.MomentumLengths {
		if l <= 0 {
			return fmt.Errorf("strategy.momentum_lengths entries must be greater than 0")
		}
		if i > 0 && l >= s.MomentumLengths[i-1] {
			return fmt.Errorf("strategy.momentum_lengths must be strictly descending")
		}
	}
	if s.QuoteInterval <= 0 {
		return fmt.Errorf("strategy.quote_interval must be greater than 0")
	}
	if s.MaxKlines < s.MomentumLengths[0] {
		return fmt.Errorf("strategy.max_klines must cover the longest momentum length")
	}

	if cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if cfg.Gateway.MaxAttempts <= 0 {
		return fmt.Errorf("gateway.max_attempts must be greater than 0")
	}

	if cfg.Source.Bybit.PublicWSURL == "" || cfg.Source.Bybit.PrivateWSURL == "" {
		return fmt.Errorf("source.bybit websocket urls are required")
	}
	if cfg.Source.Bybit.Depth <= 0 {
		return fmt.Errorf("source.bybit.depth must be greater than 0")
	}
	if cfg.Source.Bybit.KlineInterval == "" {
		return fmt.Errorf("source.bybit.kline_interval is required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr is required when the dashboard is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
