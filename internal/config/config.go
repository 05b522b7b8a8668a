// Package config loads the indexer configuration from a YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"curvewatch/internal/domain"
	"curvewatch/internal/positions"
	"curvewatch/internal/rpcpool"
	"curvewatch/internal/solana"
	"curvewatch/internal/tagging"
)

// DefaultEnvFile is read when present.
const DefaultEnvFile = ".env"

// Config is the full indexer configuration.
type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	ProgramID string          `yaml:"programId" validate:"required"`
	Tokens    []string        `yaml:"tokens" validate:"dive,required"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Positions PositionsConfig `yaml:"positions"`
	Tagging   TaggingConfig   `yaml:"tagging"`
	Candles   CandlesConfig   `yaml:"candles"`
	Feed      FeedConfig      `yaml:"feed"`
	Storage   StorageConfig   `yaml:"storage"`

	MetricsAddr string        `yaml:"metricsAddr"` // empty serves /metrics on the feed only
	IdleAfter   time.Duration `yaml:"idleAfter" validate:"gt=0"`
}

// RPCConfig configures the endpoint pool.
type RPCConfig struct {
	Endpoints        []string      `yaml:"endpoints" validate:"required,min=1,dive,url"`
	WSEndpoint       string        `yaml:"wsEndpoint" validate:"omitempty,url"`
	Ceiling          int           `yaml:"ceiling" validate:"gt=0"`
	Window           time.Duration `yaml:"window" validate:"gt=0"`
	Pacing           time.Duration `yaml:"pacing" validate:"gte=0"`
	MaxAttempts      int           `yaml:"maxAttempts" validate:"gt=0"`
	BaseDelay        time.Duration `yaml:"baseDelay" validate:"gte=0"`
	MaxDelay         time.Duration `yaml:"maxDelay" validate:"gtefield=BaseDelay"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	FetchConcurrency int           `yaml:"fetchConcurrency" validate:"gt=0"`
}

// DiscoveryConfig configures program-wide token discovery.
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxTokens   int           `yaml:"maxTokens" validate:"gte=0"` // 0 is unlimited
	PauseWindow time.Duration `yaml:"pauseWindow" validate:"gt=0"`
}

// PositionsConfig configures the position tracker.
type PositionsConfig struct {
	EntryThreshold float64 `yaml:"entryThreshold" validate:"gte=0"`
	Dust           float64 `yaml:"dust" validate:"gte=0"`
}

// TaggingConfig configures trade classification.
type TaggingConfig struct {
	LargeTradeSOL    float64 `yaml:"largeTradeSol" validate:"gt=0"`
	EarlySniperSlots int64   `yaml:"earlySniperSlots" validate:"gt=0"`
}

// CandlesConfig lists the timeframes to aggregate.
type CandlesConfig struct {
	Timeframes []string `yaml:"timeframes" validate:"required,min=1"`
}

// FeedConfig configures the HTTP and websocket feed.
type FeedConfig struct {
	Addr         string `yaml:"addr" validate:"required"`
	RecentTrades int    `yaml:"recentTrades" validate:"gt=0"`
	ClientBuffer int    `yaml:"clientBuffer" validate:"gt=0"`
}

// StorageConfig selects the stores.
type StorageConfig struct {
	UseMemory     bool   `yaml:"useMemory"`
	PostgresDSN   string `yaml:"postgresDsn" validate:"required_if=UseMemory false"`
	ClickhouseDSN string `yaml:"clickhouseDsn" validate:"required_if=UseMemory false"`
}

// Default returns the configuration used for anything not set.
func Default() *Config {
	retry := rpcpool.DefaultRetryPolicy()
	timeframes := domain.DefaultTimeframes()
	labels := make([]string, len(timeframes))
	for i, tf := range timeframes {
		labels[i] = tf.Label
	}

	return &Config{
		RPC: RPCConfig{
			Ceiling:          rpcpool.DefaultCeiling,
			Window:           rpcpool.DefaultWindow,
			Pacing:           rpcpool.DefaultPacing,
			MaxAttempts:      retry.MaxAttempts,
			BaseDelay:        retry.BaseDelay,
			MaxDelay:         retry.MaxDelay,
			Timeout:          solana.DefaultTimeout,
			FetchConcurrency: 8,
		},
		ProgramID: solana.PumpFunProgramID,
		Discovery: DiscoveryConfig{
			Enabled:     true,
			PauseWindow: 30 * time.Second,
		},
		Positions: PositionsConfig{
			EntryThreshold: positions.DefaultEntryThreshold,
			Dust:           positions.DefaultDust,
		},
		Tagging: TaggingConfig{
			LargeTradeSOL:    tagging.DefaultLargeTradeSOL,
			EarlySniperSlots: tagging.DefaultEarlySniperSlots,
		},
		Candles: CandlesConfig{Timeframes: labels},
		Feed: FeedConfig{
			Addr:         ":8080",
			RecentTrades: 100,
			ClientBuffer: 256,
		},
		IdleAfter: 5 * time.Minute,
	}
}

// Load builds the configuration. path is an optional YAML file; envFiles
// default to DefaultEnvFile and are skipped when missing. Variables already
// in the environment win over .env values.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the timeframe list.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Timeframes(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Timeframes parses the configured candle timeframes.
func (c *Config) Timeframes() ([]domain.Timeframe, error) {
	return domain.ParseTimeframes(c.Candles.Timeframes)
}

// DispatcherOptions returns the rpcpool options for the RPC section.
func (c *Config) DispatcherOptions() rpcpool.Options {
	retry := rpcpool.DefaultRetryPolicy()
	retry.MaxAttempts = c.RPC.MaxAttempts
	retry.BaseDelay = c.RPC.BaseDelay
	retry.MaxDelay = c.RPC.MaxDelay

	pacing := c.RPC.Pacing
	if pacing == 0 {
		pacing = -1 // explicit zero disables pacing
	}
	return rpcpool.Options{
		Ceiling: c.RPC.Ceiling,
		Window:  c.RPC.Window,
		Pacing:  pacing,
		Retry:   retry,
	}
}

// PositionOptions returns the position tracker options.
func (c *Config) PositionOptions() positions.Options {
	return positions.Options{EntryThreshold: c.Positions.EntryThreshold, Dust: c.Positions.Dust}
}

// TaggingOptions returns the classifier options.
func (c *Config) TaggingOptions() tagging.Options {
	return tagging.Options{LargeTradeSOL: c.Tagging.LargeTradeSOL, EarlySniperSlots: c.Tagging.EarlySniperSlots}
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = SplitList(v)
		}
	}

	list("SOLANA_RPC_ENDPOINTS", &c.RPC.Endpoints)
	list("CURVEWATCH_RPC_ENDPOINTS", &c.RPC.Endpoints)
	str("SOLANA_WS_ENDPOINT", &c.RPC.WSEndpoint)
	str("CURVEWATCH_WS_ENDPOINT", &c.RPC.WSEndpoint)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	str("CURVEWATCH_PROGRAM_ID", &c.ProgramID)
	list("CURVEWATCH_TOKENS", &c.Tokens)
	list("CURVEWATCH_TIMEFRAMES", &c.Candles.Timeframes)
	str("CURVEWATCH_FEED_ADDR", &c.Feed.Addr)
	str("CURVEWATCH_METRICS_ADDR", &c.MetricsAddr)

	var errs []error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	parse("CURVEWATCH_USE_MEMORY", boolSetter(&c.Storage.UseMemory))
	parse("CURVEWATCH_DISCOVERY_ENABLED", boolSetter(&c.Discovery.Enabled))
	parse("CURVEWATCH_MAX_TOKENS", intSetter(&c.Discovery.MaxTokens))
	parse("CURVEWATCH_RPC_CEILING", intSetter(&c.RPC.Ceiling))
	parse("CURVEWATCH_RPC_WINDOW", durationSetter(&c.RPC.Window))
	parse("CURVEWATCH_RPC_PACING", durationSetter(&c.RPC.Pacing))
	parse("CURVEWATCH_RPC_TIMEOUT", durationSetter(&c.RPC.Timeout))
	parse("CURVEWATCH_IDLE_AFTER", durationSetter(&c.IdleAfter))
	return errors.Join(errs...)
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*dst = b
		}
		return err
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	}
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	}
}

// SplitList splits a comma-separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
