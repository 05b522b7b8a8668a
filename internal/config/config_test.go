package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvewatch/internal/rpcpool"
	"curvewatch/internal/solana"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 90, cfg.RPC.Ceiling)
	assert.Equal(t, 10*time.Second, cfg.RPC.Window)
	assert.Equal(t, 15*time.Millisecond, cfg.RPC.Pacing)
	assert.Equal(t, solana.PumpFunProgramID, cfg.ProgramID)
	assert.Equal(t, 5_000_000.0, cfg.Positions.EntryThreshold)
	assert.Equal(t, 10.0, cfg.Tagging.LargeTradeSOL)

	tfs, err := cfg.Timeframes()
	require.NoError(t, err)
	assert.Len(t, tfs, 8)

	// no endpoints and no storage yet
	assert.Error(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
rpc:
  endpoints: ["https://a.example", "https://b.example"]
  wsEndpoint: wss://a.example
  ceiling: 40
  window: 5s
  pacing: 0s
tokens: [MintA, MintB]
discovery:
  enabled: false
  maxTokens: 3
candles:
  timeframes: [1m, 5m]
feed:
  addr: ":9000"
storage:
  useMemory: true
idleAfter: 2m
`)
	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RPC.Endpoints)
	assert.Equal(t, 40, cfg.RPC.Ceiling)
	assert.Equal(t, 5*time.Second, cfg.RPC.Window)
	assert.Equal(t, []string{"MintA", "MintB"}, cfg.Tokens)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, 3, cfg.Discovery.MaxTokens)
	assert.Equal(t, 2*time.Minute, cfg.IdleAfter)
	assert.Equal(t, 30*time.Second, cfg.Discovery.PauseWindow, "unset fields keep defaults")

	opts := cfg.DispatcherOptions()
	assert.Equal(t, 40, opts.Ceiling)
	assert.Negative(t, int64(opts.Pacing), "explicit zero pacing disables it")
	assert.Equal(t, rpcpool.DefaultRetryPolicy().Factor, opts.Retry.Factor)
}

func TestLoad_EnvOverridesFileAndDotEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
rpc:
  endpoints: ["https://file.example"]
storage:
  postgresDsn: postgres://file
`)
	envFile := writeFile(t, "test.env", "CLICKHOUSE_DSN=clickhouse://dotenv\nPOSTGRES_DSN=postgres://dotenv\n")

	t.Setenv("SOLANA_RPC_ENDPOINTS", "https://env1.example, https://env2.example,")
	t.Setenv("POSTGRES_DSN", "postgres://env")
	t.Setenv("CURVEWATCH_MAX_TOKENS", "7")
	t.Setenv("CURVEWATCH_RPC_WINDOW", "20s")
	// godotenv only sets what is missing; make sure the test owns the key
	t.Setenv("CLICKHOUSE_DSN", "")
	require.NoError(t, os.Unsetenv("CLICKHOUSE_DSN"))

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://env1.example", "https://env2.example"}, cfg.RPC.Endpoints)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN, "environment beats .env and file")
	assert.Equal(t, "clickhouse://dotenv", cfg.Storage.ClickhouseDSN)
	assert.Equal(t, 7, cfg.Discovery.MaxTokens)
	assert.Equal(t, 20*time.Second, cfg.RPC.Window)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "rpc: [not, a, map]\n")
	_, err = Load(bad, noEnvFile(t))
	assert.Error(t, err)

	t.Setenv("CURVEWATCH_USE_MEMORY", "maybe")
	_, err = Load("", noEnvFile(t))
	assert.ErrorContains(t, err, "CURVEWATCH_USE_MEMORY")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.RPC.Endpoints = []string{"https://rpc.example"}
		cfg.Storage.UseMemory = true
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoints", func(c *Config) { c.RPC.Endpoints = nil }},
		{"bad endpoint", func(c *Config) { c.RPC.Endpoints = []string{"not a url"} }},
		{"zero ceiling", func(c *Config) { c.RPC.Ceiling = 0 }},
		{"max delay below base", func(c *Config) { c.RPC.MaxDelay = c.RPC.BaseDelay - 1 }},
		{"empty token", func(c *Config) { c.Tokens = []string{""} }},
		{"bad timeframe", func(c *Config) { c.Candles.Timeframes = []string{"1m", "3x"} }},
		{"duplicate timeframe", func(c *Config) { c.Candles.Timeframes = []string{"1m", "60s"} }},
		{"postgres required", func(c *Config) { c.Storage.UseMemory = false; c.Storage.ClickhouseDSN = "clickhouse://x" }},
		{"clickhouse required", func(c *Config) { c.Storage.UseMemory = false; c.Storage.PostgresDSN = "postgres://x" }},
		{"no feed addr", func(c *Config) { c.Feed.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,, b,"))
	assert.Nil(t, SplitList(" , "))
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"), noEnvFile(t))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Discovery.MaxTokens)
	assert.Equal(t, rpcpool.DefaultPacing, cfg.RPC.Pacing)
}
