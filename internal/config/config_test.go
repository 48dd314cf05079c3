package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Gateway.BaseURL)
	assert.Equal(t, "http://localhost:8402", cfg.Facilitator.BaseURL)
	assert.False(t, cfg.Facilitator.RequireTLS)
	assert.Equal(t, 84532, cfg.Wallet.ChainID)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "market.db", cfg.Store.DatabaseURL)
	assert.Equal(t, time.Hour, cfg.Store.CacheTTL)
	assert.Equal(t, 3*time.Second, cfg.Access.PollInterval)
	assert.Equal(t, 180*time.Second, cfg.Access.PollTimeout)
	assert.Equal(t, "http://localhost:3000", cfg.Publish.ShareBase)
	assert.Equal(t, 8402, cfg.Mockpay.Port)
	assert.Equal(t, 5*time.Second, cfg.Mockpay.CreditDelay)
	assert.Equal(t, "base-sepolia", cfg.Mockpay.Network)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
gateway:
  base_url: https://gateway.lattice.dev
  contract: "0xabc"
facilitator:
  base_url: https://pay.lattice.dev
  require_tls: true
wallet:
  address: "0x1234"
  chain_id: 8453
store:
  driver: postgres
  database_url: postgres://localhost/market
access:
  poll_interval: 1s
  poll_timeout: 30s
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.lattice.dev", cfg.Gateway.BaseURL)
	assert.Equal(t, "0xabc", cfg.Gateway.Contract)
	assert.True(t, cfg.Facilitator.RequireTLS)
	assert.Equal(t, "0x1234", cfg.Wallet.Address)
	assert.Equal(t, 8453, cfg.Wallet.ChainID)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, time.Second, cfg.Access.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Access.PollTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 8402, cfg.Mockpay.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
wallet:
  address: "0xfromfile"
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))
	t.Setenv("MARKET_WALLET_ADDRESS", "0xfromenv")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0xfromenv", cfg.Wallet.Address)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	err := InitLogger(LogConfig{Level: "not-a-level"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
