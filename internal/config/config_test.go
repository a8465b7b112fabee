package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
app:
  log_level: debug
  display_decimals: 6
ledger:
  backend: evm
  rpc_url: http://localhost:8545
  contract: "0x1111111111111111111111111111111111111111"
  chain_id: 11155111
  private_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
scheduler:
  interval: 30s
executor:
  max_retries: 5
  per_order: true
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, int32(6), cfg.App.DisplayDecimals)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.True(t, cfg.Executor.PerOrder)

	// defaults fill the gaps
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.MetricsDumpInterval)
	assert.Equal(t, time.Second, cfg.Executor.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Allowance.ConfirmPoll)
	assert.Equal(t, "127.0.0.1:8087", cfg.HTTP.Listen)
}

func TestLoad_MemoryBackendNeedsNoSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ledger:\n  backend: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
}

func TestLoad_EVMRequiresRPC(t *testing.T) {
	_, err := Load(writeConfig(t, "ledger:\n  backend: evm\n"))
	assert.ErrorContains(t, err, "rpc_url")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DRIP_RPC_URL", "http://node:8545")
	t.Setenv("DRIP_PRIVATE_KEY", "deadbeef")

	yaml := `
ledger:
  backend: evm
  contract: "0x1111111111111111111111111111111111111111"
  chain_id: 1
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, "deadbeef", cfg.Ledger.PrivateKey)
}

func TestLoad_RejectsTightInterval(t *testing.T) {
	yaml := `
ledger:
  backend: memory
scheduler:
  interval: 100ms
`
	_, err := Load(writeConfig(t, yaml))
	assert.ErrorContains(t, err, "interval")
}

func TestLoad_UnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "ledger:\n  backend: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "backend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
