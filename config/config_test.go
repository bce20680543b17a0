package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/celer-network/eth-txmgr/config"
	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/logger"
	"github.com/celer-network/eth-txmgr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
  format: json
node:
  rpc_url: http://localhost:8545
  secondary_rpc_urls:
    - https://backup.example.org
  chain_id: 1337
txmanager:
  poll_interval: 500ms
  resubmit_interval: 30s
  deadline: 10m
  gas:
    default_gwei: 2
    max_gwei: 2000
    bump_percent: 15
    bump_gwei: 0.5
keys_dir: /var/lib/keys
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestInitConfig(t *testing.T) {
	cfg, err := config.InitConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://localhost:8545", cfg.Node.RPCURL)
	assert.Equal(t, []string{"https://backup.example.org"}, cfg.Node.SecondaryRPCURLs)
	assert.Equal(t, 500*time.Millisecond, cfg.TxManager.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.TxManager.Deadline)

	txmConfig, err := cfg.ToTxManagerConfig(logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(1337), txmConfig.ChainID.Int64())
	assert.Equal(t, gas.FromGwei(2), txmConfig.DefaultGasPrice)
	assert.Equal(t, gas.FromGwei(2000), txmConfig.MaxGasPrice)
	assert.Equal(t, gas.FromGwei(0.5), txmConfig.GasBumpWei)
	assert.Equal(t, uint64(15), txmConfig.GasBumpPercent)
	assert.Equal(t, 30*time.Second, txmConfig.ResubmitInterval)
	assert.Equal(t, "/var/lib/keys", txmConfig.KeysDir)
	require.Len(t, txmConfig.SecondaryRPCURLs, 1)
	assert.Equal(t, "backup.example.org", txmConfig.SecondaryRPCURLs[0].Host)
}

func TestInitConfig_EnvOverride(t *testing.T) {
	t.Setenv("ETHTXMGR_TXMANAGER__GAS__MAX_GWEI", "3000")
	t.Setenv("ETHTXMGR_NODE__RPC_URL", "ws://node:8546")

	cfg, err := config.InitConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, float64(3000), cfg.TxManager.Gas.MaxGwei)
	assert.Equal(t, "ws://node:8546", cfg.Node.RPCURL)
}

func TestInitConfig_Defaults(t *testing.T) {
	cfg, err := config.InitConfig(writeConfig(t, "node:\n  rpc_url: http://localhost:8545\n"))
	require.NoError(t, err)

	txmConfig, err := cfg.ToTxManagerConfig(logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, txmConfig.ChainID)
	assert.Equal(t, types.DefaultPollInterval, txmConfig.PollInterval)
	assert.Equal(t, types.DefaultResubmitInterval, txmConfig.ResubmitInterval)
	assert.Equal(t, types.DefaultGasPrice, txmConfig.DefaultGasPrice)
	assert.Equal(t, types.DefaultMaxGasPrice, txmConfig.MaxGasPrice)
	assert.Equal(t, uint64(types.DefaultGasBumpPercent), txmConfig.GasBumpPercent)
}

func TestInitConfig_Invalid(t *testing.T) {
	_, err := config.InitConfig(writeConfig(t, "log:\n  format: xml\nnode:\n  rpc_url: http://x\n"))
	require.Error(t, err)

	_, err = config.InitConfig(writeConfig(t, "node:\n  chain_id: 5\n"))
	require.Error(t, err)

	_, err = config.InitConfig(writeConfig(t, "node:\n  rpc_url: http://x\ntxmanager:\n  gas:\n    default_gwei: 10\n    max_gwei: 5\n"))
	require.Error(t, err)

	_, err = config.InitConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
