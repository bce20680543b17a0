// Package config enables config file parsing.
package config

import (
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/celer-network/eth-txmgr/gas"
	"github.com/celer-network/eth-txmgr/logger"
	"github.com/celer-network/eth-txmgr/types"
)

// EnvPrefix is stripped from environment variables before they are merged
// over the config file. `__` separates hierarchy levels, e.g.
// ETHTXMGR_TXMANAGER__GAS__MAX_GWEI.
const EnvPrefix = "ETHTXMGR_"

// Config contains the file configuration.
type Config struct {
	Log       *LogConfig       `koanf:"log"`
	Node      NodeConfig       `koanf:"node"`
	TxManager *TxManagerConfig `koanf:"txmanager"`
	KeysDir   string           `koanf:"keys_dir"`
	// Empty keeps the journal in memory.
	StoreDir string `koanf:"store_dir"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return errors.Wrap(err, "log")
		}
	}
	if err := cfg.Node.Validate(); err != nil {
		return errors.Wrap(err, "node")
	}
	if cfg.TxManager != nil {
		if err := cfg.TxManager.Validate(); err != nil {
			return errors.Wrap(err, "txmanager")
		}
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
	// Format is either "console" or "json".
	Format string `koanf:"format"`
}

func (cfg *LogConfig) Validate() error {
	switch cfg.Format {
	case "", "console", "json":
	default:
		return errors.Errorf("unsupported log format %q", cfg.Format)
	}
	return nil
}

// NodeConfig describes how to reach the ethereum node.
type NodeConfig struct {
	RPCURL           string   `koanf:"rpc_url"`
	SecondaryRPCURLs []string `koanf:"secondary_rpc_urls"`
	// Zero means the chain ID is queried from the node.
	ChainID int64 `koanf:"chain_id"`
}

func (cfg *NodeConfig) Validate() error {
	if cfg.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if _, err := url.Parse(cfg.RPCURL); err != nil {
		return errors.Wrap(err, "rpc_url")
	}
	for _, u := range cfg.SecondaryRPCURLs {
		if _, err := url.Parse(u); err != nil {
			return errors.Wrap(err, "secondary_rpc_urls")
		}
	}
	return nil
}

// TxManagerConfig holds the submission timing and gas pricing knobs.
type TxManagerConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	ResubmitInterval time.Duration `koanf:"resubmit_interval"`
	Deadline         time.Duration `koanf:"deadline"`
	Gas              GasConfig     `koanf:"gas"`
}

func (cfg *TxManagerConfig) Validate() error {
	if cfg.PollInterval < 0 || cfg.ResubmitInterval < 0 || cfg.Deadline < 0 {
		return errors.New("intervals must not be negative")
	}
	return cfg.Gas.Validate()
}

// GasConfig amounts are in gwei.
type GasConfig struct {
	DefaultGwei       float64 `koanf:"default_gwei"`
	MaxGwei           float64 `koanf:"max_gwei"`
	BumpPercent       uint64  `koanf:"bump_percent"`
	BumpGwei          float64 `koanf:"bump_gwei"`
	EstimateForBadTxs uint64  `koanf:"estimate_for_bad_txs"`
}

func (cfg *GasConfig) Validate() error {
	if cfg.DefaultGwei < 0 || cfg.MaxGwei < 0 || cfg.BumpGwei < 0 {
		return errors.New("gas amounts must not be negative")
	}
	if cfg.MaxGwei != 0 && cfg.DefaultGwei > cfg.MaxGwei {
		return errors.Errorf("default_gwei %v exceeds max_gwei %v", cfg.DefaultGwei, cfg.MaxGwei)
	}
	return nil
}

// InitConfig initializes the configuration from a yaml file, with
// environment variables merged on top.
func InitConfig(f string) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(file.Provider(f), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "could not load config file %s", f)
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "could not load environment")
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// NewLogger builds the logger described by the log section.
func (cfg *Config) NewLogger() (*logger.ZapLogger, error) {
	if cfg.Log == nil {
		return logger.New("info", false)
	}
	return logger.New(cfg.Log.Level, cfg.Log.Format == "json")
}

// ToTxManagerConfig converts the file configuration into the engine's
// configuration. Unset values take their defaults.
func (cfg *Config) ToTxManagerConfig(log types.Logger) (*types.Config, error) {
	rpcURL, err := url.Parse(cfg.Node.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid rpc_url")
	}
	var secondaryURLs []*url.URL
	for _, s := range cfg.Node.SecondaryRPCURLs {
		u, err := url.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "invalid secondary rpc url")
		}
		secondaryURLs = append(secondaryURLs, u)
	}

	c := &types.Config{
		Logger:           log,
		RPCURL:           rpcURL,
		SecondaryRPCURLs: secondaryURLs,
		KeysDir:          cfg.KeysDir,
		StoreDir:         cfg.StoreDir,
	}
	if cfg.Node.ChainID != 0 {
		c.ChainID = big.NewInt(cfg.Node.ChainID)
	}
	if tm := cfg.TxManager; tm != nil {
		c.PollInterval = tm.PollInterval
		c.ResubmitInterval = tm.ResubmitInterval
		c.Deadline = tm.Deadline
		c.GasBumpPercent = tm.Gas.BumpPercent
		c.GasEstimateForBadTxs = tm.Gas.EstimateForBadTxs
		if tm.Gas.DefaultGwei > 0 {
			c.DefaultGasPrice = gas.FromGwei(tm.Gas.DefaultGwei)
		}
		if tm.Gas.MaxGwei > 0 {
			c.MaxGasPrice = gas.FromGwei(tm.Gas.MaxGwei)
		}
		if tm.Gas.BumpGwei > 0 {
			c.GasBumpWei = gas.FromGwei(tm.Gas.BumpGwei)
		}
	}
	c.SetDefaults()
	return c, nil
}
