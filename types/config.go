package types

import (
	"math/big"
	"net/url"
	"time"
)

const (
	DefaultPollInterval     = 1 * time.Second
	DefaultResubmitInterval = 15 * time.Second
	DefaultGasBumpPercent   = 10
)

var (
	DefaultGasPrice    = big.NewInt(20000000000)   // 20 gwei
	DefaultMaxGasPrice = big.NewInt(5000000000000) // 5000 gwei
	DefaultGasBumpWei  = big.NewInt(5000000000)    // 5 gwei
)

type Config struct {
	Logger Logger

	// Primary RPC URL, http(s) or ws(s)
	RPCURL           *url.URL
	SecondaryRPCURLs []*url.URL
	// Loaded from the node on start if nil
	ChainID *big.Int

	// How often a pending transaction's fingerprints are checked for receipts
	PollInterval time.Duration
	// How long one attempt is given before the price is recomputed and the
	// transaction resubmitted
	ResubmitInterval time.Duration
	// Overall deadline per transaction. Zero means no deadline.
	Deadline time.Duration

	DefaultGasPrice *big.Int
	MaxGasPrice     *big.Int
	GasBumpPercent  uint64
	GasBumpWei      *big.Int

	// Gas limit used when estimation fails. Zero means such transactions are
	// not sent at all.
	GasEstimateForBadTxs uint64

	KeysDir string
	// Directory of the on-disk journal. Empty means in-memory.
	StoreDir string
}

// SetDefaults fills every unset field with its default value.
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ResubmitInterval <= 0 {
		c.ResubmitInterval = DefaultResubmitInterval
	}
	if c.DefaultGasPrice == nil {
		c.DefaultGasPrice = new(big.Int).Set(DefaultGasPrice)
	}
	if c.MaxGasPrice == nil {
		c.MaxGasPrice = new(big.Int).Set(DefaultMaxGasPrice)
	}
	if c.GasBumpPercent == 0 {
		c.GasBumpPercent = DefaultGasBumpPercent
	}
	if c.GasBumpWei == nil {
		c.GasBumpWei = new(big.Int).Set(DefaultGasBumpWei)
	}
}
