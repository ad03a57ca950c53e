package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`

	Oracle OracleConfig `toml:"oracle"`
	Risk   RiskConfig   `toml:"risk"`
	Pools  []PoolConfig `toml:"pool"`
}

// OracleConfig controls quote freshness and the sequencer probe.
type OracleConfig struct {
	MaxQuoteAgeSeconds uint64 `toml:"MaxQuoteAgeSeconds"`
	SequencerEndpoint  string `toml:"SequencerEndpoint"`
}

// RiskConfig carries the protocol-wide risk parameters. LTV values are
// expressed in basis points of collateral value; 40000 is a 400% LTV.
type RiskConfig struct {
	LiquidationDiscountBps uint64 `toml:"LiquidationDiscountBps"`
	LtvTimelockSeconds     uint64 `toml:"LtvTimelockSeconds"`
	MinLtvBps              uint64 `toml:"MinLtvBps"`
	MaxLtvBps              uint64 `toml:"MaxLtvBps"`
}

// PoolConfig seeds one lending market at startup.
type PoolConfig struct {
	ID                string  `toml:"ID"`
	Asset             string  `toml:"Asset"`
	Owner             string  `toml:"Owner"`
	FeeRecipient      string  `toml:"FeeRecipient"`
	PoolCap           string  `toml:"PoolCap"`
	BorrowCap         string  `toml:"BorrowCap"`
	InterestFeeBps    uint64  `toml:"InterestFeeBps"`
	OriginationFeeBps uint64  `toml:"OriginationFeeBps"`
	RateModel         string  `toml:"RateModel"`
	BaseRate          float64 `toml:"BaseRate"`
	Slope1            float64 `toml:"Slope1"`
	Slope2            float64 `toml:"Slope2"`
	Kink              float64 `toml:"Kink"`

	// Per-asset LTVs for this pool, keyed by asset address, in basis points.
	Ltvs map[string]uint64 `toml:"Ltvs"`
}

// Load reads and normalises the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise applies defaults for everything left unset.
func (c *Config) Normalise() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./sterling-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Oracle.MaxQuoteAgeSeconds == 0 {
		c.Oracle.MaxQuoteAgeSeconds = 3_600
	}
	if c.Risk.LiquidationDiscountBps == 0 {
		c.Risk.LiquidationDiscountBps = 1_000
	}
	if c.Risk.LtvTimelockSeconds == 0 {
		c.Risk.LtvTimelockSeconds = 86_400
	}
	if c.Risk.MaxLtvBps == 0 {
		c.Risk.MaxLtvBps = 50_000
	}
	for i := range c.Pools {
		pool := &c.Pools[i]
		if strings.TrimSpace(pool.RateModel) == "" {
			pool.RateModel = "kinked"
		}
		if pool.RateModel == "kinked" && pool.Kink == 0 {
			pool.BaseRate = 0.02
			pool.Slope1 = 0.15
			pool.Slope2 = 0.6
			pool.Kink = 0.8
		}
	}
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if c.Risk.MinLtvBps > c.Risk.MaxLtvBps {
		return fmt.Errorf("config: MinLtvBps %d above MaxLtvBps %d", c.Risk.MinLtvBps, c.Risk.MaxLtvBps)
	}
	seen := make(map[string]bool, len(c.Pools))
	for _, pool := range c.Pools {
		id := strings.TrimSpace(pool.ID)
		if id == "" {
			return fmt.Errorf("config: pool with empty ID")
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate pool %q", id)
		}
		seen[id] = true
		if strings.TrimSpace(pool.Asset) == "" {
			return fmt.Errorf("config: pool %q has no asset", id)
		}
		if pool.InterestFeeBps > 10_000 || pool.OriginationFeeBps > 10_000 {
			return fmt.Errorf("config: pool %q fee above 100%%", id)
		}
		switch pool.RateModel {
		case "kinked", "fixed":
		default:
			return fmt.Errorf("config: pool %q unknown rate model %q", id, pool.RateModel)
		}
	}
	return nil
}
