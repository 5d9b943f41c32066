// Package params loads the harness's runtime configuration: which
// instruments to trade, account risk parameters, and where the market
// data feed comes from (spec §6, §9).
package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DataSourceMode selects which pkg/datasource.DataSource the harness
// builds the engine around.
type DataSourceMode string

const (
	ModeBacktest DataSourceMode = "backtest"
	ModeLive     DataSourceMode = "live"
)

type Account struct {
	Leverage             string // decimal string, parsed by the caller
	MaxPriceDeviation    string
	LiquidationThreshold string
	MaxFillQtyPerTick    string
	FundingIntervalMin   time.Duration
}

type Node struct {
	MachineID uint16
	LogFile   string
	Verbose   bool
}

type Data struct {
	Mode     DataSourceMode
	LiveURL  string
	Symbols  []string // "ETH-USDT" form
}

type Config struct {
	Account Account
	Node    Node
	Data    Data
}

func Default() Config {
	return Config{
		Account: Account{
			Leverage:             "10",
			MaxPriceDeviation:    "0.05",
			LiquidationThreshold: "0.9",
			MaxFillQtyPerTick:    "1000",
			FundingIntervalMin:   8 * time.Hour,
		},
		Node: Node{
			MachineID: 1,
			LogFile:   "data/hourglass.log",
		},
		Data: Data{
			Mode:    ModeBacktest,
			Symbols: []string{"ETH-USDT"},
		},
	}
}

// LoadFromEnv loads configuration from .env (if present) and the
// environment, falling back to Default() for anything unset. Priority:
// ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ACCOUNT_LEVERAGE"); v != "" {
		cfg.Account.Leverage = v
	}
	if v := os.Getenv("ACCOUNT_MAX_PRICE_DEVIATION"); v != "" {
		cfg.Account.MaxPriceDeviation = v
	}
	if v := os.Getenv("ACCOUNT_LIQUIDATION_THRESHOLD"); v != "" {
		cfg.Account.LiquidationThreshold = v
	}
	if v := os.Getenv("ACCOUNT_MAX_FILL_QTY_PER_TICK"); v != "" {
		cfg.Account.MaxFillQtyPerTick = v
	}
	if v := os.Getenv("ACCOUNT_FUNDING_INTERVAL_MIN"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.Account.FundingIntervalMin = time.Duration(m) * time.Minute
		}
	}

	if v := os.Getenv("NODE_MACHINE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Node.MachineID = uint16(id)
		}
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Node.Verbose = v == "true"
	}

	if v := os.Getenv("DATA_SOURCE_MODE"); v != "" {
		cfg.Data.Mode = DataSourceMode(v)
	}
	if v := os.Getenv("DATA_SOURCE_LIVE_URL"); v != "" {
		cfg.Data.LiveURL = v
	}
	if v := os.Getenv("DATA_SOURCE_SYMBOLS"); v != "" {
		cfg.Data.Symbols = strings.Split(v, ",")
	}

	return cfg
}
