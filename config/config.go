package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barledger/backtest"
	"github.com/rustyeddy/barledger/ledger"
	"github.com/rustyeddy/barledger/market"
	"github.com/rustyeddy/barledger/order"
	"github.com/rustyeddy/barledger/rules"
	"github.com/rustyeddy/barledger/sim"
	"github.com/rustyeddy/barledger/strategies"
)

// Config represents a complete backtest setup
type Config struct {
	Account    AccountConfig        `json:"account" yaml:"account"`
	Run        RunConfig            `json:"run" yaml:"run"`
	Catalog    []rules.TradingRules `json:"catalog" yaml:"catalog"`
	Strategies []StrategyConfig     `json:"strategies" yaml:"strategies"`
	Ledger     LedgerConfig         `json:"ledger" yaml:"ledger"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID             string          `json:"id" yaml:"id"`
	Agent          string          `json:"agent,omitempty" yaml:"agent,omitempty"`
	Broker         string          `json:"broker" yaml:"broker"`
	Currency       string          `json:"currency" yaml:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance" yaml:"initial_balance"`
}

// RunConfig contains execution-loop settings shared by every run
type RunConfig struct {
	FillAt            string          `json:"fill_at" yaml:"fill_at"` // "open" or "close", no default
	NegativeBalance   string          `json:"negative_balance,omitempty" yaml:"negative_balance,omitempty"`
	SpotParticipation decimal.Decimal `json:"spot_participation" yaml:"spot_participation"`
	Timezone          string          `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	CloseOnEnd        bool            `json:"close_on_end" yaml:"close_on_end"`
	Parallel          int             `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// StrategyConfig names a built-in strategy and its parameters
type StrategyConfig struct {
	Name              string `json:"name" yaml:"name"`
	RunID             string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	strategies.Params `yaml:",inline"`
}

// LedgerConfig selects where transactions are kept
type LedgerConfig struct {
	Type   string `json:"type" yaml:"type"` // "memory" or "sqlite"
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CSV    string `json:"csv,omitempty" yaml:"csv,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML first, JSON as fallback)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = &Config{}
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if c.Account.Broker == "" {
		return fmt.Errorf("account.broker is required")
	}
	if c.Account.InitialBalance.IsNegative() {
		return fmt.Errorf("account.initial_balance must not be negative")
	}
	if _, err := market.ParsePriceRef(c.Run.FillAt); err != nil {
		return fmt.Errorf("run.fill_at: %w", err)
	}
	switch sim.NegativePolicy(c.Run.NegativeBalance) {
	case "", sim.Warn, sim.Abort:
	default:
		return fmt.Errorf("run.negative_balance must be 'warn' or 'abort'")
	}
	if _, err := c.location(); err != nil {
		return fmt.Errorf("run.timezone: %w", err)
	}
	if c.Run.Parallel < 0 {
		return fmt.Errorf("run.parallel must not be negative")
	}
	if _, err := c.NewCatalog(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	runs := make(map[string]bool)
	for i, s := range c.Strategies {
		if _, err := strategies.ByName(s.Name, s.Params); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if s.RunID == "" {
			continue
		}
		if runs[s.RunID] {
			return fmt.Errorf("strategies[%d]: duplicate run_id %q", i, s.RunID)
		}
		runs[s.RunID] = true
	}
	switch c.Ledger.Type {
	case "memory":
	case "sqlite":
		if c.Ledger.DBPath == "" {
			return fmt.Errorf("ledger db_path required for sqlite type")
		}
	default:
		return fmt.Errorf("ledger.type must be 'memory' or 'sqlite'")
	}
	return nil
}

func (c *Config) location() (*time.Location, error) {
	if c.Run.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Run.Timezone)
}

// NewCatalog builds the trading-rules catalog.
func (c *Config) NewCatalog() (*rules.MemCatalog, error) {
	return rules.NewCatalog(c.Catalog...)
}

// SimConfig returns the engine settings for one run.
func (c *Config) SimConfig(runID string) (sim.Config, error) {
	loc, err := c.location()
	if err != nil {
		return sim.Config{}, err
	}
	ref, err := market.ParsePriceRef(c.Run.FillAt)
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		RunID:             runID,
		AccountID:         c.Account.ID,
		AgentID:           c.Account.Agent,
		BrokerID:          c.Account.Broker,
		InitialBalance:    c.Account.InitialBalance,
		FillAt:            ref,
		NegativeBalance:   sim.NegativePolicy(c.Run.NegativeBalance),
		SpotParticipation: c.Run.SpotParticipation,
		CloseOnEnd:        c.Run.CloseOnEnd,
		Location:          loc,
	}, nil
}

// Jobs returns one backtest job per configured strategy.
func (c *Config) Jobs() ([]backtest.Job, error) {
	jobs := make([]backtest.Job, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		sc, err := c.SimConfig(s.RunID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, backtest.Job{Strategy: s.Name, Params: s.Params, Config: sc})
	}
	return jobs, nil
}

// OpenLedger opens the configured ledger. The caller closes it.
func (c *Config) OpenLedger() (ledger.Ledger, error) {
	switch c.Ledger.Type {
	case "memory", "":
		return ledger.NewMemory(), nil
	case "sqlite":
		l, err := ledger.NewSQLite(c.Ledger.DBPath)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, errors.New("unknown ledger type " + c.Ledger.Type)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	pct := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return &Config{
		Account: AccountConfig{
			ID:             "SIM-001",
			Broker:         "sim",
			Currency:       "USD",
			InitialBalance: decimal.NewFromInt(10000),
		},
		Run: RunConfig{
			FillAt:          string(market.RefOpen),
			NegativeBalance: string(sim.Warn),
		},
		Catalog: []rules.TradingRules{
			{
				Broker:        "sim",
				Pair:          "BTCUSD",
				LeverageType:  rules.MarginMultiplier,
				LeverageValue: decimal.NewFromInt(10),
				Fees: rules.Schedule{
					{Type: rules.PercentOfNotional, Timing: rules.OnFill, Amount: pct("0.001")},
					{Type: rules.PercentOfNotional, Timing: rules.OnClose, Amount: pct("0.001")},
					{Type: rules.PercentOfMargin, Timing: rules.OnOvernightFilled, Amount: pct("0.0002")},
				},
				MinVolume:       pct("0.001"),
				MinNotional:     decimal.NewFromInt(10),
				AllowLong:       true,
				AllowShort:      true,
				OvernightTiming: rules.OnPeriodChange,
			},
		},
		Strategies: []StrategyConfig{
			{
				Name: "sma-cross",
				Params: strategies.Params{
					Pair:      "BTCUSD",
					Kind:      order.Trading,
					Direction: order.Long,
					Volume:    pct("0.1"),
					Fast:      10,
					Slow:      30,
					StopPct:   pct("0.02"),
					TakePct:   pct("0.04"),
				},
			},
		},
		Ledger: LedgerConfig{
			Type: "memory",
		},
	}
}
