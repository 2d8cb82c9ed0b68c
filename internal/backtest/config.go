package backtest

import (
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	defaultInitialCash           = decimal.NewFromInt(10_000)
	defaultLeverage              = decimal.NewFromInt(1)
	defaultFeeRate               = decimal.RequireFromString("0.0004")
	defaultSlippageBps           = decimal.NewFromInt(5)
	defaultLiquidationMultiplier = decimal.NewFromInt(3)
	defaultMaintenanceMargin     = decimal.RequireFromString("0.005")
	defaultPositionFraction      = decimal.RequireFromString("0.1")
)

const defaultWindowSize = 50

// Config is the parameter set of one run. It is part of every decision
// fingerprint, so two runs with equal configs share cached decisions.
//
// SlippageBps moves every fill adversely, in basis points, and forced
// liquidations use SlippageBps x LiquidationSlippageMultiplier.
// PositionFraction is the share of equity committed as margin per open.
// A positive StopLossPct adds stop-loss exits; with RiskFraction also set,
// the size is chosen so that a stop hit loses RiskFraction of equity.
// CacheKey separates decisions of otherwise equal configs.
type Config struct {
	InitialCash                   decimal.Decimal `json:"initialCash"`
	Leverage                      decimal.Decimal `json:"leverage"`
	FeeRate                       decimal.Decimal `json:"feeRate"`
	SlippageBps                   decimal.Decimal `json:"slippageBps"`
	LiquidationSlippageMultiplier decimal.Decimal `json:"liquidationSlippageMultiplier"`
	MaintenanceMarginRate         decimal.Decimal `json:"maintenanceMarginRate"`
	PositionFraction              decimal.Decimal `json:"positionFraction"`
	StopLossPct                   decimal.Decimal `json:"stopLossPct"`
	RiskFraction                  decimal.Decimal `json:"riskFraction"`
	WindowSize                    int             `json:"windowSize"`
	Seed                          uint64          `json:"seed"`
	CacheKey                      string          `json:"cacheKey"`
}

// DefaultConfig returns 10k cash, 1x leverage, 4bps fee, 5bps slippage and
// 10% of equity per position.
func DefaultConfig() Config {
	return Config{
		InitialCash:                   defaultInitialCash,
		Leverage:                      defaultLeverage,
		FeeRate:                       defaultFeeRate,
		SlippageBps:                   defaultSlippageBps,
		LiquidationSlippageMultiplier: defaultLiquidationMultiplier,
		MaintenanceMarginRate:         defaultMaintenanceMargin,
		PositionFraction:              defaultPositionFraction,
		WindowSize:                    defaultWindowSize,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialCash.IsZero() {
		c.InitialCash = def.InitialCash
	}
	if c.Leverage.IsZero() {
		c.Leverage = def.Leverage
	}
	if c.LiquidationSlippageMultiplier.IsZero() {
		c.LiquidationSlippageMultiplier = def.LiquidationSlippageMultiplier
	}
	if c.MaintenanceMarginRate.IsZero() {
		c.MaintenanceMarginRate = def.MaintenanceMarginRate
	}
	if c.PositionFraction.IsZero() {
		c.PositionFraction = def.PositionFraction
	}
	if c.WindowSize == 0 {
		c.WindowSize = def.WindowSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case !c.InitialCash.IsPositive():
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "InitialCash must be > 0")
	case !c.Leverage.IsPositive():
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "Leverage must be > 0")
	case c.FeeRate.IsNegative() || c.SlippageBps.IsNegative():
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "FeeRate and SlippageBps must be >= 0")
	case c.LiquidationSlippageMultiplier.LessThan(one):
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "LiquidationSlippageMultiplier must be >= 1")
	case c.MaintenanceMarginRate.IsNegative() || c.MaintenanceMarginRate.GreaterThanOrEqual(one):
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "MaintenanceMarginRate must be in [0, 1)")
	case !c.PositionFraction.IsPositive() || c.PositionFraction.GreaterThan(one):
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "PositionFraction must be in (0, 1]")
	case c.StopLossPct.IsNegative() || c.RiskFraction.IsNegative() || c.RiskFraction.GreaterThan(one):
		return errors.Wrap(exception.ErrBacktestInvalidConfig, "StopLossPct must be >= 0 and RiskFraction in [0, 1]")
	case c.WindowSize < 1:
		return errors.Wrap(exception.ErrBacktestInvalidWindow, "WindowSize must be > 0")
	}
	return nil
}
