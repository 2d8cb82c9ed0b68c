// Package pnl holds the pure profit-and-loss, margin and liquidation math
// shared by live trading and backtesting. Nothing here performs I/O or keeps
// state; every value is a fixed-point decimal.
package pnl

import (
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// LiquidationFallbackDistance is the distance from entry used when the
	// liquidation formula lands on the wrong side of entry.
	LiquidationFallbackDistance = decimal.RequireFromString("0.02")

	MinStopLossDistance = decimal.RequireFromString("0.005")
	MaxStopLossDistance = decimal.RequireFromString("0.5")
)

// Direction returns +1 for LONG, -1 for SHORT and 0 otherwise.
func Direction(side enum.Side) decimal.Decimal {
	switch side {
	case enum.SideLong:
		return one
	case enum.SideShort:
		return one.Neg()
	default:
		return decimal.Zero
	}
}

// PnL returns (exit - entry) * size * direction.
func PnL(entry, exit, size decimal.Decimal, side enum.Side) decimal.Decimal {
	return exit.Sub(entry).Mul(size).Mul(Direction(side))
}

// Unrealized marks an open position at price mark.
func Unrealized(pos model.Position, mark decimal.Decimal) decimal.Decimal {
	if !pos.IsOpen() {
		return decimal.Zero
	}
	return PnL(pos.EntryPrice, mark, pos.Size, pos.Side)
}

// Realized returns the P&L of closing pos at exit, net of fees.
func Realized(pos model.Position, exit, fees decimal.Decimal) decimal.Decimal {
	return PnL(pos.EntryPrice, exit, pos.Size, pos.Side).Sub(fees)
}

// MarginRequired returns notional / leverage.
func MarginRequired(notional, leverage decimal.Decimal) (decimal.Decimal, error) {
	if !leverage.IsPositive() {
		return decimal.Zero, exception.ErrInvalidLeverage
	}
	return notional.Div(leverage), nil
}

// Fee returns notional * rate.
func Fee(notional, rate decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(rate)
}

// LiquidationPrice computes the price at which the margin of a position is
// exhausted. LONG: entry*(1 - 1/L + mmr). SHORT: entry*(1 + 1/L - mmr).
// A result on the wrong side of entry is replaced with a price
// LiquidationFallbackDistance away from entry and clamped is true.
func LiquidationPrice(entry, leverage decimal.Decimal, side enum.Side, mmr decimal.Decimal) (price decimal.Decimal, clamped bool, err error) {
	if !entry.IsPositive() {
		return decimal.Zero, false, exception.ErrInvalidPrice
	}
	if !leverage.IsPositive() {
		return decimal.Zero, false, exception.ErrInvalidLeverage
	}

	inv := one.Div(leverage)
	switch side {
	case enum.SideLong:
		price = entry.Mul(one.Sub(inv).Add(mmr))
		if price.GreaterThanOrEqual(entry) || !price.IsPositive() {
			fallback := entry.Mul(one.Sub(LiquidationFallbackDistance))
			logs.Warnf("liquidation price %s not below entry %s (leverage %s, mmr %s), clamped to %s",
				price, entry, leverage, mmr, fallback)
			return fallback, true, nil
		}
	case enum.SideShort:
		price = entry.Mul(one.Add(inv).Sub(mmr))
		if price.LessThanOrEqual(entry) {
			fallback := entry.Mul(one.Add(LiquidationFallbackDistance))
			logs.Warnf("liquidation price %s not above entry %s (leverage %s, mmr %s), clamped to %s",
				price, entry, leverage, mmr, fallback)
			return fallback, true, nil
		}
	default:
		return decimal.Zero, false, exception.ErrInvalidSide
	}
	return price, false, nil
}

// IsLiquidated reports whether mark has breached the position's liquidation price.
func IsLiquidated(pos model.Position, mark decimal.Decimal) bool {
	if !pos.IsOpen() || !pos.LiquidationPrice.IsPositive() {
		return false
	}
	switch pos.Side {
	case enum.SideLong:
		return mark.LessThanOrEqual(pos.LiquidationPrice)
	case enum.SideShort:
		return mark.GreaterThanOrEqual(pos.LiquidationPrice)
	default:
		return false
	}
}
