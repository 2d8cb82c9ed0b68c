package backtest

import (
	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

var _bpsDivisor = decimal.NewFromInt(10_000)

// SlippageModel moves every fill against the trader by a fixed number of
// basis points. It has no randomness.
type SlippageModel struct {
	Bps                   decimal.Decimal
	LiquidationMultiplier decimal.Decimal
}

// Fill returns the execution price of action at price. Buys fill higher and
// sells lower.
func (m SlippageModel) Fill(price decimal.Decimal, action enum.Action) decimal.Decimal {
	return m.apply(price, action, m.Bps)
}

// LiquidationFill is Fill with the slippage scaled by LiquidationMultiplier.
func (m SlippageModel) LiquidationFill(price decimal.Decimal, action enum.Action) decimal.Decimal {
	return m.apply(price, action, m.Bps.Mul(m.LiquidationMultiplier))
}

func (m SlippageModel) apply(price decimal.Decimal, action enum.Action, bps decimal.Decimal) decimal.Decimal {
	rate := bps.Div(_bpsDivisor)
	switch action {
	case enum.ActionBuy:
		return price.Mul(decimal.NewFromInt(1).Add(rate))
	case enum.ActionSell:
		return price.Mul(decimal.NewFromInt(1).Sub(rate))
	default:
		return price
	}
}
