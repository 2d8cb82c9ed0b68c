package pnl

import (
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// StopLossCheck is the result of validating a stop-loss against its entry.
type StopLossCheck struct {
	Stop     decimal.Decimal
	Distance decimal.Decimal // fraction of entry
	Adjusted bool
	Reason   string
}

// ValidateStopLoss enforces a stop distance in [0.5%, 50%] of entry on the
// losing side of the position. Distances outside the bounds are clamped to
// the nearest bound. A stop on the wrong side of entry is an error.
func ValidateStopLoss(entry, stop decimal.Decimal, side enum.Side) (StopLossCheck, error) {
	if !entry.IsPositive() {
		return StopLossCheck{}, exception.ErrInvalidPrice
	}

	switch side {
	case enum.SideLong:
		if !stop.LessThan(entry) {
			return StopLossCheck{}, exception.ErrStopLossWrongSide
		}
	case enum.SideShort:
		if !stop.GreaterThan(entry) {
			return StopLossCheck{}, exception.ErrStopLossWrongSide
		}
	default:
		return StopLossCheck{}, exception.ErrInvalidSide
	}

	distance := entry.Sub(stop).Abs().Div(entry)
	check := StopLossCheck{Stop: stop, Distance: distance}
	switch {
	case distance.LessThan(MinStopLossDistance):
		check.Stop = StopLossPrice(entry, MinStopLossDistance, side)
		check.Distance = MinStopLossDistance
		check.Adjusted = true
		check.Reason = "widened to minimum distance"
	case distance.GreaterThan(MaxStopLossDistance):
		check.Stop = StopLossPrice(entry, MaxStopLossDistance, side)
		check.Distance = MaxStopLossDistance
		check.Adjusted = true
		check.Reason = "narrowed to maximum distance"
	}
	if check.Adjusted {
		logs.Warnf("stop loss %s for %s entry %s %s: %s", stop, side, entry, check.Reason, check.Stop)
	}
	return check, nil
}

// StopLossPrice returns the stop price pct (fraction) away from entry on the losing side.
func StopLossPrice(entry, pct decimal.Decimal, side enum.Side) decimal.Decimal {
	if side == enum.SideShort {
		return entry.Mul(one.Add(pct))
	}
	return entry.Mul(one.Sub(pct))
}

// PositionSize returns the size that loses equity*riskFraction when stop is hit.
func PositionSize(equity, riskFraction, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	if !riskFraction.IsPositive() || riskFraction.GreaterThan(one) {
		return decimal.Zero, exception.ErrInvalidRiskFraction
	}
	if !entry.IsPositive() || !stop.IsPositive() {
		return decimal.Zero, exception.ErrInvalidPrice
	}
	perUnit := entry.Sub(stop).Abs()
	if perUnit.IsZero() {
		return decimal.Zero, exception.ErrInvalidSize
	}
	return equity.Mul(riskFraction).Div(perUnit), nil
}

// Percent renders a fraction as a percentage value.
func Percent(fraction decimal.Decimal) decimal.Decimal {
	return fraction.Mul(hundred)
}
