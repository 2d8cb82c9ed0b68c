// Package perf computes performance statistics over a finished run. It
// only reads its inputs.
package perf

import (
	"math"

	"trader/internal/model"
	"trader/internal/pnl"

	"github.com/shopspring/decimal"
)

// Report holds money aggregates as decimals and dimensionless ratios as
// float64. ProfitFactorInfinite is set when there are profits and no losses.
type Report struct {
	InitialEquity        decimal.Decimal `json:"initialEquity"`
	FinalEquity          decimal.Decimal `json:"finalEquity"`
	TotalReturn          decimal.Decimal `json:"totalReturn"`
	TotalReturnPct       decimal.Decimal `json:"totalReturnPct"`
	Trades               int             `json:"trades"`
	Wins                 int             `json:"wins"`
	Losses               int             `json:"losses"`
	WinRate              float64         `json:"winRate"`
	GrossProfit          decimal.Decimal `json:"grossProfit"`
	GrossLoss            decimal.Decimal `json:"grossLoss"`
	NetProfit            decimal.Decimal `json:"netProfit"`
	AvgWin               decimal.Decimal `json:"avgWin"`
	AvgLoss              decimal.Decimal `json:"avgLoss"`
	Expectancy           decimal.Decimal `json:"expectancy"`
	ProfitFactor         float64         `json:"profitFactor"`
	ProfitFactorInfinite bool            `json:"profitFactorInfinite"`
	Sharpe               float64         `json:"sharpe"`
	Sortino              float64         `json:"sortino"`
	MaxDrawdown          decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPct       float64         `json:"maxDrawdownPct"`
}

// Analyze computes a Report. periodsPerYear annualizes Sharpe and Sortino;
// use 1 to leave them per period.
func Analyze(trades []model.TradeOutcome, curve []model.EquityPoint, initialCash decimal.Decimal, periodsPerYear float64) Report {
	r := Report{
		InitialEquity: initialCash,
		Trades:        len(trades),
	}

	for _, t := range trades {
		r.NetProfit = r.NetProfit.Add(t.RealizedPnL)
		switch t.RealizedPnL.Sign() {
		case 1:
			r.Wins++
			r.GrossProfit = r.GrossProfit.Add(t.RealizedPnL)
		case -1:
			r.Losses++
			r.GrossLoss = r.GrossLoss.Add(t.RealizedPnL.Neg())
		}
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
		r.Expectancy = r.NetProfit.Div(decimal.NewFromInt(int64(r.Trades)))
	}
	if r.Wins > 0 {
		r.AvgWin = r.GrossProfit.Div(decimal.NewFromInt(int64(r.Wins)))
	}
	if r.Losses > 0 {
		r.AvgLoss = r.GrossLoss.Div(decimal.NewFromInt(int64(r.Losses)))
	}
	switch {
	case r.GrossLoss.IsPositive():
		r.ProfitFactor = r.GrossProfit.Div(r.GrossLoss).InexactFloat64()
	case r.GrossProfit.IsPositive():
		r.ProfitFactor = math.Inf(1)
		r.ProfitFactorInfinite = true
	}

	r.FinalEquity = initialCash.Add(r.NetProfit)
	if len(curve) > 0 {
		r.FinalEquity = curve[len(curve)-1].Equity
	}
	if initialCash.IsPositive() {
		r.TotalReturn = r.FinalEquity.Sub(initialCash).Div(initialCash)
		r.TotalReturnPct = pnl.Percent(r.TotalReturn)
	}

	returns := PeriodReturns(curve, initialCash)
	r.Sharpe = Sharpe(returns, periodsPerYear)
	r.Sortino = Sortino(returns, periodsPerYear)
	r.MaxDrawdown, r.MaxDrawdownPct = MaxDrawdown(curve, initialCash)
	return r
}

// PeriodReturns are the simple returns between consecutive equity points,
// starting from initial.
func PeriodReturns(curve []model.EquityPoint, initial decimal.Decimal) []float64 {
	if len(curve) == 0 {
		return nil
	}
	returns := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev.IsPositive() {
			returns = append(returns, p.Equity.Sub(prev).Div(prev).InexactFloat64())
		}
		prev = p.Equity
	}
	return returns
}

// Sharpe is mean / sample standard deviation x sqrt(periodsPerYear).
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	std := sampleStd(returns)
	if std == 0 {
		return 0
	}
	return mean(returns) / std * math.Sqrt(annualization(periodsPerYear))
}

// Sortino is mean / sample standard deviation of the negative returns x
// sqrt(periodsPerYear).
func Sortino(returns []float64, periodsPerYear float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(returns) < 2 || len(downside) < 2 {
		return 0
	}
	std := sampleStd(downside)
	if std == 0 {
		return 0
	}
	return mean(returns) / std * math.Sqrt(annualization(periodsPerYear))
}

// MaxDrawdown is the largest peak to trough decline of the curve, with
// initial as the first peak. The percentage is relative to that peak.
func MaxDrawdown(curve []model.EquityPoint, initial decimal.Decimal) (decimal.Decimal, float64) {
	peak := initial
	maxDD := decimal.Zero
	maxPct := 0.0
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
			continue
		}
		dd := peak.Sub(p.Equity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if peak.IsPositive() {
			if pct := dd.Div(peak).InexactFloat64(); pct > maxPct {
				maxPct = pct
			}
		}
	}
	return maxDD, maxPct
}

func annualization(periodsPerYear float64) float64 {
	if periodsPerYear <= 0 {
		return 1
	}
	return periodsPerYear
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStd(xs []float64) float64 {
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
