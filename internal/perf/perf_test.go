package perf

import (
	"math"
	"testing"
	"time"

	"trader/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func trades(pnls ...int64) []model.TradeOutcome {
	result := make([]model.TradeOutcome, len(pnls))
	for i, p := range pnls {
		result[i] = model.TradeOutcome{OrderID: "o", RealizedPnL: decimal.NewFromInt(p)}
	}
	return result
}

func curve(values ...int64) []model.EquityPoint {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result := make([]model.EquityPoint, len(values))
	for i, v := range values {
		result[i] = model.EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Equity: decimal.NewFromInt(v)}
	}
	return result
}

func TestAnalyze(t *testing.T) {
	in := trades(10, -5, 20, -5)
	eq := curve(110, 105, 125, 120)
	r := Analyze(in, eq, decimal.NewFromInt(100), 1)

	assert.Equal(t, 4, r.Trades)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 2, r.Losses)
	assert.InDelta(t, 0.5, r.WinRate, 1e-12)
	assert.True(t, r.GrossProfit.Equal(decimal.NewFromInt(30)))
	assert.True(t, r.GrossLoss.Equal(decimal.NewFromInt(10)))
	assert.InDelta(t, 3.0, r.ProfitFactor, 1e-12)
	assert.False(t, r.ProfitFactorInfinite)
	assert.True(t, r.AvgWin.Equal(decimal.NewFromInt(15)))
	assert.True(t, r.AvgLoss.Equal(decimal.NewFromInt(5)))
	assert.True(t, r.Expectancy.Equal(decimal.NewFromInt(5)))
	assert.True(t, r.TotalReturn.Equal(decimal.RequireFromString("0.2")), r.TotalReturn.String())
	assert.True(t, r.TotalReturnPct.Equal(decimal.NewFromInt(20)))
	assert.True(t, r.MaxDrawdown.Equal(decimal.NewFromInt(5)))
	assert.InDelta(t, 5.0/110.0, r.MaxDrawdownPct, 1e-9)

	assert.Len(t, in, 4, "inputs are not modified")
	assert.True(t, eq[0].Equity.Equal(decimal.NewFromInt(110)))
}

func TestSharpeUsesSampleStd(t *testing.T) {
	returns := []float64{0.01, 0.02, 0.03}
	assert.InDelta(t, 2.0, Sharpe(returns, 1), 1e-9)
	assert.InDelta(t, 2.0*math.Sqrt(252), Sharpe(returns, 252), 1e-9)
	assert.Equal(t, 0.0, Sharpe([]float64{0.01}, 1))
	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01}, 1))
}

func TestSortinoUsesNegativeReturnsOnly(t *testing.T) {
	returns := []float64{0.02, -0.01, -0.03, 0.04}
	assert.InDelta(t, 0.005/math.Sqrt(0.0002), Sortino(returns, 1), 1e-9)
	assert.Equal(t, 0.0, Sortino([]float64{0.01, 0.02, -0.01}, 1))
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	r := Analyze(trades(5, 7), nil, decimal.NewFromInt(100), 1)
	assert.True(t, r.ProfitFactorInfinite)
	assert.True(t, math.IsInf(r.ProfitFactor, 1))
	assert.True(t, r.FinalEquity.Equal(decimal.NewFromInt(112)))
	assert.InDelta(t, 1.0, r.WinRate, 1e-12)
}

func TestAnalyzeEmpty(t *testing.T) {
	r := Analyze(nil, nil, decimal.NewFromInt(100), 365)
	assert.Equal(t, 0, r.Trades)
	assert.Equal(t, 0.0, r.ProfitFactor)
	assert.False(t, r.ProfitFactorInfinite)
	assert.True(t, r.TotalReturn.IsZero())
	assert.True(t, r.MaxDrawdown.IsZero())
	assert.Equal(t, 0.0, r.Sharpe)
}

func TestPeriodReturns(t *testing.T) {
	returns := PeriodReturns(curve(110, 99), decimal.NewFromInt(100))
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, returns, 1e-12)
}
