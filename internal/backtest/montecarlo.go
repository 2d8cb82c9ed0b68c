package backtest

import (
	"math/rand/v2"
	"sort"

	"trader/internal/model"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// MonteCarloResult is the distribution of bootstrap-resampled trade sequences.
type MonteCarloResult struct {
	Iterations        int             `json:"iterations"`
	FinalP5           decimal.Decimal `json:"finalP5"`
	FinalP25          decimal.Decimal `json:"finalP25"`
	FinalP50          decimal.Decimal `json:"finalP50"`
	FinalP75          decimal.Decimal `json:"finalP75"`
	FinalP95          decimal.Decimal `json:"finalP95"`
	FinalMean         decimal.Decimal `json:"finalMean"`
	ProbabilityOfLoss float64         `json:"probabilityOfLoss"`
	MaxDrawdownP50    float64         `json:"maxDrawdownP50"`
	MaxDrawdownP95    float64         `json:"maxDrawdownP95"`
}

// MonteCarlo resamples the realized P&L of trades with replacement. It works
// on the recorded trades only and never calls a signal provider. Equal seeds
// give equal results.
func MonteCarlo(trades []model.TradeOutcome, initialCash decimal.Decimal, iterations int, seed uint64) (MonteCarloResult, error) {
	if len(trades) == 0 {
		return MonteCarloResult{}, errors.Wrap(exception.ErrBacktestInvalidConfig, "no trades to resample")
	}
	if iterations <= 0 || !initialCash.IsPositive() {
		return MonteCarloResult{}, errors.Wrap(exception.ErrBacktestInvalidConfig, "iterations and initial cash must be > 0")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	finals := make([]decimal.Decimal, iterations)
	drawdowns := make([]float64, iterations)
	losses := 0
	sum := decimal.Zero

	for it := range iterations {
		equity, peak := initialCash, initialCash
		worst := 0.0
		for range trades {
			equity = equity.Add(trades[rng.IntN(len(trades))].RealizedPnL)
			if equity.GreaterThan(peak) {
				peak = equity
				continue
			}
			if peak.IsPositive() {
				if dd := peak.Sub(equity).Div(peak).InexactFloat64(); dd > worst {
					worst = dd
				}
			}
		}
		finals[it] = equity
		drawdowns[it] = worst
		sum = sum.Add(equity)
		if equity.LessThan(initialCash) {
			losses++
		}
	}

	sort.Slice(finals, func(i, j int) bool { return finals[i].LessThan(finals[j]) })
	sort.Float64s(drawdowns)
	return MonteCarloResult{
		Iterations:        iterations,
		FinalP5:           finals[percentileIndex(iterations, 0.05)],
		FinalP25:          finals[percentileIndex(iterations, 0.25)],
		FinalP50:          finals[percentileIndex(iterations, 0.50)],
		FinalP75:          finals[percentileIndex(iterations, 0.75)],
		FinalP95:          finals[percentileIndex(iterations, 0.95)],
		FinalMean:         sum.Div(decimal.NewFromInt(int64(iterations))),
		ProbabilityOfLoss: float64(losses) / float64(iterations),
		MaxDrawdownP50:    drawdowns[percentileIndex(iterations, 0.50)],
		MaxDrawdownP95:    drawdowns[percentileIndex(iterations, 0.95)],
	}, nil
}

// percentileIndex is the nearest-rank index of p in a sorted sample of n.
func percentileIndex(n int, p float64) int {
	idx := int(p*float64(n)+0.5) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
