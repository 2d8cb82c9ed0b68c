package backtest

import (
	"context"
	"math"
	"time"

	"trader/internal/model"
	"trader/internal/perf"
	"trader/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// WalkForwardConfig sizes the rolling windows in candles.
type WalkForwardConfig struct {
	Train          int     `json:"train"`
	Test           int     `json:"test"`
	Step           int     `json:"step"`
	PeriodsPerYear float64 `json:"periodsPerYear"`
}

// SimulatorFactory builds an independent simulator. It is called once per
// segment so that no window shares a ledger, state or decision cache.
type SimulatorFactory func() (*Simulator, error)

// WindowResult is the outcome of one train/test window.
type WindowResult struct {
	Index     int         `json:"index"`
	TrainFrom time.Time   `json:"trainFrom"`
	TrainTo   time.Time   `json:"trainTo"`
	TestFrom  time.Time   `json:"testFrom"`
	TestTo    time.Time   `json:"testTo"`
	Train     perf.Report `json:"train"`
	Test      perf.Report `json:"test"`
}

// WalkForwardResult summarizes out-of-sample stability across windows.
// MeanTestReturn and StdTestReturn are over the test segment total returns,
// ProfitableRatio is the share of windows whose test segment made money and
// Efficiency is mean test return over mean train return (0 when undefined).
type WalkForwardResult struct {
	Windows         []WindowResult `json:"windows"`
	MeanTestReturn  float64        `json:"meanTestReturn"`
	StdTestReturn   float64        `json:"stdTestReturn"`
	ProfitableRatio float64        `json:"profitableRatio"`
	Efficiency      float64        `json:"efficiency"`
}

// WalkForward runs train and test segments of rolling windows, each on a
// fresh simulator from factory.
func WalkForward(ctx context.Context, pair string, candles []model.Candle, cfg WalkForwardConfig, factory SimulatorFactory) (WalkForwardResult, error) {
	if cfg.Train <= 0 || cfg.Test <= 0 {
		return WalkForwardResult{}, errors.Wrap(exception.ErrBacktestInvalidWindow, "Train and Test must be > 0")
	}
	if cfg.Step <= 0 {
		cfg.Step = cfg.Test
	}
	if len(candles) < cfg.Train+cfg.Test {
		return WalkForwardResult{}, errors.Wrap(exception.ErrBacktestNoCandles, "not enough candles for one window")
	}

	var result WalkForwardResult
	for start, idx := 0, 0; start+cfg.Train+cfg.Test <= len(candles); start, idx = start+cfg.Step, idx+1 {
		train := candles[start : start+cfg.Train]
		test := candles[start+cfg.Train : start+cfg.Train+cfg.Test]

		trainReport, err := runSegment(ctx, pair, train, cfg.PeriodsPerYear, factory)
		if err != nil {
			return result, errors.Wrap(err, "train segment")
		}
		testReport, err := runSegment(ctx, pair, test, cfg.PeriodsPerYear, factory)
		if err != nil {
			return result, errors.Wrap(err, "test segment")
		}

		result.Windows = append(result.Windows, WindowResult{
			Index:     idx,
			TrainFrom: train[0].Time,
			TrainTo:   train[len(train)-1].Time,
			TestFrom:  test[0].Time,
			TestTo:    test[len(test)-1].Time,
			Train:     trainReport,
			Test:      testReport,
		})
		logs.Infof("walk-forward window %d, train_return=%s test_return=%s", idx, trainReport.TotalReturn, testReport.TotalReturn)
	}

	result.summarize()
	return result, nil
}

func runSegment(ctx context.Context, pair string, candles []model.Candle, periodsPerYear float64, factory SimulatorFactory) (perf.Report, error) {
	sim, err := factory()
	if err != nil {
		return perf.Report{}, err
	}
	state, err := sim.Run(ctx, pair, candles)
	if err != nil {
		return perf.Report{}, err
	}
	return perf.Analyze(state.Trades, state.EquityCurve, state.Config.InitialCash, periodsPerYear), nil
}

func (r *WalkForwardResult) summarize() {
	n := len(r.Windows)
	if n == 0 {
		return
	}
	var sumTest, sumTrain float64
	profitable := 0
	tests := make([]float64, n)
	for i, w := range r.Windows {
		tests[i] = w.Test.TotalReturn.InexactFloat64()
		sumTest += tests[i]
		sumTrain += w.Train.TotalReturn.InexactFloat64()
		if w.Test.TotalReturn.IsPositive() {
			profitable++
		}
	}
	r.MeanTestReturn = sumTest / float64(n)
	r.ProfitableRatio = float64(profitable) / float64(n)
	if meanTrain := sumTrain / float64(n); meanTrain != 0 {
		r.Efficiency = r.MeanTestReturn / meanTrain
	}
	if n > 1 {
		ss := 0.0
		for _, v := range tests {
			ss += (v - r.MeanTestReturn) * (v - r.MeanTestReturn)
		}
		r.StdTestReturn = math.Sqrt(ss / float64(n-1))
	}
}
