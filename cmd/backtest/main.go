package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trader/internal/backtest"
	"trader/internal/ops"
	"trader/internal/perf"
	tsignal "trader/internal/signal"

	"github.com/yanun0323/logs"
)

func main() {
	csvPath := flag.String("csv", "", "Candle CSV (time,open,high,low,close,volume)")
	pair := flag.String("pair", "BTC-USDT", "Asset pair name of the CSV")
	configPath := flag.String("config", "", "Path to JSON config; only the backtest and signal sections are used")
	signalURL := flag.String("signal", "", "Signal service URL (overrides config, empty=HOLD)")
	from := flag.String("from", "", "First candle time, RFC 3339 (empty=unbounded)")
	to := flag.String("to", "", "Last candle time, RFC 3339 (empty=unbounded)")
	cachePath := flag.String("cache", "", "Decision cache file, loaded before and saved after the run")
	periods := flag.Float64("periods-per-year", 8760, "Candles per year for Sharpe/Sortino annualization")
	walkTrain := flag.Int("walk-train", 0, "Walk-forward train window in candles (0=disable)")
	walkTest := flag.Int("walk-test", 0, "Walk-forward test window in candles")
	walkStep := flag.Int("walk-step", 0, "Walk-forward step in candles (default: test window)")
	mcIterations := flag.Int("montecarlo", 0, "Monte Carlo iterations over the trades (0=disable)")
	seed := flag.Uint64("seed", 1, "Monte Carlo seed")
	flag.Parse()

	if *csvPath == "" {
		log.Fatalf("-csv is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	url := loaded.Signal.URL
	if *signalURL != "" {
		url = *signalURL
	}
	var provider tsignal.Provider = tsignal.Hold
	if url != "" {
		provider = tsignal.NewHTTPProvider(&http.Client{}, url, loaded.Signal.Timeout)
	}

	fromTime, err := parseBound(*from)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	toTime, err := parseBound(*to)
	if err != nil {
		log.Fatalf("invalid -to: %v", err)
	}
	candles, rowErrs := backtest.LoadCandlesCSV(*csvPath, fromTime, toTime)
	for _, err := range rowErrs {
		logs.Warnf("candle row skipped, err: %+v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("no candles loaded from %s", *csvPath)
	}

	sim, err := backtest.NewSimulator(loaded.Backtest, provider)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}
	if *cachePath != "" {
		if err := sim.Cache().Load(*cachePath); err != nil {
			log.Fatalf("load decision cache: %v", err)
		}
	}

	state, err := sim.Run(ctx, *pair, candles)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	if *cachePath != "" {
		if err := sim.Cache().Save(*cachePath); err != nil {
			logs.Errorf("save decision cache, err: %+v", err)
		}
	}

	out := os.Stdout
	report := perf.Analyze(state.Trades, state.EquityCurve, state.Config.InitialCash, *periods)
	fmt.Fprintf(out, "%s: %d candles (%d skipped), decisions cached %d (hits %d)\n",
		*pair, state.Candles, state.Skipped, sim.Cache().Len(), sim.Cache().Hits())
	printReport(out, report)
	fmt.Fprintf(out, "downgraded actions: %d, liquidations: %d, stop losses: %d\n",
		len(state.Events(backtest.EventDowngrade)), len(state.Events(backtest.EventLiquidation)), len(state.Events(backtest.EventStopLoss)))

	if *walkTrain > 0 {
		cfg := backtest.WalkForwardConfig{Train: *walkTrain, Test: *walkTest, Step: *walkStep, PeriodsPerYear: *periods}
		factory := func() (*backtest.Simulator, error) {
			return backtest.NewSimulator(loaded.Backtest, provider)
		}
		wf, err := backtest.WalkForward(ctx, *pair, candles, cfg, factory)
		if err != nil {
			log.Fatalf("walk-forward failed: %v", err)
		}
		printWalkForward(out, wf)
	}

	if *mcIterations > 0 {
		mc, err := backtest.MonteCarlo(state.Trades, state.Config.InitialCash, *mcIterations, *seed)
		if err != nil {
			log.Fatalf("monte carlo failed: %v", err)
		}
		printMonteCarlo(out, mc)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default()
	}
	return ops.Load(path)
}

func parseBound(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func printReport(w io.Writer, r perf.Report) {
	pf := fmt.Sprintf("%.3f", r.ProfitFactor)
	if r.ProfitFactorInfinite {
		pf = "inf"
	}
	fmt.Fprintf(w, "equity       %s -> %s (%s%%)\n", r.InitialEquity.StringFixed(2), r.FinalEquity.StringFixed(2), r.TotalReturnPct.StringFixed(2))
	fmt.Fprintf(w, "trades       %d (won %d, lost %d, win rate %.2f%%)\n", r.Trades, r.Wins, r.Losses, r.WinRate*100)
	fmt.Fprintf(w, "net profit   %s (gross +%s / -%s)\n", r.NetProfit.StringFixed(2), r.GrossProfit.StringFixed(2), r.GrossLoss.StringFixed(2))
	fmt.Fprintf(w, "avg win/loss %s / %s, expectancy %s\n", r.AvgWin.StringFixed(2), r.AvgLoss.StringFixed(2), r.Expectancy.StringFixed(2))
	fmt.Fprintf(w, "profit factor %s, sharpe %.3f, sortino %.3f\n", pf, r.Sharpe, r.Sortino)
	fmt.Fprintf(w, "max drawdown %s (%.2f%%)\n", r.MaxDrawdown.StringFixed(2), r.MaxDrawdownPct*100)
}

func printWalkForward(w io.Writer, r backtest.WalkForwardResult) {
	fmt.Fprintf(w, "walk-forward: %d windows\n", len(r.Windows))
	for _, win := range r.Windows {
		fmt.Fprintf(w, "  #%d train %s..%s %s | test %s..%s %s\n", win.Index,
			win.TrainFrom.Format(time.DateOnly), win.TrainTo.Format(time.DateOnly), win.Train.TotalReturn.StringFixed(4),
			win.TestFrom.Format(time.DateOnly), win.TestTo.Format(time.DateOnly), win.Test.TotalReturn.StringFixed(4))
	}
	fmt.Fprintf(w, "  test return mean %.4f std %.4f, profitable %.0f%%, efficiency %.3f\n",
		r.MeanTestReturn, r.StdTestReturn, r.ProfitableRatio*100, r.Efficiency)
}

func printMonteCarlo(w io.Writer, r backtest.MonteCarloResult) {
	fmt.Fprintf(w, "monte carlo: %d iterations\n", r.Iterations)
	fmt.Fprintf(w, "  final equity p5 %s p25 %s p50 %s p75 %s p95 %s mean %s\n",
		r.FinalP5.StringFixed(2), r.FinalP25.StringFixed(2), r.FinalP50.StringFixed(2),
		r.FinalP75.StringFixed(2), r.FinalP95.StringFixed(2), r.FinalMean.StringFixed(2))
	fmt.Fprintf(w, "  probability of loss %.2f%%, max drawdown p50 %.2f%% p95 %.2f%%\n",
		r.ProbabilityOfLoss*100, r.MaxDrawdownP50*100, r.MaxDrawdownP95*100)
}
