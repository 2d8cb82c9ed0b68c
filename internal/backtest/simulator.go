// Package backtest replays candles through the same ledger and validation
// rules used live. A run is single threaded and deterministic: equal
// candles, config and provider answers always give an equal State.
package backtest

import (
	"context"
	"sort"
	"strconv"
	"time"

	"trader/internal/cache"
	"trader/internal/ledger"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/pnl"
	"trader/internal/signal"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const _sizePrecision = 8

// Simulator holds the runtime shared by all steps of a run: context builder,
// cached provider and slippage model. A new ledger and State are created for
// every Run; the decision cache lives as long as the Simulator.
type Simulator struct {
	cfg      Config
	cache    *cache.Cache
	provider signal.Provider
	builder  ContextBuilder
	slippage SlippageModel
}

// NewSimulator wraps provider with a fresh decision cache.
func NewSimulator(cfg Config, provider signal.Provider) (*Simulator, error) {
	if provider == nil {
		return nil, exception.ErrBacktestNilProvider
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cache.New()
	return &Simulator{
		cfg:      cfg,
		cache:    c,
		provider: cache.Cached(provider, c, cfg),
		builder:  ContextBuilder{Window: cfg.WindowSize},
		slippage: SlippageModel{Bps: cfg.SlippageBps, LiquidationMultiplier: cfg.LiquidationSlippageMultiplier},
	}, nil
}

// Config returns the resolved configuration.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Cache returns the decision cache of this simulator.
func (s *Simulator) Cache() *cache.Cache {
	return s.cache
}

// Run simulates one asset.
func (s *Simulator) Run(ctx context.Context, pair string, candles []model.Candle) (*State, error) {
	return s.RunMulti(ctx, map[string][]model.Candle{pair: candles})
}

type step struct {
	pair   string
	index  int
	candle model.Candle
}

type run struct {
	sim     *Simulator
	state   *State
	windows map[string][]model.Candle
	marks   map[string]decimal.Decimal
	stops   map[string]decimal.Decimal
	last    map[string]model.Candle
}

// RunMulti simulates a small fixed set of assets against one ledger. Candles
// of all assets are merged by time; candles sharing a timestamp are handled
// in asset pair order and produce one equity point.
func (s *Simulator) RunMulti(ctx context.Context, series map[string][]model.Candle) (*State, error) {
	steps := mergeSeries(series)
	if len(steps) == 0 {
		return nil, exception.ErrBacktestNoCandles
	}

	r := &run{
		sim: s,
		state: &State{
			Config: s.cfg,
			Ledger: ledger.New(s.cfg.InitialCash, s.cfg.MaintenanceMarginRate),
			Cache:  s.cache,
		},
		windows: make(map[string][]model.Candle, len(series)),
		marks:   make(map[string]decimal.Decimal, len(series)),
		stops:   make(map[string]decimal.Decimal),
		last:    make(map[string]model.Candle, len(series)),
	}

	for i := 0; i < len(steps); {
		if err := ctx.Err(); err != nil {
			return r.state, err
		}
		at := steps[i].candle.Time
		processed := false
		for ; i < len(steps) && steps[i].candle.Time.Equal(at); i++ {
			if r.step(ctx, steps[i]) {
				processed = true
			}
		}
		if processed {
			r.appendEquity(at)
		}
	}

	r.closeAll()
	logs.Infof("backtest finished, candles=%d skipped=%d trades=%d equity=%s cache_hits=%d cache_misses=%d",
		r.state.Candles, r.state.Skipped, len(r.state.Trades), r.state.FinalEquity(), s.cache.Hits(), s.cache.Misses())
	return r.state, nil
}

func mergeSeries(series map[string][]model.Candle) []step {
	var steps []step
	for pair, candles := range series {
		for i, c := range candles {
			steps = append(steps, step{pair: pair, index: i, candle: c})
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if !a.candle.Time.Equal(b.candle.Time) {
			return a.candle.Time.Before(b.candle.Time)
		}
		if a.pair != b.pair {
			return a.pair < b.pair
		}
		return a.index < b.index
	})
	return steps
}

// step processes one candle and reports whether it was usable.
func (r *run) step(ctx context.Context, st step) bool {
	c := st.candle
	if !c.Valid() {
		r.state.Skipped++
		r.state.logf(c.Time, st.pair, EventSkipCandle, "malformed candle at index "+strconv.Itoa(st.index))
		logs.Warnf("skip malformed candle, pair=%s index=%d", st.pair, st.index)
		return false
	}
	if prev, ok := r.last[st.pair]; ok && !c.Time.After(prev.Time) {
		r.state.Skipped++
		r.state.logf(c.Time, st.pair, EventSkipCandle, "out of order candle at index "+strconv.Itoa(st.index))
		logs.Warnf("skip out of order candle, pair=%s index=%d", st.pair, st.index)
		return false
	}
	r.state.Candles++
	r.last[st.pair] = c
	r.marks[st.pair] = c.Close
	r.pushWindow(st.pair, c)

	r.checkLiquidation(st.pair, c)
	r.checkStopLoss(st.pair, c)

	mc := r.sim.builder.Build(st.pair, r.windows[st.pair], r.state.Ledger.Side(st.pair))
	sig, err := r.sim.provider.Signal(ctx, mc)
	if err != nil {
		r.state.logf(c.Time, st.pair, EventSignalError, err.Error())
		logs.Warnf("signal failed, pair=%s time=%s err: %+v", st.pair, c.Time, err)
		return true
	}

	decision := r.state.Ledger.Validate(st.pair, sig.Action)
	if !decision.Allowed {
		r.state.logf(c.Time, st.pair, EventDowngrade, sig.Action.String()+" downgraded to HOLD: "+string(decision.Reason))
		logs.Warnf("action downgraded, pair=%s action=%s reason=%s", st.pair, sig.Action, decision.Reason)
		return true
	}

	switch decision.Effect {
	case ledger.EffectOpen:
		r.open(st, sig.Action)
	case ledger.EffectClose:
		r.close(st.pair, r.sim.slippage.Fill(c.Close, sig.Action), c.Time, ReasonSignal, EventClose)
	}
	return true
}

func (r *run) pushWindow(pair string, c model.Candle) {
	w := append(r.windows[pair], c)
	if limit := r.sim.cfg.WindowSize; len(w) > limit {
		w = w[len(w)-limit:]
	}
	r.windows[pair] = w
}

// checkLiquidation force-closes a position whose liquidation price was
// touched inside the candle, at that price moved by the liquidation slippage.
func (r *run) checkLiquidation(pair string, c model.Candle) {
	pos, ok := r.state.Ledger.Position(pair)
	if !ok {
		return
	}
	breached := (pos.Side == enum.SideLong && !c.Low.GreaterThan(pos.LiquidationPrice)) ||
		(pos.Side == enum.SideShort && !c.High.LessThan(pos.LiquidationPrice))
	if !breached {
		return
	}

	price := pos.LiquidationPrice
	if pos.Side == enum.SideLong && c.Open.LessThan(price) || pos.Side == enum.SideShort && c.Open.GreaterThan(price) {
		// gapped through the level
		price = c.Open
	}
	exit := r.sim.slippage.LiquidationFill(price, enum.CloseAction(pos.Side))
	logs.Warnf("position liquidated, pair=%s side=%s liq=%s exit=%s", pair, pos.Side, pos.LiquidationPrice, exit)
	r.close(pair, exit, c.Time, ReasonLiquidation, EventLiquidation)
}

func (r *run) checkStopLoss(pair string, c model.Candle) {
	stop, ok := r.stops[pair]
	if !ok {
		return
	}
	pos, open := r.state.Ledger.Position(pair)
	if !open {
		delete(r.stops, pair)
		return
	}
	hit := (pos.Side == enum.SideLong && !c.Low.GreaterThan(stop)) ||
		(pos.Side == enum.SideShort && !c.High.LessThan(stop))
	if !hit {
		return
	}

	price := stop
	if pos.Side == enum.SideLong && c.Open.LessThan(stop) || pos.Side == enum.SideShort && c.Open.GreaterThan(stop) {
		price = c.Open
	}
	r.close(pair, r.sim.slippage.Fill(price, enum.CloseAction(pos.Side)), c.Time, ReasonStopLoss, EventStopLoss)
}

func (r *run) open(st step, action enum.Action) {
	cfg := r.sim.cfg
	c := st.candle
	side := action.OpenSide()
	fill := r.sim.slippage.Fill(c.Close, action)

	equity := r.state.Ledger.Equity(r.marks)
	margin := equity.Mul(cfg.PositionFraction)
	size := margin.Mul(cfg.Leverage).Div(fill)

	var stop decimal.Decimal
	if cfg.StopLossPct.IsPositive() {
		check, err := pnl.ValidateStopLoss(fill, pnl.StopLossPrice(fill, cfg.StopLossPct, side), side)
		if err != nil {
			r.state.logf(c.Time, st.pair, EventFillError, "stop loss: "+err.Error())
			return
		}
		if check.Adjusted {
			r.state.logf(c.Time, st.pair, EventStopAdjusted, "stop loss adjusted: "+check.Reason)
		}
		stop = check.Stop
		if cfg.RiskFraction.IsPositive() {
			riskSize, err := pnl.PositionSize(equity, cfg.RiskFraction, fill, stop)
			if err == nil && riskSize.LessThan(size) {
				size = riskSize
			}
		}
	}

	size = size.Truncate(_sizePrecision)
	if !size.IsPositive() {
		r.state.logf(c.Time, st.pair, EventFillError, "position size rounds to zero")
		return
	}

	fee := pnl.Fee(size.Mul(fill), cfg.FeeRate)
	pos, err := r.state.Ledger.ApplyOpen(ledger.OpenRequest{
		AssetPair:  st.pair,
		Side:       side,
		Size:       size,
		EntryPrice: fill,
		Leverage:   cfg.Leverage,
		Fee:        fee,
		DecisionID: st.pair + "-" + strconv.Itoa(st.index),
		At:         c.Time,
	})
	if err != nil {
		r.state.logf(c.Time, st.pair, EventFillError, err.Error())
		logs.Warnf("open not filled, pair=%s err: %+v", st.pair, err)
		return
	}
	if stop.IsPositive() {
		r.stops[st.pair] = stop
	}
	r.state.logf(c.Time, st.pair, EventOpen, side.String()+" "+pos.Size.String()+" @ "+pos.EntryPrice.String())
}

func (r *run) close(pair string, exit decimal.Decimal, at time.Time, reason string, kind EventKind) {
	pos, ok := r.state.Ledger.Position(pair)
	if !ok {
		return
	}
	fee := pnl.Fee(pos.Size.Mul(exit), r.sim.cfg.FeeRate)
	closed, err := r.state.Ledger.ApplyClose(pair, exit, fee, at)
	if err != nil {
		r.state.logf(at, pair, EventFillError, err.Error())
		logs.Warnf("close not filled, pair=%s err: %+v", pair, err)
		return
	}
	delete(r.stops, pair)
	outcome := closed.Outcome(pos.DecisionID, reason)
	r.state.Trades = append(r.state.Trades, outcome)
	r.state.logf(at, pair, kind, pos.Side.String()+" closed @ "+exit.String()+" pnl "+outcome.RealizedPnL.String())
}

func (r *run) appendEquity(at time.Time) {
	r.state.EquityCurve = append(r.state.EquityCurve, model.EquityPoint{
		Time:   at,
		Equity: r.state.Ledger.Equity(r.marks),
	})
}

// closeAll exits every open position at its last close.
func (r *run) closeAll() {
	var latest time.Time
	closedAny := false
	for _, pos := range r.state.Ledger.Positions() {
		c := r.last[pos.AssetPair]
		exit := r.sim.slippage.Fill(c.Close, enum.CloseAction(pos.Side))
		r.close(pos.AssetPair, exit, c.Time, ReasonEndOfData, EventClose)
		closedAny = true
		if c.Time.After(latest) {
			latest = c.Time
		}
	}
	if !closedAny {
		return
	}
	if n := len(r.state.EquityCurve); n > 0 {
		r.state.EquityCurve[n-1].Equity = r.state.Ledger.Cash()
		return
	}
	r.state.EquityCurve = append(r.state.EquityCurve, model.EquityPoint{Time: latest, Equity: r.state.Ledger.Cash()})
}
