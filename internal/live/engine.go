// Package live wires the ledger, the order pool and the reconciler into one
// decision loop. It is the boundary seen by a host process.
package live

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"trader/internal/backtest"
	"trader/internal/ledger"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/obs"
	"trader/internal/order"
	"trader/internal/perf"
	"trader/internal/reconcile"
	"trader/internal/signal"
	"trader/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Skip reasons reported in Decision.Reason.
const (
	ReasonHold         = "hold"
	ReasonPendingOrder = "pending_order"
	ReasonInFlight     = "order_in_flight"
)

// CandleSource provides historical candles for RunBacktest.
type CandleSource interface {
	Candles(ctx context.Context, pair string, from, to time.Time) ([]model.Candle, error)
}

// CSVDir reads "<dir>/<pair>.csv" files.
type CSVDir string

func (d CSVDir) Candles(_ context.Context, pair string, from, to time.Time) ([]model.Candle, error) {
	candles, errs := backtest.LoadCandlesCSV(filepath.Join(string(d), pair+".csv"), from, to)
	for _, err := range errs {
		logs.Warnf("candle row skipped, pair=%s err: %+v", pair, err)
	}
	if len(candles) == 0 && len(errs) > 0 {
		return nil, errs[0]
	}
	return candles, nil
}

// Decision is what the engine did with one signal. DowngradeErr wraps
// exception.ErrIllegalAction when Downgraded is set.
type Decision struct {
	DecisionID   string
	AssetPair    string
	Signal       model.Signal
	Validation   ledger.Decision
	Downgraded   bool
	DowngradeErr error
	Submitted    bool
	Reason       string
	Result       order.Result
}

// Engine routes validated signals to the order pool. The ledger only moves
// when the reconciler applies a confirmed fill.
type Engine struct {
	ledger     *ledger.Ledger
	pool       *order.Pool
	reconciler *reconcile.Reconciler
	provider   signal.Provider
	candles    CandleSource
	metrics    *obs.Metrics
	now        func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewEngine creates an engine. candles and metrics may be nil.
func NewEngine(l *ledger.Ledger, pool *order.Pool, reconciler *reconcile.Reconciler, provider signal.Provider, candles CandleSource, metrics *obs.Metrics) (*Engine, error) {
	if l == nil || pool == nil || reconciler == nil || provider == nil {
		return nil, exception.ErrNilInstance
	}
	return &Engine{
		ledger:     l,
		pool:       pool,
		reconciler: reconciler,
		provider:   provider,
		candles:    candles,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
		inflight:   make(map[string]struct{}),
	}, nil
}

// Step asks the provider for a decision on pair and acts on it. A provider
// failure is treated as HOLD.
func (e *Engine) Step(ctx context.Context, pair string, size, leverage decimal.Decimal) (Decision, error) {
	mc := model.MarketContext{
		AssetPair: pair,
		Time:      e.now(),
		Position:  e.ledger.Side(pair),
	}
	sig, err := e.provider.Signal(ctx, mc)
	if err != nil {
		logs.Warnf("signal failed, pair=%s err: %+v", pair, err)
		sig = model.Signal{Action: enum.ActionHold, Reasoning: "signal unavailable"}
	}
	return e.OnSignal(ctx, pair, sig, size, leverage)
}

// OnSignal validates sig against the ledger and submits the resulting order.
// An illegal action is downgraded to HOLD and reported, never executed. A
// pair with a submission in flight or an order still waiting for its fill is
// skipped. Closing orders use the size and leverage of the open position.
// OnSignal waits for the submission result but not for the fill.
func (e *Engine) OnSignal(ctx context.Context, pair string, sig model.Signal, size, leverage decimal.Decimal) (Decision, error) {
	sig = sig.Normalize()
	d := Decision{
		DecisionID: uuid.NewString(),
		AssetPair:  pair,
		Signal:     sig,
	}

	if !e.acquire(pair) {
		d.Validation = e.ledger.Validate(pair, sig.Action)
		d.Reason = ReasonInFlight
		logs.Infof("order in flight, decision=%s pair=%s action=%s", d.DecisionID, pair, sig.Action)
		return d, nil
	}
	held := true
	defer func() {
		if held {
			e.release(pair)
		}
	}()

	d.Validation = e.ledger.Validate(pair, sig.Action)
	if !d.Validation.Allowed {
		d.Downgraded = true
		d.Reason = string(d.Validation.Reason)
		d.DowngradeErr = errors.Wrap(exception.ErrIllegalAction, sig.Action.String()+" while "+d.Validation.Current.String())
		e.metrics.Inc(obs.CounterActionDowngraded)
		logs.Warnf("action downgraded, decision=%s pair=%s action=%s side=%s reason=%s",
			d.DecisionID, pair, sig.Action, d.Validation.Current, d.Reason)
		return d, nil
	}
	if d.Validation.Effect == ledger.EffectNone {
		d.Reason = ReasonHold
		return d, nil
	}
	if e.reconciler.HasPending(ctx, pair) {
		d.Reason = ReasonPendingOrder
		logs.Infof("order still pending, decision=%s pair=%s action=%s", d.DecisionID, pair, sig.Action)
		return d, nil
	}

	req := order.Request{
		AssetPair:  pair,
		Action:     sig.Action,
		Intent:     enum.IntentOpen,
		Size:       size,
		Leverage:   leverage,
		DecisionID: d.DecisionID,
	}
	if d.Validation.Effect == ledger.EffectClose {
		pos, ok := e.ledger.Position(pair)
		if !ok {
			return d, errors.Wrap(exception.ErrNoPosition, pair)
		}
		req.Intent = enum.IntentClose
		req.Size = pos.Size
		req.Leverage = pos.Leverage
	}

	done, err := e.pool.Handle(req)
	if err != nil {
		return d, err
	}
	d.Submitted = true

	select {
	case <-ctx.Done():
		// the lane may still send it; keep the pair busy until it answers
		held = false
		go func() {
			<-done
			e.release(pair)
		}()
		return d, ctx.Err()
	case res := <-done:
		d.Result = res
		if !res.Success {
			return d, res.Err
		}
		logs.Infof("order accepted, decision=%s pair=%s key=%s order=%s",
			d.DecisionID, pair, res.IdempotencyKey, res.Order.PlatformOrderID)
		return d, nil
	}
}

func (e *Engine) acquire(pair string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[pair]; busy {
		return false
	}
	e.inflight[pair] = struct{}{}
	return true
}

func (e *Engine) release(pair string) {
	e.inflightMu.Lock()
	delete(e.inflight, pair)
	e.inflightMu.Unlock()
}

// StartReconciler starts the background poll loop.
func (e *Engine) StartReconciler(ctx context.Context) error {
	return e.reconciler.Start(ctx)
}

// StopReconciler stops the poll loop and flushes pending state.
func (e *Engine) StopReconciler(ctx context.Context) error {
	return e.reconciler.Stop(ctx)
}

// Positions returns the open positions of the ledger.
func (e *Engine) Positions() []model.Position {
	return e.ledger.Positions()
}

// BacktestResult is a finished run and its analysis.
type BacktestResult struct {
	State  *backtest.State
	Report perf.Report
}

// RunBacktest replays pair over [from, to] with the engine's provider on a
// fresh simulator. It shares nothing with the live ledger.
func (e *Engine) RunBacktest(ctx context.Context, pair string, from, to time.Time, params backtest.Config) (BacktestResult, error) {
	if e.candles == nil {
		return BacktestResult{}, errors.Wrap(exception.ErrNilInstance, "no candle source")
	}
	candles, err := e.candles.Candles(ctx, pair, from, to)
	if err != nil {
		return BacktestResult{}, err
	}
	sim, err := backtest.NewSimulator(params, e.provider)
	if err != nil {
		return BacktestResult{}, err
	}
	state, err := sim.Run(ctx, pair, candles)
	if err != nil {
		return BacktestResult{}, err
	}
	return BacktestResult{
		State:  state,
		Report: perf.Analyze(state.Trades, state.EquityCurve, state.Config.InitialCash, 1),
	}, nil
}
