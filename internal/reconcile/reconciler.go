// Package reconcile owns every accepted order until its fill is applied to
// the ledger. It is the only writer of the pending store besides the
// synchronous insert made while an order is being submitted.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trader/internal/adapter"
	"trader/internal/ledger"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/obs"
	"trader/internal/order"
	"trader/pkg/exception"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// PendingStore persists pending orders. Every mutation is a read-modify-write
// taken under an exclusive lock. List skips corrupt entries and reports each
// of them as an exception.ErrDataIntegrity error.
//
// Resolve removes an entry and keeps a tombstone of its order id and
// idempotency key. Add refuses a tombstoned order with
// exception.ErrPendingResolved until Prune drops tombstones older than cutoff.
type PendingStore interface {
	Add(ctx context.Context, p model.PendingOrder) error
	List(ctx context.Context) ([]model.PendingOrder, []error)
	Update(ctx context.Context, orderID string, fn func(*model.PendingOrder) error) error
	Resolve(ctx context.Context, orderID string, status enum.OrderStatus, at time.Time) error
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Flusher is implemented by stores that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// OutcomeSink receives every closed trade. Sinks are append only.
type OutcomeSink interface {
	Record(ctx context.Context, outcome model.TradeOutcome) error
}

// PollStats summarizes one sweep.
type PollStats struct {
	Checked  int
	Filled   int
	Removed  int
	Flagged  int
	Errors   int
	Corrupt  int
	Duration time.Duration
}

// Reconciler polls the broker for every pending order and applies fills to the ledger.
type Reconciler struct {
	cfg     Config
	store   PendingStore
	broker  adapter.Broker
	ledger  *ledger.Ledger
	sink    OutcomeSink
	metrics *obs.Metrics

	pollMu  sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ order.Tracker = (*Reconciler)(nil)

// New creates a reconciler. sink and metrics may be nil.
func New(cfg Config, store PendingStore, broker adapter.Broker, l *ledger.Ledger, sink OutcomeSink, metrics *obs.Metrics) (*Reconciler, error) {
	if store == nil || broker == nil || l == nil {
		return nil, exception.ErrNilInstance
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:     cfg,
		store:   store,
		broker:  broker,
		ledger:  l,
		sink:    sink,
		metrics: metrics,
	}, nil
}

// Track inserts an accepted order into the pending store.
func (r *Reconciler) Track(ctx context.Context, res order.Result) error {
	if res.Order.PlatformOrderID == "" {
		return exception.ErrPendingEmptyOrderID
	}
	p := model.PendingOrder{
		OrderID:        res.Order.PlatformOrderID,
		IdempotencyKey: res.IdempotencyKey,
		DecisionID:     res.Request.DecisionID,
		AssetPair:      res.Request.AssetPair,
		Platform:       r.broker.Platform(),
		Action:         res.Request.Action,
		Intent:         res.Request.Intent,
		Size:           res.Request.Size,
		Leverage:       res.Request.Leverage,
		CreatedAt:      res.Order.CreatedAt,
		LastStatus:     res.Order.Status,
	}
	if err := r.store.Add(ctx, p); err != nil {
		return err
	}
	logs.Infof("order tracked, order=%s key=%s pair=%s intent=%s", p.OrderID, p.IdempotencyKey, p.AssetPair, p.Intent)
	return nil
}

// HasPending reports whether an order for pair is still waiting for its fill.
func (r *Reconciler) HasPending(ctx context.Context, pair string) bool {
	pending, _ := r.store.List(ctx)
	for _, p := range pending {
		if p.AssetPair == pair {
			return true
		}
	}
	return false
}

// Start runs the poll loop in the background until Stop or ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.running.Swap(true) {
		return exception.ErrReconcilerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop, waits for the in-flight poll and flushes the store.
func (r *Reconciler) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}
	r.cancel()
	<-r.done
	r.running.Store(false)

	if f, ok := r.store.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			logs.Errorf("flush pending store, err: %+v", err)
			return err
		}
	}
	logs.Info("reconciler stopped")
	return nil
}

// Run polls once immediately and then every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PollOnce(ctx)
		}
	}
}

// PollOnce checks every pending order once. A failure on one entry never
// affects the others.
func (r *Reconciler) PollOnce(ctx context.Context) PollStats {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	start := time.Now()
	var stats PollStats
	defer func() {
		stats.Duration = time.Since(start)
		r.metrics.ObservePoll(stats.Duration)
		r.metrics.Inc(obs.CounterReconcilePoll)
	}()

	pending, corrupt := r.store.List(ctx)
	for _, err := range corrupt {
		stats.Corrupt++
		r.metrics.Inc(obs.CounterIntegrityError)
		logs.Errorf("skip corrupt pending entry, err: %+v", err)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return stats
		}
		stats.Checked++
		if err := r.check(ctx, p, &stats); err != nil {
			stats.Errors++
			r.metrics.Inc(obs.CounterReconcileError)
			logs.Errorf("reconcile failed, order=%s checks=%d err: %+v", p.OrderID, p.CheckCount, err)
		}
	}
	r.prune(ctx)
	return stats
}

func (r *Reconciler) prune(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := r.store.Prune(ctx, time.Now().UTC().Add(-r.cfg.ResolvedRetention))
	if err != nil {
		logs.Errorf("prune resolved orders, err: %+v", err)
		return
	}
	if n > 0 {
		logs.Debugf("pruned resolved orders, count=%d", n)
	}
}

func (r *Reconciler) check(ctx context.Context, p model.PendingOrder, stats *PollStats) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	report, queryErr := r.broker.QueryOrder(callCtx, adapter.OrderRef{
		AssetPair:       p.AssetPair,
		PlatformOrderID: p.OrderID,
		IdempotencyKey:  p.IdempotencyKey,
	})
	cancel()

	var checks int
	var flagNow bool
	if err := r.store.Update(ctx, p.OrderID, func(entry *model.PendingOrder) error {
		entry.CheckCount++
		if queryErr == nil {
			entry.LastStatus = report.Status
		}
		if entry.CheckCount > r.cfg.StaleThreshold && !entry.Flagged {
			entry.Flagged = true
			flagNow = true
		}
		checks = entry.CheckCount
		return nil
	}); err != nil {
		return err
	}

	if flagNow {
		stats.Flagged++
		r.metrics.Inc(obs.CounterReconcileStale)
		logs.Warnf("order needs manual review, order=%s key=%s checks=%d status=%s",
			p.OrderID, p.IdempotencyKey, checks, p.LastStatus)
	}

	if queryErr != nil {
		return yerrors.Wrap(queryErr, "query order")
	}

	switch report.Status {
	case enum.OrderStatusFilled:
		stats.Filled++
		r.applyFill(ctx, p, report)
		r.metrics.Inc(obs.CounterReconcileResolved)
		return r.resolve(ctx, p, report.Status, checks, stats)

	case enum.OrderStatusRejected, enum.OrderStatusCanceled:
		if report.FilledSize.IsPositive() {
			stats.Filled++
			logs.Warnf("order ended with partial fill, order=%s checks=%d status=%s filled=%s of %s",
				p.OrderID, checks, report.Status, report.FilledSize, p.Size)
			r.applyFill(ctx, p, report)
			r.metrics.Inc(obs.CounterReconcileResolved)
			return r.resolve(ctx, p, report.Status, checks, stats)
		}
		r.metrics.Inc(obs.CounterReconcileRejected)
		logs.Warnf("order ended without fill, order=%s checks=%d status=%s", p.OrderID, checks, report.Status)
		return r.resolve(ctx, p, report.Status, checks, stats)

	default:
		logs.Debugf("order still open, order=%s checks=%d status=%s", p.OrderID, checks, report.Status)
		return nil
	}
}

func (r *Reconciler) resolve(ctx context.Context, p model.PendingOrder, status enum.OrderStatus, checks int, stats *PollStats) error {
	if err := r.store.Resolve(ctx, p.OrderID, status, time.Now().UTC()); err != nil && !errors.Is(err, exception.ErrPendingNotFound) {
		return err
	}
	stats.Removed++
	logs.Infof("order reconciled, order=%s checks=%d", p.OrderID, checks)
	return nil
}

// applyFill updates the ledger for the filled part of an order. The broker has
// already executed it, so a ledger refusal is reported and the entry is still
// resolved. A close that ended before filling completely reduces the position
// by the filled size only.
func (r *Reconciler) applyFill(ctx context.Context, p model.PendingOrder, report model.OrderStatusReport) {
	price := report.AvgPrice
	size := report.FilledSize
	if !size.IsPositive() {
		size = p.Size
	}
	at := report.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch p.Intent {
	case enum.IntentOpen:
		pos, err := r.ledger.ApplyOpen(ledger.OpenRequest{
			AssetPair:  p.AssetPair,
			Side:       p.Action.OpenSide(),
			Size:       size,
			EntryPrice: price,
			Leverage:   p.Leverage,
			Fee:        report.Fee,
			DecisionID: p.DecisionID,
			At:         at,
		})
		if err != nil {
			r.metrics.Inc(obs.CounterIntegrityError)
			logs.Errorf("filled open not applied, order=%s pair=%s err: %+v", p.OrderID, p.AssetPair, err)
			return
		}
		logs.Infof("position opened, order=%s pair=%s side=%s size=%s entry=%s liq=%s",
			p.OrderID, pos.AssetPair, pos.Side, pos.Size, pos.EntryPrice, pos.LiquidationPrice)

	case enum.IntentClose:
		var closed ledger.Closed
		var err error
		if report.Status == enum.OrderStatusFilled {
			closed, err = r.ledger.ApplyClose(p.AssetPair, price, report.Fee, at)
		} else {
			closed, err = r.ledger.ApplyPartialClose(p.AssetPair, size, price, report.Fee, at)
		}
		if err != nil {
			r.metrics.Inc(obs.CounterIntegrityError)
			logs.Errorf("filled close not applied, order=%s pair=%s err: %+v", p.OrderID, p.AssetPair, err)
			return
		}
		outcome := closed.Outcome(p.OrderID, r.cfg.CloseReason)
		logs.Infof("position closed, order=%s pair=%s realized=%s", p.OrderID, p.AssetPair, outcome.RealizedPnL)
		if r.sink == nil {
			return
		}
		if err := r.sink.Record(context.WithoutCancel(ctx), outcome); err != nil {
			logs.Errorf("record trade outcome, order=%s outcome=%+v err: %+v", p.OrderID, outcome, err)
		}
	}
}

// Discrepancy is a difference between the broker's positions and the ledger.
type Discrepancy struct {
	AssetPair  string
	LedgerSide enum.Side
	LedgerSize string
	BrokerSide enum.Side
	BrokerSize string
}

// CrossCheckPositions compares broker positions with the ledger and logs every
// difference. It never mutates either side.
func (r *Reconciler) CrossCheckPositions(ctx context.Context) ([]Discrepancy, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	remote, err := r.broker.GetPositions(callCtx)
	if err != nil {
		return nil, err
	}

	brokerByPair := make(map[string]model.Position, len(remote))
	for _, p := range remote {
		brokerByPair[p.AssetPair] = p
	}

	var diffs []Discrepancy
	seen := make(map[string]struct{})
	for _, local := range r.ledger.Positions() {
		seen[local.AssetPair] = struct{}{}
		b, ok := brokerByPair[local.AssetPair]
		if ok && b.Side == local.Side && b.Size.Equal(local.Size) {
			continue
		}
		d := Discrepancy{AssetPair: local.AssetPair, LedgerSide: local.Side, LedgerSize: local.Size.String(), BrokerSide: enum.SideFlat, BrokerSize: "0"}
		if ok {
			d.BrokerSide, d.BrokerSize = b.Side, b.Size.String()
		}
		diffs = append(diffs, d)
	}
	for pair, b := range brokerByPair {
		if _, ok := seen[pair]; ok {
			continue
		}
		diffs = append(diffs, Discrepancy{AssetPair: pair, LedgerSide: enum.SideFlat, LedgerSize: "0", BrokerSide: b.Side, BrokerSize: b.Size.String()})
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].AssetPair < diffs[j].AssetPair })
	for _, d := range diffs {
		logs.Warnf("position mismatch, pair=%s ledger=%s %s broker=%s %s",
			d.AssetPair, d.LedgerSide, d.LedgerSize, d.BrokerSide, d.BrokerSize)
	}
	return diffs, nil
}
