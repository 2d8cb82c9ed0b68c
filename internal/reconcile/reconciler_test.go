package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trader/internal/ledger"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/obs"
	"trader/internal/order"
	"trader/internal/order/delegator/paper"
	"trader/internal/storage"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []model.TradeOutcome
}

func (s *recordingSink) Record(_ context.Context, o model.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *recordingSink) all() []model.TradeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TradeOutcome(nil), s.outcomes...)
}

type testEnv struct {
	broker     *paper.Broker
	store      *storage.FilePendingStore
	ledger     *ledger.Ledger
	sink       *recordingSink
	metrics    *obs.Metrics
	reconciler *Reconciler
	exec       *order.Executor
}

func newTestEnv(t *testing.T, cfg Config, fillAfter int) *testEnv {
	t.Helper()
	env := &testEnv{
		broker:  paper.New(paper.Config{Cash: decimal.NewFromInt(10_000), FillAfter: fillAfter}),
		store:   storage.NewFilePendingStore(filepath.Join(t.TempDir(), "pending.json")),
		ledger:  ledger.New(decimal.NewFromInt(10_000), decimal.RequireFromString("0.005")),
		sink:    &recordingSink{},
		metrics: obs.NewMetrics(),
	}
	env.broker.SetMark("BTC-USDT", decimal.NewFromInt(50_000))
	env.broker.SetMark("ETH-USDT", decimal.NewFromInt(3_000))

	r, err := New(cfg, env.store, env.broker, env.ledger, env.sink, env.metrics)
	require.NoError(t, err)
	env.reconciler = r

	exec, err := order.NewExecutor(order.Config{CallTimeout: time.Second}, env.broker, r, env.metrics)
	require.NoError(t, err)
	env.exec = exec
	return env
}

func (env *testEnv) submit(t *testing.T, pair string, action enum.Action, intent enum.Intent, size, decision string) order.Result {
	t.Helper()
	res := env.exec.Submit(t.Context(), order.Request{
		AssetPair:  pair,
		Action:     action,
		Intent:     intent,
		Size:       decimal.RequireFromString(size),
		Leverage:   decimal.NewFromInt(5),
		DecisionID: decision,
	})
	require.True(t, res.Success, "submit: %+v", res.Err)
	require.NoError(t, res.TrackErr)
	return res
}

func TestFillIsAppliedAfterPolling(t *testing.T) {
	env := newTestEnv(t, Config{}, 2)
	res := env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-open")

	pending, errs := env.store.List(t.Context())
	require.Empty(t, errs)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Order.PlatformOrderID, pending[0].OrderID)
	assert.Equal(t, res.IdempotencyKey, pending[0].IdempotencyKey)
	assert.True(t, env.reconciler.HasPending(t.Context(), "BTC-USDT"))
	assert.Equal(t, enum.SideFlat, env.ledger.Side("BTC-USDT"), "ledger waits for the fill")

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Checked)
	assert.Zero(t, stats.Filled)
	assert.Equal(t, enum.SideFlat, env.ledger.Side("BTC-USDT"))

	stats = env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Filled)
	assert.Equal(t, 1, stats.Removed)

	pos, ok := env.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, enum.SideLong, pos.Side)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(50_000)))
	assert.Equal(t, "d-open", pos.DecisionID)
	assert.True(t, env.ledger.Cash().Equal(decimal.NewFromInt(9_000)), env.ledger.Cash().String())

	assert.False(t, env.reconciler.HasPending(t.Context(), "BTC-USDT"))
	assert.EqualValues(t, 1, env.metrics.Count(obs.CounterReconcileResolved))
	assert.EqualValues(t, 2, env.metrics.Count(obs.CounterReconcilePoll))
}

func TestCloseFillRecordsOutcome(t *testing.T) {
	env := newTestEnv(t, Config{CloseReason: "exit_signal"}, 0)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-open")
	env.reconciler.PollOnce(t.Context())
	require.Equal(t, enum.SideLong, env.ledger.Side("BTC-USDT"))

	env.broker.SetMark("BTC-USDT", decimal.NewFromInt(51_000))
	closeRes := env.submit(t, "BTC-USDT", enum.ActionSell, enum.IntentClose, "0.1", "d-close")
	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Filled)

	assert.Equal(t, enum.SideFlat, env.ledger.Side("BTC-USDT"))
	assert.True(t, env.ledger.Cash().Equal(decimal.NewFromInt(10_100)), env.ledger.Cash().String())

	outcomes := env.sink.all()
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, "d-open", o.DecisionID)
	assert.Equal(t, closeRes.Order.PlatformOrderID, o.OrderID)
	assert.Equal(t, "exit_signal", o.Reason)
	assert.True(t, o.RealizedPnL.Equal(decimal.NewFromInt(100)), o.RealizedPnL.String())
}

func TestRejectedOrderIsRemoved(t *testing.T) {
	env := newTestEnv(t, Config{}, 5)
	res := env.submit(t, "ETH-USDT", enum.ActionSell, enum.IntentOpen, "1", "d-eth")
	require.True(t, env.broker.SetStatus(res.Order.PlatformOrderID, enum.OrderStatusCanceled))

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Removed)
	assert.Zero(t, stats.Filled)
	assert.Equal(t, enum.SideFlat, env.ledger.Side("ETH-USDT"))

	pending, _ := env.store.List(t.Context())
	assert.Empty(t, pending)
	assert.EqualValues(t, 1, env.metrics.Count(obs.CounterReconcileRejected))
}

func TestCanceledOpenAppliesFilledPart(t *testing.T) {
	env := newTestEnv(t, Config{}, 5)
	res := env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-part")
	require.True(t, env.broker.CancelPartiallyFilled(res.Order.PlatformOrderID, decimal.RequireFromString("0.05")))

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Filled)
	assert.Equal(t, 1, stats.Removed)

	pos, ok := env.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, enum.SideLong, pos.Side)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("0.05")), pos.Size.String())
	assert.True(t, env.ledger.Cash().Equal(decimal.NewFromInt(9_500)), env.ledger.Cash().String())

	pending, _ := env.store.List(t.Context())
	assert.Empty(t, pending)
	assert.EqualValues(t, 1, env.metrics.Count(obs.CounterReconcileResolved))
	assert.Zero(t, env.metrics.Count(obs.CounterReconcileRejected))
}

func TestCanceledCloseReducesPosition(t *testing.T) {
	env := newTestEnv(t, Config{}, 1)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-open")
	env.reconciler.PollOnce(t.Context())
	require.Equal(t, enum.SideLong, env.ledger.Side("BTC-USDT"))

	env.broker.SetMark("BTC-USDT", decimal.NewFromInt(51_000))
	closeRes := env.submit(t, "BTC-USDT", enum.ActionSell, enum.IntentClose, "0.1", "d-close")
	require.True(t, env.broker.CancelPartiallyFilled(closeRes.Order.PlatformOrderID, decimal.RequireFromString("0.04")))

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Filled)

	pos, ok := env.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("0.06")), pos.Size.String())
	assert.True(t, pos.MarginHeld.Equal(decimal.NewFromInt(600)), pos.MarginHeld.String())
	assert.True(t, env.ledger.Cash().Equal(decimal.NewFromInt(9_440)), env.ledger.Cash().String())

	outcomes := env.sink.all()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Size.Equal(decimal.RequireFromString("0.04")))
	assert.True(t, outcomes[0].RealizedPnL.Equal(decimal.NewFromInt(40)), outcomes[0].RealizedPnL.String())
}

func TestResubmitAfterReconcileIsNotReapplied(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	ctx := t.Context()
	key := order.NewIdempotencyKey("test", "d-open")
	req := order.Request{
		AssetPair:  "BTC-USDT",
		Action:     enum.ActionBuy,
		Intent:     enum.IntentOpen,
		Size:       decimal.RequireFromString("0.1"),
		Leverage:   decimal.NewFromInt(5),
		DecisionID: "d-open",
	}

	first := env.exec.SubmitWithKey(ctx, key, req)
	require.True(t, first.Success)
	env.reconciler.PollOnce(ctx)
	require.Equal(t, enum.SideLong, env.ledger.Side("BTC-USDT"))

	env.submit(t, "BTC-USDT", enum.ActionSell, enum.IntentClose, "0.1", "d-close")
	env.reconciler.PollOnce(ctx)
	require.Equal(t, enum.SideFlat, env.ledger.Side("BTC-USDT"))

	again := env.exec.SubmitWithKey(ctx, key, req)
	require.True(t, again.Success)
	assert.True(t, again.Deduplicated)
	assert.True(t, again.AlreadyReconciled)
	assert.NoError(t, again.TrackErr)
	assert.Equal(t, first.Order.PlatformOrderID, again.Order.PlatformOrderID)

	stats := env.reconciler.PollOnce(ctx)
	assert.Zero(t, stats.Checked)
	assert.Equal(t, enum.SideFlat, env.ledger.Side("BTC-USDT"))
	assert.True(t, env.ledger.Cash().Equal(decimal.NewFromInt(10_000)), env.ledger.Cash().String())
	assert.Len(t, env.sink.all(), 1)
	assert.Equal(t, 2, env.broker.OrderCount())
}

func TestPollPrunesExpiredTombstones(t *testing.T) {
	env := newTestEnv(t, Config{ResolvedRetention: time.Nanosecond}, 0)
	ctx := t.Context()
	key := order.NewIdempotencyKey("test", "d-prune")
	req := order.Request{
		AssetPair:  "ETH-USDT",
		Action:     enum.ActionSell,
		Intent:     enum.IntentOpen,
		Size:       decimal.NewFromInt(1),
		Leverage:   decimal.NewFromInt(5),
		DecisionID: "d-prune",
	}
	require.True(t, env.exec.SubmitWithKey(ctx, key, req).Success)
	env.reconciler.PollOnce(ctx)
	time.Sleep(time.Millisecond)
	env.reconciler.PollOnce(ctx)

	again := env.exec.SubmitWithKey(ctx, key, req)
	require.True(t, again.Success)
	assert.False(t, again.AlreadyReconciled)
	assert.True(t, env.reconciler.HasPending(ctx, "ETH-USDT"))
}

func TestStaleOrderIsFlaggedOnce(t *testing.T) {
	env := newTestEnv(t, Config{StaleThreshold: 2}, 100)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-stale")

	flagged := 0
	for range 5 {
		flagged += env.reconciler.PollOnce(t.Context()).Flagged
	}
	assert.Equal(t, 1, flagged)
	assert.EqualValues(t, 1, env.metrics.Count(obs.CounterReconcileStale))

	pending, _ := env.store.List(t.Context())
	require.Len(t, pending, 1, "flagged orders keep being polled")
	assert.True(t, pending[0].Flagged)
	assert.Equal(t, 5, pending[0].CheckCount)
	assert.Equal(t, enum.OrderStatusPending, pending[0].LastStatus)
}

func TestQueryFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-real")
	require.NoError(t, env.store.Add(t.Context(), model.PendingOrder{
		OrderID:        "P999",
		IdempotencyKey: "unknown-key",
		AssetPair:      "ETH-USDT",
		Platform:       enum.PlatformPaper,
		Action:         enum.ActionBuy,
		Intent:         enum.IntentOpen,
		Size:           decimal.NewFromInt(1),
		Leverage:       decimal.NewFromInt(5),
		CreatedAt:      time.Now().UTC(),
		LastStatus:     enum.OrderStatusPending,
	}))

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, 1, stats.Filled)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, enum.SideLong, env.ledger.Side("BTC-USDT"))

	pending, _ := env.store.List(t.Context())
	require.Len(t, pending, 1)
	assert.Equal(t, "P999", pending[0].OrderID)
	assert.Equal(t, 1, pending[0].CheckCount)
}

func TestBrokerOutageKeepsEntries(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-1")
	env.broker.FailQueries(exception.ErrBrokerConnection)

	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Errors)
	assert.True(t, env.reconciler.HasPending(t.Context(), "BTC-USDT"))

	env.broker.FailQueries(nil)
	stats = env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Filled)
	assert.False(t, env.reconciler.HasPending(t.Context(), "BTC-USDT"))
}

func TestRejectedLedgerApplyStillRemoves(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	_, err := env.ledger.ApplyOpen(ledger.OpenRequest{
		AssetPair:  "BTC-USDT",
		Side:       enum.SideLong,
		Size:       decimal.RequireFromString("0.01"),
		EntryPrice: decimal.NewFromInt(50_000),
		Leverage:   decimal.NewFromInt(5),
		DecisionID: "existing",
		At:         time.Now().UTC(),
	})
	require.NoError(t, err)

	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-dup")
	stats := env.reconciler.PollOnce(t.Context())
	assert.Equal(t, 1, stats.Removed)
	assert.EqualValues(t, 1, env.metrics.Count(obs.CounterIntegrityError))

	pos, ok := env.ledger.Position("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, "existing", pos.DecisionID)
}

func TestTrackRequiresPlatformID(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	err := env.reconciler.Track(t.Context(), order.Result{IdempotencyKey: "k"})
	require.ErrorIs(t, err, exception.ErrPendingEmptyOrderID)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, Config{Interval: 10 * time.Millisecond}, 0)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-loop")

	require.NoError(t, env.reconciler.Start(t.Context()))
	require.ErrorIs(t, env.reconciler.Start(t.Context()), exception.ErrReconcilerRunning)

	require.Eventually(t, func() bool {
		return env.ledger.Side("BTC-USDT") == enum.SideLong
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.reconciler.Stop(t.Context()))
	require.NoError(t, env.reconciler.Stop(t.Context()))
	require.NoError(t, env.reconciler.Start(t.Context()), "restart after stop")
	require.NoError(t, env.reconciler.Stop(t.Context()))
}

func TestCrossCheckPositions(t *testing.T) {
	env := newTestEnv(t, Config{}, 0)
	env.submit(t, "BTC-USDT", enum.ActionBuy, enum.IntentOpen, "0.1", "d-btc")
	env.reconciler.PollOnce(t.Context())

	diffs, err := env.reconciler.CrossCheckPositions(t.Context())
	require.NoError(t, err)
	assert.Empty(t, diffs)

	// an order placed behind the engine's back
	env.submit(t, "ETH-USDT", enum.ActionSell, enum.IntentOpen, "1", "d-eth")
	_, err = env.ledger.ApplyClose("BTC-USDT", decimal.NewFromInt(50_000), decimal.Zero, time.Now().UTC())
	require.NoError(t, err)

	diffs, err = env.reconciler.CrossCheckPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	assert.Equal(t, "BTC-USDT", diffs[0].AssetPair)
	assert.Equal(t, enum.SideFlat, diffs[0].LedgerSide)
	assert.Equal(t, enum.SideLong, diffs[0].BrokerSide)
	assert.Equal(t, "ETH-USDT", diffs[1].AssetPair)
	assert.Equal(t, enum.SideShort, diffs[1].BrokerSide)
	assert.Equal(t, enum.SideFlat, env.ledger.Side("ETH-USDT"), "cross check never mutates")
}

func TestNewValidation(t *testing.T) {
	store := storage.NewFilePendingStore(filepath.Join(t.TempDir(), "p.json"))
	_, err := New(Config{}, store, nil, ledger.New(decimal.NewFromInt(1), decimal.Zero), nil, nil)
	require.ErrorIs(t, err, exception.ErrNilInstance)
}
