package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/obs"
	"trader/internal/order/delegator/paper"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (r *recordingTracker) Track(_ context.Context, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return r.err
}

func (r *recordingTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type testEnv struct {
	broker  *paper.Broker
	tracker *recordingTracker
	metrics *obs.Metrics
	exec    *Executor
	slept   []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		broker:  paper.New(paper.Config{Cash: decimal.NewFromInt(10_000)}),
		tracker: &recordingTracker{},
		metrics: obs.NewMetrics(),
	}
	env.broker.SetMark("BTC-USDT", decimal.NewFromInt(50_000))
	env.broker.SetMark("ETH-USDT", decimal.NewFromInt(3_000))

	exec, err := NewExecutor(Config{CallTimeout: time.Second}, env.broker, env.tracker, env.metrics)
	require.NoError(t, err)
	exec.sleep = func(_ context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return nil
	}
	env.exec = exec
	return env
}

func buyBTC() Request {
	return Request{
		AssetPair:  "BTC-USDT",
		Action:     enum.ActionBuy,
		Intent:     enum.IntentOpen,
		Size:       decimal.RequireFromString("0.1"),
		Leverage:   decimal.NewFromInt(5),
		DecisionID: "d1",
	}
}

func TestExecutorSuccess(t *testing.T) {
	env := newTestEnv(t)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.True(t, res.Success, res.Err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, exception.ErrorKindNone, res.ErrorKind)
	assert.NotEmpty(t, res.IdempotencyKey)
	assert.NotEmpty(t, res.Order.PlatformOrderID)
	assert.Equal(t, enum.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, 1, env.tracker.count())
	assert.Equal(t, uint64(1), env.metrics.Count(obs.CounterSubmitSuccess))
}

func TestExecutorSameKeyCreatesOneOrder(t *testing.T) {
	env := newTestEnv(t)
	key := NewIdempotencyKey("trader", "d1")

	first := env.exec.SubmitWithKey(t.Context(), key, buyBTC())
	second := env.exec.SubmitWithKey(t.Context(), key, buyBTC())

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, first.Order.PlatformOrderID, second.Order.PlatformOrderID)
	assert.Equal(t, 1, env.broker.OrderCount())
	assert.Equal(t, 1, env.broker.SubmitCount())
}

func TestExecutorRetriesConnectionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.broker.InjectFaults(paper.FaultConnection, paper.FaultConnection)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.True(t, res.Success, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, env.slept)
	assert.Equal(t, 1, env.broker.OrderCount())
	assert.Equal(t, uint64(2), env.metrics.Count(obs.CounterSubmitRetry))
}

func TestExecutorRetryExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.broker.InjectFaults(paper.FaultConnection, paper.FaultConnection, paper.FaultConnection)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.False(t, res.Success)
	assert.Equal(t, OutcomeTransientFailure, res.Outcome)
	assert.Equal(t, exception.ErrorKindTransientNetwork, res.ErrorKind)
	assert.ErrorIs(t, res.Err, exception.ErrOrderRetryExhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, env.slept, 2)
	assert.Equal(t, 0, env.tracker.count())
	assert.NotEmpty(t, res.IdempotencyKey)
}

func TestExecutorRejection(t *testing.T) {
	env := newTestEnv(t)
	env.broker.InjectFaults(paper.FaultReject)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.False(t, res.Success)
	assert.Equal(t, OutcomePermanentFailure, res.Outcome)
	assert.Equal(t, exception.ErrorKindPlatformRejection, res.ErrorKind)
	assert.Equal(t, enum.OrderStatusRejected, res.Order.Status)
	assert.Equal(t, 1, env.broker.SubmitCount())
	assert.Empty(t, env.slept)
}

func TestExecutorTimeoutResolvedByDuplicateDetection(t *testing.T) {
	env := newTestEnv(t)
	env.broker.InjectFaults(paper.FaultTimeoutAfterAccept)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.True(t, res.Success, res.Err)
	assert.True(t, res.ResolvedAfterTimeout)
	assert.Equal(t, enum.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 1, env.broker.SubmitCount())
	assert.Equal(t, 1, env.broker.OrderCount())
	assert.Equal(t, 1, env.tracker.count())
	assert.Empty(t, env.slept)
}

func TestExecutorTimeoutNotFoundIsAmbiguous(t *testing.T) {
	env := newTestEnv(t)
	env.broker.InjectFaults(paper.FaultTimeoutBeforeAccept)

	res := env.exec.Submit(t.Context(), buyBTC())
	require.False(t, res.Success)
	assert.Equal(t, OutcomeAmbiguous, res.Outcome)
	assert.Equal(t, exception.ErrorKindAmbiguousOutcome, res.ErrorKind)
	assert.Equal(t, enum.OrderStatusTimeoutUnknown, res.Order.Status)
	assert.Equal(t, 1, env.broker.SubmitCount())
	assert.Equal(t, 0, env.broker.OrderCount())
	assert.Empty(t, env.slept)
}

func TestExecutorValidation(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty pair", func(r *Request) { r.AssetPair = "" }},
		{"hold", func(r *Request) { r.Action = enum.ActionHold }},
		{"zero size", func(r *Request) { r.Size = decimal.Zero }},
		{"negative size", func(r *Request) { r.Size = decimal.NewFromInt(-1) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := buyBTC()
			tc.mutate(&req)
			res := env.exec.Submit(t.Context(), req)
			require.False(t, res.Success)
			assert.Equal(t, exception.ErrorKindValidation, res.ErrorKind)
			assert.ErrorIs(t, res.Err, exception.ErrOrderInvalidRequest)
		})
	}
	assert.Equal(t, 0, env.broker.SubmitCount())
}

func TestExecutorExistingRejectedOrderFails(t *testing.T) {
	env := newTestEnv(t)
	key := NewIdempotencyKey("trader", "d9")

	first := env.exec.SubmitWithKey(t.Context(), key, buyBTC())
	require.True(t, first.Success)
	require.True(t, env.broker.SetStatus(first.Order.PlatformOrderID, enum.OrderStatusRejected))

	second := env.exec.SubmitWithKey(t.Context(), key, buyBTC())
	require.False(t, second.Success)
	assert.Equal(t, exception.ErrorKindPlatformRejection, second.ErrorKind)
}

func TestExecutorTrackErrorKeepsSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.err = errors.New("disk full")

	res := env.exec.Submit(t.Context(), buyBTC())
	require.True(t, res.Success)
	assert.EqualError(t, res.TrackErr, "disk full")
}

type slowBroker struct {
	*paper.Broker
}

func (s slowBroker) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (model.OrderStatusReport, error) {
	<-ctx.Done()
	return model.OrderStatusReport{}, ctx.Err()
}

func TestExecutorHardTimeout(t *testing.T) {
	b := paper.New(paper.Config{})
	exec, err := NewExecutor(Config{CallTimeout: 20 * time.Millisecond}, slowBroker{b}, nil, nil)
	require.NoError(t, err)

	res := exec.Submit(t.Context(), buyBTC())
	require.False(t, res.Success)
	assert.Equal(t, OutcomeAmbiguous, res.Outcome)
	assert.Equal(t, enum.OrderStatusTimeoutUnknown, res.Order.Status)
}

func TestNewExecutorNilBroker(t *testing.T) {
	_, err := NewExecutor(DefaultConfig(), nil, nil, nil)
	require.ErrorIs(t, err, exception.ErrOrderNilBroker)

	_, err = NewExecutor(Config{MaxAttempts: -1}, paper.New(paper.Config{}), nil, nil)
	require.Error(t, err)
}
