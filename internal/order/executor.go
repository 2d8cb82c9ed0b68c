package order

import (
	"context"
	"errors"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/obs"
	"trader/pkg/exception"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Tracker receives every accepted order in the same call that produced its
// platform order id.
type Tracker interface {
	Track(ctx context.Context, res Result) error
}

// Executor submits orders to one broker idempotently.
type Executor struct {
	cfg     Config
	broker  adapter.Broker
	tracker Tracker
	metrics *obs.Metrics
	backoff Backoff

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewExecutor creates an executor. tracker and metrics may be nil.
func NewExecutor(cfg Config, broker adapter.Broker, tracker Tracker, metrics *obs.Metrics) (*Executor, error) {
	if broker == nil {
		return nil, exception.ErrOrderNilBroker
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		cfg:     cfg,
		broker:  broker,
		tracker: tracker,
		metrics: metrics,
		backoff: cfg.backoff(),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
	}, nil
}

// Broker returns the broker this executor submits to.
func (e *Executor) Broker() adapter.Broker {
	return e.broker
}

// Submit generates a fresh idempotency key and submits req.
func (e *Executor) Submit(ctx context.Context, req Request) Result {
	return e.SubmitWithKey(ctx, NewIdempotencyKey(e.cfg.Namespace, req.DecisionID), req)
}

// SubmitWithKey submits req under an existing idempotency key. Calling it
// again with the same key is a retry of the same logical submission and never
// creates a second order.
//
// Connection failures are retried with backoff. A timeout is never retried:
// the broker is asked whether the key exists, and only that answer decides
// success. Rejections are returned as they are.
func (e *Executor) SubmitWithKey(ctx context.Context, key string, req Request) Result {
	res := Result{
		IdempotencyKey: key,
		Request:        req,
		Order: model.Order{
			IdempotencyKey: key,
			DecisionID:     req.DecisionID,
			AssetPair:      req.AssetPair,
			Action:         req.Action,
			Intent:         req.Intent,
			RequestedSize:  req.Size,
			Status:         enum.OrderStatusPending,
			CreatedAt:      e.now(),
		},
	}

	if err := validateRequest(req); err != nil {
		logs.Warnf("order refused, key=%s attempt=0 status=%s err: %+v", key, res.Order.Status, err)
		return e.fail(res, OutcomePermanentFailure, err)
	}

	ref := adapter.OrderRef{AssetPair: req.AssetPair, IdempotencyKey: key}
	if report, found := e.findExisting(ctx, ref, 0); found {
		res.Deduplicated = true
		return e.accept(ctx, res, report)
	}

	brokerReq := adapter.OrderRequest{
		IdempotencyKey: key,
		AssetPair:      req.AssetPair,
		Action:         req.Action,
		Size:           req.Size,
		ReduceOnly:     req.Intent == enum.IntentClose,
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		report, err := e.submitOnce(ctx, brokerReq)

		switch {
		case err == nil:
			logs.Infof("order accepted, key=%s attempt=%d status=%s platform_id=%s",
				key, attempt, report.Status, report.PlatformOrderID)
			return e.accept(ctx, res, report)

		case errors.Is(err, exception.ErrBrokerConnection):
			if attempt >= e.cfg.MaxAttempts {
				logs.Errorf("order not sent, key=%s attempt=%d status=%s err: %+v", key, attempt, res.Order.Status, err)
				return e.fail(res, OutcomeTransientFailure, yerrors.Wrap(exception.ErrOrderRetryExhausted, err.Error()))
			}
			wait := e.backoff.Next(attempt)
			logs.Warnf("order connection failed, key=%s attempt=%d status=%s retry_in=%s err: %+v",
				key, attempt, res.Order.Status, wait, err)
			e.metrics.Inc(obs.CounterSubmitRetry)
			if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
				logs.Errorf("order retry aborted, key=%s attempt=%d status=%s err: %+v", key, attempt, res.Order.Status, sleepErr)
				return e.fail(res, OutcomeTransientFailure, yerrors.Wrap(exception.ErrOrderRetryExhausted, sleepErr.Error()))
			}

		case errors.Is(err, exception.ErrBrokerRejected):
			res.Order.Status = enum.OrderStatusRejected
			logs.Errorf("order rejected, key=%s attempt=%d status=%s err: %+v", key, attempt, res.Order.Status, err)
			return e.fail(res, OutcomePermanentFailure, err)

		default:
			res.Order.Status = enum.OrderStatusTimeoutUnknown
			logs.Warnf("order outcome unknown, key=%s attempt=%d status=%s err: %+v", key, attempt, res.Order.Status, err)
			if report, found := e.findExisting(ctx, ref, attempt); found {
				res.ResolvedAfterTimeout = true
				return e.accept(ctx, res, report)
			}
			logs.Errorf("order unresolved after timeout, key=%s attempt=%d status=%s", key, attempt, res.Order.Status)
			return e.fail(res, OutcomeAmbiguous, yerrors.Wrap(exception.ErrOrderAmbiguousOutcome, err.Error()))
		}
	}
}

func (e *Executor) submitOnce(ctx context.Context, req adapter.OrderRequest) (model.OrderStatusReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	report, err := e.broker.SubmitOrder(callCtx, req)
	e.metrics.ObserveBroker(time.Since(start))
	if err != nil && callCtx.Err() != nil && !errors.Is(err, exception.ErrBrokerTimeout) {
		// the hard deadline or the caller stopped the request mid-flight
		err = yerrors.Wrap(exception.ErrBrokerTimeout, err.Error())
	}
	return report, err
}

// findExisting asks the broker for an order carrying ref's idempotency key.
// After a timeout the query runs detached from caller cancellation so that a
// shutdown does not skip the resolution step.
func (e *Executor) findExisting(ctx context.Context, ref adapter.OrderRef, attempt int) (model.OrderStatusReport, bool) {
	if attempt > 0 {
		ctx = context.WithoutCancel(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	report, err := e.broker.QueryOrder(callCtx, ref)
	e.metrics.ObserveBroker(time.Since(start))
	switch {
	case err == nil:
		logs.Infof("order already exists, key=%s attempt=%d status=%s platform_id=%s",
			ref.IdempotencyKey, attempt, report.Status, report.PlatformOrderID)
		return report, true
	case errors.Is(err, exception.ErrOrderNotFound):
		logs.Debugf("no existing order, key=%s attempt=%d", ref.IdempotencyKey, attempt)
	default:
		logs.Warnf("duplicate detection failed, key=%s attempt=%d err: %+v", ref.IdempotencyKey, attempt, err)
	}
	return model.OrderStatusReport{}, false
}

func (e *Executor) accept(ctx context.Context, res Result, report model.OrderStatusReport) Result {
	res.Report = report
	res.Order.PlatformOrderID = report.PlatformOrderID
	if report.Status.IsAvailable() {
		res.Order.Status = report.Status
	} else {
		res.Order.Status = enum.OrderStatusPending
	}

	if res.Order.Status == enum.OrderStatusRejected {
		logs.Errorf("existing order is rejected, key=%s attempt=%d status=%s", res.IdempotencyKey, res.Attempts, res.Order.Status)
		return e.fail(res, OutcomePermanentFailure, yerrors.Wrap(exception.ErrBrokerRejected, "order "+report.PlatformOrderID))
	}

	res.Success = true
	res.Outcome = OutcomeSuccess
	res.ErrorKind = exception.ErrorKindNone
	e.metrics.Inc(obs.CounterSubmitSuccess)
	if res.Deduplicated || res.ResolvedAfterTimeout {
		e.metrics.Inc(obs.CounterSubmitDeduplicated)
	}

	if e.tracker != nil {
		err := e.tracker.Track(context.WithoutCancel(ctx), res)
		switch {
		case err == nil, errors.Is(err, exception.ErrPendingDuplicate):
		case errors.Is(err, exception.ErrPendingResolved):
			res.AlreadyReconciled = true
			logs.Infof("order already reconciled, key=%s platform_id=%s", res.IdempotencyKey, report.PlatformOrderID)
		default:
			res.TrackErr = err
			logs.Errorf("order accepted but not tracked, key=%s platform_id=%s err: %+v", res.IdempotencyKey, report.PlatformOrderID, err)
		}
	}
	return res
}

func (e *Executor) fail(res Result, outcome Outcome, err error) Result {
	res.Success = false
	res.Outcome = outcome
	res.Err = err
	res.ErrorKind = exception.KindOf(err)
	switch outcome {
	case OutcomeTransientFailure:
		e.metrics.Inc(obs.CounterSubmitTransient)
	case OutcomeAmbiguous:
		e.metrics.Inc(obs.CounterSubmitAmbiguous)
	default:
		e.metrics.Inc(obs.CounterSubmitPermanent)
	}
	return res
}

func validateRequest(req Request) error {
	switch {
	case req.AssetPair == "":
		return yerrors.Wrap(exception.ErrOrderInvalidRequest, "asset pair is empty")
	case req.Action != enum.ActionBuy && req.Action != enum.ActionSell:
		return yerrors.Wrap(exception.ErrOrderInvalidRequest, "action must be BUY or SELL")
	case !req.Intent.IsAvailable():
		return yerrors.Wrap(exception.ErrOrderInvalidRequest, "intent is unknown")
	case !req.Size.IsPositive():
		return yerrors.Wrap(exception.ErrOrderInvalidRequest, "size must be > 0")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
