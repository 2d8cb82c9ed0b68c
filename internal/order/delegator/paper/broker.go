// Package paper is an in-memory broker that fills market orders at a
// settable mark price. It backs paper trading and tests.
package paper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	yerrors "github.com/yanun0323/errors"
)

// Fault is an injected failure mode for the next submissions.
type Fault uint8

const (
	FaultNone Fault = iota
	// FaultConnection fails before the order reaches the book.
	FaultConnection
	// FaultTimeoutBeforeAccept times out and the order is never created.
	FaultTimeoutBeforeAccept
	// FaultTimeoutAfterAccept creates the order and then times out.
	FaultTimeoutAfterAccept
	// FaultReject refuses the order.
	FaultReject
)

// Config holds the paper broker parameters.
type Config struct {
	Cash    decimal.Decimal `json:"cash"`
	FeeRate decimal.Decimal `json:"feeRate"`
	// FillAfter keeps new orders PENDING for this many queries before filling.
	FillAfter int `json:"fillAfter"`
}

type paperOrder struct {
	report  model.OrderStatusReport
	queries int
}

// Broker is safe for concurrent use.
type Broker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	marks     map[string]decimal.Decimal
	orders    map[string]*paperOrder // by platform id
	byKey     map[string]string      // idempotency key -> platform id
	positions map[string]model.Position
	faults    []Fault
	cash      decimal.Decimal
	seq       int64
	submits   int
	queryErr  error
}

var _ adapter.Broker = (*Broker)(nil)

// New creates a paper broker.
func New(cfg Config) *Broker {
	return &Broker{
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		marks:     make(map[string]decimal.Decimal),
		orders:    make(map[string]*paperOrder),
		byKey:     make(map[string]string),
		positions: make(map[string]model.Position),
		cash:      cfg.Cash,
	}
}

// SetNow replaces the broker clock.
func (b *Broker) SetNow(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// SetMark sets the fill price for pair.
func (b *Broker) SetMark(pair string, price decimal.Decimal) {
	b.mu.Lock()
	b.marks[pair] = price
	b.mu.Unlock()
}

// InjectFaults queues faults consumed one per submission, in order.
func (b *Broker) InjectFaults(faults ...Fault) {
	b.mu.Lock()
	b.faults = append(b.faults, faults...)
	b.mu.Unlock()
}

// FailQueries makes every QueryOrder return err until called with nil.
func (b *Broker) FailQueries(err error) {
	b.mu.Lock()
	b.queryErr = err
	b.mu.Unlock()
}

// SetStatus forces the status of an existing order.
func (b *Broker) SetStatus(platformID string, status enum.OrderStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[platformID]
	if !ok {
		return false
	}
	o.report.Status = status
	return true
}

// CancelPartiallyFilled fills size of a pending order at the mark and cancels
// the rest of it.
func (b *Broker) CancelPartiallyFilled(platformID string, size decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[platformID]
	if !ok || o.report.Status != enum.OrderStatusPending {
		return false
	}
	mark := b.marks[o.report.AssetPair]
	report := o.report
	report.Status = enum.OrderStatusCanceled
	report.FilledSize = size
	report.AvgPrice = mark
	report.Fee = mark.Mul(size).Mul(b.cfg.FeeRate)
	report.UpdatedAt = b.now()

	b.cash = b.cash.Sub(report.Fee)
	b.applyPosition(report)
	o.report = report
	return true
}

// SubmitCount is the number of SubmitOrder calls, failed ones included.
func (b *Broker) SubmitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

// OrderCount is the number of distinct orders created.
func (b *Broker) OrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *Broker) Platform() enum.Platform {
	return enum.PlatformPaper
}

func (b *Broker) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (model.OrderStatusReport, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerTimeout, err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.submits++
	fault := FaultNone
	if len(b.faults) > 0 {
		fault = b.faults[0]
		b.faults = b.faults[1:]
	}

	switch fault {
	case FaultConnection:
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerConnection, "paper: connection refused")
	case FaultTimeoutBeforeAccept:
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerTimeout, "paper: request timed out")
	case FaultReject:
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerRejected, "paper: order rejected")
	}

	if id, ok := b.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return b.orders[id].report, nil
	}

	mark, ok := b.marks[req.AssetPair]
	if !ok || !mark.IsPositive() {
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerRejected, "paper: no mark price for "+req.AssetPair)
	}

	b.seq++
	id := "P" + strconv.FormatInt(b.seq, 10)
	report := model.OrderStatusReport{
		PlatformOrderID: id,
		IdempotencyKey:  req.IdempotencyKey,
		AssetPair:       req.AssetPair,
		Action:          req.Action,
		Status:          enum.OrderStatusPending,
		RequestedSize:   req.Size,
		UpdatedAt:       b.now(),
	}
	if b.cfg.FillAfter <= 0 {
		report = b.fill(report, mark)
	}
	b.orders[id] = &paperOrder{report: report}
	b.byKey[req.IdempotencyKey] = id

	if fault == FaultTimeoutAfterAccept {
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerTimeout, "paper: response lost")
	}
	return report, nil
}

func (b *Broker) QueryOrder(ctx context.Context, ref adapter.OrderRef) (model.OrderStatusReport, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrBrokerTimeout, err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queryErr != nil {
		return model.OrderStatusReport{}, b.queryErr
	}

	id := ref.PlatformOrderID
	if id == "" {
		id = b.byKey[ref.IdempotencyKey]
	}
	o, ok := b.orders[id]
	if !ok {
		return model.OrderStatusReport{}, exception.ErrOrderNotFound
	}

	o.queries++
	if o.report.Status == enum.OrderStatusPending && b.cfg.FillAfter > 0 && o.queries >= b.cfg.FillAfter {
		o.report = b.fill(o.report, b.marks[o.report.AssetPair])
	}
	return o.report, nil
}

func (b *Broker) GetBalance(ctx context.Context) (model.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.Balance{Asset: "USDT", Total: b.cash, Available: b.cash}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]model.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		result = append(result, p)
	}
	return result, nil
}

// fill must be called with b.mu held.
func (b *Broker) fill(report model.OrderStatusReport, mark decimal.Decimal) model.OrderStatusReport {
	report.Status = enum.OrderStatusFilled
	report.FilledSize = report.RequestedSize
	report.AvgPrice = mark
	report.Fee = mark.Mul(report.RequestedSize).Mul(b.cfg.FeeRate)
	report.UpdatedAt = b.now()

	b.cash = b.cash.Sub(report.Fee)
	b.applyPosition(report)
	return report
}

func (b *Broker) applyPosition(report model.OrderStatusReport) {
	side := report.Action.OpenSide()
	pos, ok := b.positions[report.AssetPair]
	if !ok {
		b.positions[report.AssetPair] = model.Position{
			AssetPair:  report.AssetPair,
			Side:       side,
			Size:       report.FilledSize,
			EntryPrice: report.AvgPrice,
			OpenedAt:   report.UpdatedAt,
		}
		return
	}

	if pos.Side == side {
		pos.Size = pos.Size.Add(report.FilledSize)
		b.positions[report.AssetPair] = pos
		return
	}

	remaining := pos.Size.Sub(report.FilledSize)
	switch remaining.Sign() {
	case 0:
		delete(b.positions, report.AssetPair)
	case 1:
		pos.Size = remaining
		b.positions[report.AssetPair] = pos
	default:
		b.positions[report.AssetPair] = model.Position{
			AssetPair:  report.AssetPair,
			Side:       side,
			Size:       remaining.Neg(),
			EntryPrice: report.AvgPrice,
			OpenedAt:   report.UpdatedAt,
		}
	}
}
