package adapter

import (
	"context"

	"trader/internal/model"
	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Broker is implemented once per trading platform. Implementations convert
// their native responses into model values and their transport failures into
// exactly one of exception.ErrBrokerConnection, exception.ErrBrokerTimeout or
// exception.ErrBrokerRejected. QueryOrder returns exception.ErrOrderNotFound
// when the platform has no order for the reference.
type Broker interface {
	Platform() enum.Platform
	SubmitOrder(ctx context.Context, req OrderRequest) (model.OrderStatusReport, error)
	QueryOrder(ctx context.Context, ref OrderRef) (model.OrderStatusReport, error)
	GetBalance(ctx context.Context) (model.Balance, error)
	// GetPositions is a secondary reconciliation signal only.
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// OrderRequest is a market order submission.
type OrderRequest struct {
	IdempotencyKey string
	AssetPair      string
	Action         enum.Action
	Size           decimal.Decimal
	ReduceOnly     bool
}

// OrderRef identifies an order by platform id or, when empty, by idempotency key.
type OrderRef struct {
	AssetPair       string
	PlatformOrderID string
	IdempotencyKey  string
}
