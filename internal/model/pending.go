package model

import (
	"time"

	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// PendingOrder is an accepted order whose fill has not yet been applied to
// the ledger.
type PendingOrder struct {
	OrderID        string           `json:"orderId" gorm:"primaryKey;column:order_id"`
	IdempotencyKey string           `json:"idempotencyKey" gorm:"column:idempotency_key;index"`
	DecisionID     string           `json:"decisionId" gorm:"column:decision_id"`
	AssetPair      string           `json:"assetPair" gorm:"column:asset_pair"`
	Platform       enum.Platform    `json:"platform" gorm:"column:platform"`
	Action         enum.Action      `json:"action" gorm:"column:action"`
	Intent         enum.Intent      `json:"intent" gorm:"column:intent"`
	Size           decimal.Decimal  `json:"size" gorm:"column:size;type:numeric"`
	Leverage       decimal.Decimal  `json:"leverage" gorm:"column:leverage;type:numeric"`
	CreatedAt      time.Time        `json:"createdAt" gorm:"column:created_at"`
	CheckCount     int              `json:"checkCount" gorm:"column:check_count"`
	Flagged        bool             `json:"flagged" gorm:"column:flagged"`
	LastStatus     enum.OrderStatus `json:"lastStatus" gorm:"column:last_status"`
}

// Validate reports whether the entry can be reconciled at all.
func (p PendingOrder) Validate() error {
	switch {
	case p.OrderID == "":
		return errMissing("orderId")
	case p.AssetPair == "":
		return errMissing("assetPair")
	case !p.Action.IsAvailable() || !p.Intent.IsAvailable():
		return errMissing("action/intent")
	case !p.Size.IsPositive():
		return errMissing("size")
	}
	return nil
}

// ResolvedOrder marks an order whose outcome has already been applied to the
// ledger. The store keeps it for a retention window and refuses to track the
// same order or idempotency key again.
type ResolvedOrder struct {
	OrderID        string           `json:"orderId" gorm:"primaryKey;column:order_id"`
	IdempotencyKey string           `json:"idempotencyKey" gorm:"column:idempotency_key;index"`
	Status         enum.OrderStatus `json:"status" gorm:"column:status"`
	ResolvedAt     time.Time        `json:"resolvedAt" gorm:"column:resolved_at;index"`
}

func errMissing(field string) error {
	return errors.Wrap(exception.ErrDataIntegrity, "pending order has no valid "+field)
}
