package model

import (
	"time"

	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Order is the executor's record of one logical submission.
type Order struct {
	IdempotencyKey  string           `json:"idempotencyKey"`
	DecisionID      string           `json:"decisionId"`
	AssetPair       string           `json:"assetPair"`
	Action          enum.Action      `json:"action"`
	Intent          enum.Intent      `json:"intent"`
	RequestedSize   decimal.Decimal  `json:"requestedSize"`
	Status          enum.OrderStatus `json:"status"`
	PlatformOrderID string           `json:"platformOrderId"`
	CreatedAt       time.Time        `json:"createdAt"`
	CheckCount      int              `json:"checkCount"`
}

// OrderStatusReport is the canonical broker view of an order. Every broker
// adapter converts its native response into this shape exactly once.
type OrderStatusReport struct {
	PlatformOrderID string           `json:"platformOrderId"`
	IdempotencyKey  string           `json:"idempotencyKey"`
	AssetPair       string           `json:"assetPair"`
	Action          enum.Action      `json:"action"`
	Status          enum.OrderStatus `json:"status"`
	RequestedSize   decimal.Decimal  `json:"requestedSize"`
	FilledSize      decimal.Decimal  `json:"filledSize"`
	AvgPrice        decimal.Decimal  `json:"avgPrice"`
	Fee             decimal.Decimal  `json:"fee"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}
