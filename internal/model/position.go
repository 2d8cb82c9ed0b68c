package model

import (
	"time"

	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Position is the open exposure on one asset pair. A flat pair has no Position.
type Position struct {
	AssetPair        string          `json:"assetPair"`
	Side             enum.Side       `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginHeld       decimal.Decimal `json:"marginHeld"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	EntryFee         decimal.Decimal `json:"entryFee"`
	DecisionID       string          `json:"decisionId,omitempty"`
	OpenedAt         time.Time       `json:"openedAt"`
}

// Notional returns size * entry price.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// IsOpen reports whether the position carries exposure.
func (p Position) IsOpen() bool {
	return p.Side != enum.SideFlat && p.Side.IsAvailable() && p.Size.IsPositive()
}

// Balance is the account balance reported by a broker.
type Balance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}
