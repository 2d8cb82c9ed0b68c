package model

import (
	"time"

	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

// TradeOutcome is written once per closed position and never mutated.
type TradeOutcome struct {
	DecisionID  string          `json:"decisionId"`
	OrderID     string          `json:"orderId"`
	AssetPair   string          `json:"assetPair"`
	Side        enum.Side       `json:"side"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	EntryTime   time.Time       `json:"entryTime"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	ExitTime    time.Time       `json:"exitTime"`
	Size        decimal.Decimal `json:"size"`
	Fees        decimal.Decimal `json:"fees"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Reason      string          `json:"reason,omitempty"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}
