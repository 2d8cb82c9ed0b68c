package model

import (
	"time"

	"trader/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Valid reports whether the candle is usable for simulation.
func (c Candle) Valid() bool {
	if c.Time.IsZero() {
		return false
	}
	if !c.Open.IsPositive() || !c.High.IsPositive() || !c.Low.IsPositive() || !c.Close.IsPositive() {
		return false
	}
	if c.High.LessThan(c.Low) || c.Volume.IsNegative() {
		return false
	}
	return !c.Close.GreaterThan(c.High) && !c.Close.LessThan(c.Low) &&
		!c.Open.GreaterThan(c.High) && !c.Open.LessThan(c.Low)
}

// MarketContext is the stable input handed to a signal provider.
// Values are pre-formatted strings so that the fingerprint is deterministic.
type MarketContext struct {
	AssetPair  string            `json:"assetPair"`
	Time       time.Time         `json:"time"`
	Price      string            `json:"price"`
	Volume     string            `json:"volume"`
	Indicators map[string]string `json:"indicators,omitempty"`
	Position   enum.Side         `json:"position"`
	Window     int               `json:"window"`
}

// Signal is the output of an external signal provider.
type Signal struct {
	Action     enum.Action `json:"action"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// Normalize coerces unknown actions to HOLD and clamps confidence to [0, 1].
func (s Signal) Normalize() Signal {
	if !s.Action.IsAvailable() {
		s.Action = enum.ActionHold
	}
	if s.Confidence < 0 || s.Confidence != s.Confidence {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s
}
