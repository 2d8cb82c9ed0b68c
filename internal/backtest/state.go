package backtest

import (
	"time"

	"trader/internal/cache"
	"trader/internal/ledger"
	"trader/internal/model"

	"github.com/shopspring/decimal"
)

// EventKind tags a trade log entry.
type EventKind string

const (
	EventOpen         EventKind = "open"
	EventClose        EventKind = "close"
	EventDowngrade    EventKind = "downgrade"
	EventLiquidation  EventKind = "liquidation"
	EventStopLoss     EventKind = "stop_loss"
	EventStopAdjusted EventKind = "stop_adjusted"
	EventSkipCandle   EventKind = "skip_candle"
	EventSignalError  EventKind = "signal_error"
	EventFillError    EventKind = "fill_error"
)

// Close reasons written to model.TradeOutcome.Reason.
const (
	ReasonSignal      = "signal"
	ReasonLiquidation = "liquidation"
	ReasonStopLoss    = "stop_loss"
	ReasonEndOfData   = "end_of_data"
)

// LogEntry is one line of the trade log.
type LogEntry struct {
	Time      time.Time `json:"time"`
	AssetPair string    `json:"assetPair"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
}

// State is everything one run produced. It is owned by that run alone.
type State struct {
	Config      Config
	Ledger      *ledger.Ledger
	EquityCurve []model.EquityPoint
	Trades      []model.TradeOutcome
	Log         []LogEntry
	Cache       *cache.Cache
	Candles     int
	Skipped     int
}

// Cash is the free cash at the end of the run.
func (s *State) Cash() decimal.Decimal {
	return s.Ledger.Cash()
}

// Positions are the positions still open. Run closes everything at the end
// of data, so this is empty after a completed run.
func (s *State) Positions() []model.Position {
	return s.Ledger.Positions()
}

// FinalEquity is the last point of the equity curve, or the initial cash.
func (s *State) FinalEquity() decimal.Decimal {
	if len(s.EquityCurve) == 0 {
		return s.Config.InitialCash
	}
	return s.EquityCurve[len(s.EquityCurve)-1].Equity
}

// Events returns the log entries of kind.
func (s *State) Events(kind EventKind) []LogEntry {
	var result []LogEntry
	for _, e := range s.Log {
		if e.Kind == kind {
			result = append(result, e)
		}
	}
	return result
}

func (s *State) logf(at time.Time, pair string, kind EventKind, msg string) {
	s.Log = append(s.Log, LogEntry{Time: at, AssetPair: pair, Kind: kind, Message: msg})
}
