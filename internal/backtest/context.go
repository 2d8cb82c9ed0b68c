package backtest

import (
	"strconv"

	"trader/internal/model"
	"trader/internal/model/enum"

	"github.com/markcheno/go-talib"
)

const (
	_emaPeriod = 20
	_rsiPeriod = 14
	_atrPeriod = 14
)

// ContextBuilder turns a trailing candle window into a model.MarketContext.
// Indicators are float statistics formatted to fixed precision; every money
// value stays a decimal string.
type ContextBuilder struct {
	Window int
}

// Build uses the last Window candles of window. The last candle is the current one.
func (b ContextBuilder) Build(pair string, window []model.Candle, position enum.Side) model.MarketContext {
	if b.Window > 0 && len(window) > b.Window {
		window = window[len(window)-b.Window:]
	}
	last := window[len(window)-1]

	mc := model.MarketContext{
		AssetPair: pair,
		Time:      last.Time.UTC(),
		Price:     last.Close.String(),
		Volume:    last.Volume.String(),
		Position:  position,
		Window:    len(window),
	}

	closes := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close.InexactFloat64()
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}

	indicators := make(map[string]string, 3)
	if len(closes) >= _emaPeriod {
		indicators["ema_20"] = formatIndicator(lastValue(talib.Ema(closes, _emaPeriod)))
	}
	if len(closes) > _rsiPeriod {
		indicators["rsi_14"] = formatIndicator(lastValue(talib.Rsi(closes, _rsiPeriod)))
	}
	if len(closes) > _atrPeriod {
		indicators["atr_14"] = formatIndicator(lastValue(talib.Atr(highs, lows, closes, _atrPeriod)))
	}
	if len(indicators) > 0 {
		mc.Indicators = indicators
	}
	return mc
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func formatIndicator(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
