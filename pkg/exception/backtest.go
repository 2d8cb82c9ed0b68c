package exception

import "github.com/yanun0323/errors"

var (
	ErrBacktestNoCandles     = errors.New("backtest: no candles")
	ErrBacktestInvalidConfig = errors.New("backtest: invalid config")
	ErrBacktestNilProvider   = errors.New("backtest: nil signal provider")
	ErrBacktestInvalidWindow = errors.New("backtest: invalid walk-forward window")
	ErrMalformedCandle       = errors.New("backtest: malformed candle")
)
