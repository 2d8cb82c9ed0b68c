package exception

import "github.com/yanun0323/errors"

var (
	ErrInsufficientMargin = errors.New("ledger: insufficient margin")
	ErrPositionExists     = errors.New("ledger: position already open")
	ErrNoPosition         = errors.New("ledger: no open position")
	ErrInvalidSide        = errors.New("ledger: invalid side")
	ErrIllegalAction      = errors.New("ledger: illegal action for position state")
)

var (
	ErrInvalidLeverage     = errors.New("pnl: leverage must be positive")
	ErrInvalidPrice        = errors.New("pnl: price must be positive")
	ErrInvalidSize         = errors.New("pnl: size must be positive")
	ErrStopLossWrongSide   = errors.New("pnl: stop loss on wrong side of entry")
	ErrInvalidRiskFraction = errors.New("pnl: risk fraction must be in (0, 1]")
)
