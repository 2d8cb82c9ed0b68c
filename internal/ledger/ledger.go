package ledger

import (
	"sort"
	"sync"
	"time"

	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/pnl"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Ledger holds cash and at most one position per asset pair.
// Cash excludes margin held by open positions.
type Ledger struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	mmr       decimal.Decimal
	positions map[string]model.Position
}

// New creates a flat ledger. mmr is the maintenance margin rate used for
// liquidation prices.
func New(cash, mmr decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      cash,
		mmr:       mmr,
		positions: make(map[string]model.Position),
	}
}

// Cash returns the free cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Side returns the current side of pair; FLAT when nothing is open.
func (l *Ledger) Side(pair string) enum.Side {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[pair]; ok {
		return pos.Side
	}
	return enum.SideFlat
}

// Position returns the open position for pair.
func (l *Ledger) Position(pair string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	return pos, ok
}

// Positions returns all open positions sorted by asset pair.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AssetPair < out[j].AssetPair
	})
	return out
}

// Validate checks action against the current side of pair.
func (l *Ledger) Validate(pair string, action enum.Action) Decision {
	return ValidateAction(l.Side(pair), action)
}

// OpenRequest describes a fill that opens a position.
type OpenRequest struct {
	AssetPair  string
	Side       enum.Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
	Fee        decimal.Decimal
	DecisionID string
	At         time.Time
}

// ApplyOpen reserves margin and records the new position.
func (l *Ledger) ApplyOpen(req OpenRequest) (model.Position, error) {
	if req.Side != enum.SideLong && req.Side != enum.SideShort {
		return model.Position{}, exception.ErrInvalidSide
	}
	if !req.Size.IsPositive() {
		return model.Position{}, exception.ErrInvalidSize
	}
	if !req.EntryPrice.IsPositive() {
		return model.Position{}, exception.ErrInvalidPrice
	}

	notional := req.Size.Mul(req.EntryPrice)
	margin, err := pnl.MarginRequired(notional, req.Leverage)
	if err != nil {
		return model.Position{}, err
	}
	liq, _, err := pnl.LiquidationPrice(req.EntryPrice, req.Leverage, req.Side, l.mmr)
	if err != nil {
		return model.Position{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[req.AssetPair]; ok {
		return model.Position{}, errors.Wrap(exception.ErrPositionExists, req.AssetPair)
	}
	if margin.Add(req.Fee).GreaterThan(l.cash) {
		return model.Position{}, errors.Wrap(exception.ErrInsufficientMargin,
			"margin "+margin.String()+" fee "+req.Fee.String()+" cash "+l.cash.String())
	}

	pos := model.Position{
		AssetPair:        req.AssetPair,
		Side:             req.Side,
		Size:             req.Size,
		EntryPrice:       req.EntryPrice,
		Leverage:         req.Leverage,
		MarginHeld:       margin,
		LiquidationPrice: liq,
		EntryFee:         req.Fee,
		DecisionID:       req.DecisionID,
		OpenedAt:         req.At,
	}
	l.cash = l.cash.Sub(margin).Sub(req.Fee)
	l.positions[req.AssetPair] = pos
	return pos, nil
}

// Closed describes a position removed by ApplyClose.
type Closed struct {
	Position  model.Position
	ExitPrice decimal.Decimal
	ExitTime  time.Time
	Gross     decimal.Decimal
	Fees      decimal.Decimal // entry plus exit fee
	Realized  decimal.Decimal
}

// ApplyClose realizes the position of pair at exit, releasing margin and P&L to cash.
func (l *Ledger) ApplyClose(pair string, exit, fee decimal.Decimal, at time.Time) (Closed, error) {
	if !exit.IsPositive() {
		return Closed{}, exception.ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[pair]
	if !ok {
		return Closed{}, errors.Wrap(exception.ErrNoPosition, pair)
	}

	gross := pnl.PnL(pos.EntryPrice, exit, pos.Size, pos.Side)
	fees := pos.EntryFee.Add(fee)
	closed := Closed{
		Position:  pos,
		ExitPrice: exit,
		ExitTime:  at,
		Gross:     gross,
		Fees:      fees,
		Realized:  gross.Sub(fees),
	}
	l.cash = l.cash.Add(pos.MarginHeld).Add(gross).Sub(fee)
	delete(l.positions, pair)
	return closed, nil
}

// ApplyPartialClose realizes size of the position of pair at exit. The
// released margin and entry fee are proportional to size. A size at or above
// the open size closes the whole position.
func (l *Ledger) ApplyPartialClose(pair string, size, exit, fee decimal.Decimal, at time.Time) (Closed, error) {
	if !size.IsPositive() {
		return Closed{}, exception.ErrInvalidSize
	}
	if !exit.IsPositive() {
		return Closed{}, exception.ErrInvalidPrice
	}

	l.mu.Lock()
	pos, ok := l.positions[pair]
	if !ok {
		l.mu.Unlock()
		return Closed{}, errors.Wrap(exception.ErrNoPosition, pair)
	}
	if size.GreaterThanOrEqual(pos.Size) {
		l.mu.Unlock()
		return l.ApplyClose(pair, exit, fee, at)
	}
	defer l.mu.Unlock()

	frac := size.Div(pos.Size)
	margin := pos.MarginHeld.Mul(frac)
	entryFee := pos.EntryFee.Mul(frac)

	part := pos
	part.Size = size
	part.MarginHeld = margin
	part.EntryFee = entryFee

	gross := pnl.PnL(pos.EntryPrice, exit, size, pos.Side)
	fees := entryFee.Add(fee)
	closed := Closed{
		Position:  part,
		ExitPrice: exit,
		ExitTime:  at,
		Gross:     gross,
		Fees:      fees,
		Realized:  gross.Sub(fees),
	}

	pos.Size = pos.Size.Sub(size)
	pos.MarginHeld = pos.MarginHeld.Sub(margin)
	pos.EntryFee = pos.EntryFee.Sub(entryFee)
	l.positions[pair] = pos
	l.cash = l.cash.Add(margin).Add(gross).Sub(fee)
	return closed, nil
}

// Outcome converts the close into its immutable trade record.
func (c Closed) Outcome(orderID, reason string) model.TradeOutcome {
	return model.TradeOutcome{
		DecisionID:  c.Position.DecisionID,
		OrderID:     orderID,
		AssetPair:   c.Position.AssetPair,
		Side:        c.Position.Side,
		EntryPrice:  c.Position.EntryPrice,
		EntryTime:   c.Position.OpenedAt,
		ExitPrice:   c.ExitPrice,
		ExitTime:    c.ExitTime,
		Size:        c.Position.Size,
		Fees:        c.Fees,
		RealizedPnL: c.Realized,
		Reason:      reason,
	}
}

// Equity returns cash + held margin + unrealized P&L at marks. Positions
// without a mark are valued at entry.
func (l *Ledger) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	equity := l.cash
	for pair, pos := range l.positions {
		equity = equity.Add(pos.MarginHeld)
		if mark, ok := marks[pair]; ok {
			equity = equity.Add(pnl.Unrealized(pos, mark))
		}
	}
	return equity
}
