package binance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	yerrors "github.com/yanun0323/errors"
)

// _codeOrderNotExist is returned by the futures API for an unknown order.
const _codeOrderNotExist = -2013

// Config selects the futures account.
type Config struct {
	Token     adapter.Token
	Testnet   bool
	FeeRate   decimal.Decimal
	BaseAsset string
}

// Delegator is a USDⓈ-M futures broker. The idempotency key is sent as the
// client order id, so any order can be found again by key.
type Delegator struct {
	client    *futures.Client
	feeRate   decimal.Decimal
	baseAsset string
}

var _ adapter.Broker = (*Delegator)(nil)

func NewDelegator(cfg Config) *Delegator {
	futures.UseTestnet = cfg.Testnet
	base := cfg.BaseAsset
	if base == "" {
		base = "USDT"
	}
	return &Delegator{
		client:    futures.NewClient(cfg.Token.Key, cfg.Token.Secret),
		feeRate:   cfg.FeeRate,
		baseAsset: base,
	}
}

func (d *Delegator) Platform() enum.Platform {
	return enum.PlatformBinance
}

func (d *Delegator) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (model.OrderStatusReport, error) {
	side, err := binanceSide(req.Action)
	if err != nil {
		return model.OrderStatusReport{}, err
	}

	svc := d.client.NewCreateOrderService().
		Symbol(binanceSymbol(req.AssetPair)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(req.Size.String()).
		NewClientOrderID(req.IdempotencyKey)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return model.OrderStatusReport{}, classify(err)
	}

	return d.report(req.AssetPair, orderFields{
		orderID:    resp.OrderID,
		clientID:   resp.ClientOrderID,
		side:       resp.Side,
		status:     resp.Status,
		origQty:    resp.OrigQuantity,
		execQty:    resp.ExecutedQuantity,
		avgPrice:   resp.AvgPrice,
		updateTime: resp.UpdateTime,
	})
}

func (d *Delegator) QueryOrder(ctx context.Context, ref adapter.OrderRef) (model.OrderStatusReport, error) {
	svc := d.client.NewGetOrderService().Symbol(binanceSymbol(ref.AssetPair))
	switch {
	case ref.PlatformOrderID != "":
		id, err := strconv.ParseInt(ref.PlatformOrderID, 10, 64)
		if err != nil {
			return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrOrderInvalidRequest, "platform order id is not numeric: "+ref.PlatformOrderID)
		}
		svc = svc.OrderID(id)
	case ref.IdempotencyKey != "":
		svc = svc.OrigClientOrderID(ref.IdempotencyKey)
	default:
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrOrderInvalidRequest, "order reference is empty")
	}

	o, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == _codeOrderNotExist {
			return model.OrderStatusReport{}, exception.ErrOrderNotFound
		}
		return model.OrderStatusReport{}, classify(err)
	}

	return d.report(ref.AssetPair, orderFields{
		orderID:    o.OrderID,
		clientID:   o.ClientOrderID,
		side:       o.Side,
		status:     o.Status,
		origQty:    o.OrigQuantity,
		execQty:    o.ExecutedQuantity,
		avgPrice:   o.AvgPrice,
		updateTime: o.UpdateTime,
	})
}

func (d *Delegator) GetBalance(ctx context.Context) (model.Balance, error) {
	balances, err := d.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return model.Balance{}, classify(err)
	}
	for _, b := range balances {
		if b == nil || b.Asset != d.baseAsset {
			continue
		}
		var p decimalParser
		balance := model.Balance{
			Asset:     b.Asset,
			Total:     p.parse("balance", b.Balance),
			Available: p.parse("availableBalance", b.AvailableBalance),
		}
		if p.err != nil {
			return model.Balance{}, p.err
		}
		return balance, nil
	}
	return model.Balance{Asset: d.baseAsset}, nil
}

func (d *Delegator) GetPositions(ctx context.Context) ([]model.Position, error) {
	risks, err := d.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	positions := make([]model.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		var p decimalParser
		amt := p.parse("positionAmt", r.PositionAmt)
		if p.err == nil && amt.IsZero() {
			continue
		}
		side := enum.SideLong
		if amt.IsNegative() {
			side = enum.SideShort
		}
		pos := model.Position{
			AssetPair:        r.Symbol,
			Side:             side,
			Size:             amt.Abs(),
			EntryPrice:       p.parse("entryPrice", r.EntryPrice),
			LiquidationPrice: p.parse("liquidationPrice", r.LiquidationPrice),
		}
		if p.err != nil {
			return nil, yerrors.Wrap(p.err, "position "+r.Symbol)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

type orderFields struct {
	orderID    int64
	clientID   string
	side       futures.SideType
	status     futures.OrderStatusType
	origQty    string
	execQty    string
	avgPrice   string
	updateTime int64
}

func (d *Delegator) report(pair string, f orderFields) (model.OrderStatusReport, error) {
	var p decimalParser
	requested := p.parse("origQty", f.origQty)
	filled := p.parse("executedQty", f.execQty)
	avg := p.parse("avgPrice", f.avgPrice)
	if p.err != nil {
		return model.OrderStatusReport{}, yerrors.Wrap(p.err, "order "+strconv.FormatInt(f.orderID, 10))
	}
	action := enum.ActionBuy
	if f.side == futures.SideTypeSell {
		action = enum.ActionSell
	}
	updated := time.Now().UTC()
	if f.updateTime > 0 {
		updated = time.UnixMilli(f.updateTime).UTC()
	}
	return model.OrderStatusReport{
		PlatformOrderID: strconv.FormatInt(f.orderID, 10),
		IdempotencyKey:  f.clientID,
		AssetPair:       pair,
		Action:          action,
		Status:          orderStatus(f.status),
		RequestedSize:   requested,
		FilledSize:      filled,
		AvgPrice:        avg,
		Fee:             filled.Mul(avg).Mul(d.feeRate),
		UpdatedAt:       updated,
	}, nil
}

// orderStatus maps the exchange status. A canceled or expired order keeps its
// terminal status even when part of it filled; FilledSize carries that part.
func orderStatus(s futures.OrderStatusType) enum.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return enum.OrderStatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		return enum.OrderStatusPartial
	case futures.OrderStatusTypeRejected:
		return enum.OrderStatusRejected
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return enum.OrderStatusCanceled
	default:
		return enum.OrderStatusPending
	}
}

func binanceSide(a enum.Action) (futures.SideType, error) {
	switch a {
	case enum.ActionBuy:
		return futures.SideTypeBuy, nil
	case enum.ActionSell:
		return futures.SideTypeSell, nil
	default:
		return "", exception.ErrOrderUnsupportedAction
	}
}

// binanceSymbol turns "BTC-USDT" or "BTC/USDT" into "BTCUSDT".
func binanceSymbol(pair string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "/", "", "_", "").Replace(pair))
}

func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return yerrors.Wrap(exception.ErrBrokerRejected, "binance "+strconv.FormatInt(apiErr.Code, 10)+": "+apiErr.Message)
	}
	return adapter.ClassifyTransport(err)
}

// decimalParser reads exchange decimals and keeps the first failure.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field, s string) decimal.Decimal {
	if s == "" || p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = yerrors.Wrap(exception.ErrDataIntegrity, field+" is not a decimal: "+s)
		return decimal.Zero
	}
	return d
}
