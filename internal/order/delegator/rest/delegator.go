package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	yerrors "github.com/yanun0323/errors"
	ydecimal "github.com/yanun0323/decimal"
)

const (
	_headerKey       = "X-API-KEY"
	_headerSignature = "X-API-SIGNATURE"
)

// Delegator talks to a JSON-over-HTTP broker:
//
//	POST /orders                       place a market order
//	GET  /orders/{id}                  query by platform id
//	GET  /orders?clientOrderId={key}   query by idempotency key
//	GET  /balance
//	GET  /positions
//
// Request bodies and query strings are signed with HMAC-SHA256 of the secret.
type Delegator struct {
	client  *http.Client
	baseURL string
	token   adapter.Token
	now     func() time.Time
}

var _ adapter.Broker = (*Delegator)(nil)

func NewDelegator(client *http.Client, baseURL string, token adapter.Token) *Delegator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Delegator{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		now:     time.Now,
	}
}

func (d *Delegator) Platform() enum.Platform {
	return enum.PlatformREST
}

func (d *Delegator) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (model.OrderStatusReport, error) {
	var side string
	switch req.Action {
	case enum.ActionBuy:
		side = "BUY"
	case enum.ActionSell:
		side = "SELL"
	default:
		return model.OrderStatusReport{}, exception.ErrOrderUnsupportedAction
	}

	payload, err := sonic.ConfigFastest.Marshal(requestPlaceOrder{
		ClientOrderID: req.IdempotencyKey,
		Symbol:        req.AssetPair,
		Side:          side,
		Type:          "MARKET",
		Quantity:      req.Size.String(),
		ReduceOnly:    req.ReduceOnly,
		Timestamp:     d.now().UnixMilli(),
	})
	if err != nil {
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrInternal, err.Error())
	}

	var data Response[ResponseOrder]
	if err := d.do(ctx, http.MethodPost, "/orders", payload, &data); err != nil {
		return model.OrderStatusReport{}, err
	}
	return toReport(req.AssetPair, data.Data)
}

func (d *Delegator) QueryOrder(ctx context.Context, ref adapter.OrderRef) (model.OrderStatusReport, error) {
	var path string
	switch {
	case ref.PlatformOrderID != "":
		path = "/orders/" + url.PathEscape(ref.PlatformOrderID)
	case ref.IdempotencyKey != "":
		path = "/orders?" + url.Values{"clientOrderId": {ref.IdempotencyKey}}.Encode()
	default:
		return model.OrderStatusReport{}, yerrors.Wrap(exception.ErrOrderInvalidRequest, "order reference is empty")
	}

	var data Response[ResponseOrder]
	if err := d.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return model.OrderStatusReport{}, err
	}
	return toReport(ref.AssetPair, data.Data)
}

func (d *Delegator) GetBalance(ctx context.Context) (model.Balance, error) {
	var data Response[ResponseBalance]
	if err := d.do(ctx, http.MethodGet, "/balance", nil, &data); err != nil {
		return model.Balance{}, err
	}
	var p decimalParser
	balance := model.Balance{
		Asset:     data.Data.Asset,
		Total:     p.parse("total", data.Data.Total),
		Available: p.parse("available", data.Data.Available),
	}
	if p.err != nil {
		return model.Balance{}, p.err
	}
	return balance, nil
}

func (d *Delegator) GetPositions(ctx context.Context) ([]model.Position, error) {
	var data Response[[]ResponsePosition]
	if err := d.do(ctx, http.MethodGet, "/positions", nil, &data); err != nil {
		return nil, err
	}

	positions := make([]model.Position, 0, len(data.Data))
	for _, r := range data.Data {
		var side enum.Side
		if err := side.UnmarshalText([]byte(strings.ToUpper(r.Side))); err != nil || !side.IsAvailable() || side == enum.SideFlat {
			continue
		}
		var p decimalParser
		pos := model.Position{
			AssetPair:        r.Symbol,
			Side:             side,
			Size:             p.parse("size", r.Size),
			EntryPrice:       p.parse("entryPrice", r.EntryPrice),
			Leverage:         p.parse("leverage", r.Leverage),
			LiquidationPrice: p.parse("liquidationPrice", r.LiquidationPrice),
		}
		if p.err != nil {
			return nil, yerrors.Wrap(p.err, "position "+r.Symbol)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (d *Delegator) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	r, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return yerrors.Wrap(exception.ErrOrderInvalidRequest, err.Error())
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(_headerKey, d.token.Key)
	r.Header.Set(_headerSignature, d.sign(path, payload))

	resp, err := d.client.Do(r)
	if err != nil {
		return adapter.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		// the platform answered, so the body loss is as ambiguous as a timeout
		return adapter.ClassifyTransport(err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return exception.ErrOrderNotFound
	}
	if err := adapter.ClassifyStatus(resp.StatusCode, resp.Status+": "+string(raw)); err != nil {
		return err
	}

	if err := sonic.ConfigFastest.Unmarshal(raw, out); err != nil {
		return yerrors.Wrap(exception.ErrDataIntegrity, "decode response body: "+err.Error())
	}
	if env, ok := out.(interface{ code() (int, string) }); ok {
		if code, msg := env.code(); code != 0 {
			return yerrors.Wrap(exception.ErrBrokerRejected, strconv.Itoa(code)+": "+msg)
		}
	}
	return nil
}

func (r *Response[T]) code() (int, string) {
	return r.Code, r.Message
}

func (d *Delegator) sign(path string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(d.token.Secret))
	mac.Write([]byte(path))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func toReport(pair string, o ResponseOrder) (model.OrderStatusReport, error) {
	action := enum.ActionBuy
	if strings.EqualFold(o.Side, "SELL") {
		action = enum.ActionSell
	}
	if o.Symbol != "" {
		pair = o.Symbol
	}
	updated := time.Now().UTC()
	if o.UpdatedAt > 0 {
		updated = time.UnixMilli(o.UpdatedAt).UTC()
	}
	var p decimalParser
	report := model.OrderStatusReport{
		PlatformOrderID: o.ID,
		IdempotencyKey:  o.ClientOrderID,
		AssetPair:       pair,
		Action:          action,
		Status:          toStatus(o.Status),
		RequestedSize:   p.parse("quantity", o.Quantity),
		FilledSize:      p.parse("filled", o.Filled),
		AvgPrice:        p.parse("avgPrice", o.AvgPrice),
		Fee:             p.parse("fee", o.Fee),
		UpdatedAt:       updated,
	}
	if p.err != nil {
		return model.OrderStatusReport{}, yerrors.Wrap(p.err, "order "+o.ID)
	}
	return report, nil
}

var _statusTable = map[string]enum.OrderStatus{
	"NEW":              enum.OrderStatusPending,
	"PENDING":          enum.OrderStatusPending,
	"OPEN":             enum.OrderStatusPending,
	"PARTIALLY_FILLED": enum.OrderStatusPartial,
	"PARTIAL":          enum.OrderStatusPartial,
	"FILLED":           enum.OrderStatusFilled,
	"REJECTED":         enum.OrderStatusRejected,
	"CANCELED":         enum.OrderStatusCanceled,
	"CANCELLED":        enum.OrderStatusCanceled,
	"EXPIRED":          enum.OrderStatusCanceled,
}

func toStatus(s string) enum.OrderStatus {
	if st, ok := _statusTable[strings.ToUpper(s)]; ok {
		return st
	}
	return enum.OrderStatusPending
}

// decimalParser converts wire decimals and keeps the first failure.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field string, d ydecimal.Decimal) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	text := d.String()
	if text == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(text)
	if err != nil {
		p.err = yerrors.Wrap(exception.ErrDataIntegrity, field+" is not a decimal: "+text)
		return decimal.Zero
	}
	return v
}
