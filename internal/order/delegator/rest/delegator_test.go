package rest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"trader/internal/adapter"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Delegator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDelegator(srv.Client(), srv.URL, adapter.NewToken("key", "secret"))
}

func TestSubmitOrder(t *testing.T) {
	d := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		require.Equal(t, "key", r.Header.Get(_headerKey))
		require.NotEmpty(t, r.Header.Get(_headerSignature))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req requestPlaceOrder
		require.NoError(t, sonic.Unmarshal(raw, &req))
		assert.Equal(t, "k-1", req.ClientOrderID)
		assert.Equal(t, "SELL", req.Side)
		assert.Equal(t, "0.5", req.Quantity)
		assert.True(t, req.ReduceOnly)

		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"9","clientOrderId":"k-1","symbol":"BTC-USDT","side":"SELL","status":"FILLED","quantity":"0.5","filled":"0.5","avgPrice":"100.5","fee":"0.02"}}`))
	})

	report, err := d.SubmitOrder(t.Context(), adapter.OrderRequest{
		IdempotencyKey: "k-1",
		AssetPair:      "BTC-USDT",
		Action:         enum.ActionSell,
		Size:           decimal.RequireFromString("0.5"),
		ReduceOnly:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "9", report.PlatformOrderID)
	assert.Equal(t, enum.OrderStatusFilled, report.Status)
	assert.Equal(t, enum.ActionSell, report.Action)
	assert.True(t, report.AvgPrice.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, report.Fee.Equal(decimal.RequireFromString("0.02")))
}

func TestMalformedDecimalIsReported(t *testing.T) {
	d := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/9":
			_, _ = w.Write([]byte(`{"code":0,"data":{"id":"9","symbol":"BTC-USDT","side":"BUY","status":"FILLED","quantity":"0.5","filled":"0.5","avgPrice":"abc"}}`))
		case "/positions":
			_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"ETH-USDT","side":"LONG","size":"1.2.3","entryPrice":"3000"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	_, err := d.QueryOrder(t.Context(), adapter.OrderRef{AssetPair: "BTC-USDT", PlatformOrderID: "9"})
	require.ErrorIs(t, err, exception.ErrDataIntegrity)
	assert.Equal(t, exception.ErrorKindDataIntegrity, exception.KindOf(err))

	positions, err := d.GetPositions(t.Context())
	require.ErrorIs(t, err, exception.ErrDataIntegrity)
	assert.Empty(t, positions)
}

func TestQueryOrderNotFound(t *testing.T) {
	d := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-2", r.URL.Query().Get("clientOrderId"))
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := d.QueryOrder(t.Context(), adapter.OrderRef{IdempotencyKey: "k-2"})
	require.ErrorIs(t, err, exception.ErrOrderNotFound)
}

func TestRejections(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{"http 400", http.StatusBadRequest, `{"code":1001,"message":"bad size"}`},
		{"http 503", http.StatusServiceUnavailable, ``},
		{"envelope code", http.StatusOK, `{"code":2002,"message":"insufficient margin"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := d.SubmitOrder(t.Context(), adapter.OrderRequest{
				IdempotencyKey: "k",
				AssetPair:      "BTC-USDT",
				Action:         enum.ActionBuy,
				Size:           decimal.NewFromInt(1),
			})
			require.ErrorIs(t, err, exception.ErrBrokerRejected)
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDelegator(nil, url, adapter.NewToken("key", "secret"))
	_, err := d.GetBalance(t.Context())
	require.ErrorIs(t, err, exception.ErrBrokerConnection)
}

func TestGetPositions(t *testing.T) {
	d := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":[{"symbol":"ETH-USDT","side":"short","size":"2","entryPrice":"3000","leverage":"5"},{"symbol":"BTC-USDT","side":"FLAT","size":"0"}]}`))
	})

	positions, err := d.GetPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, enum.SideShort, positions[0].Side)
	assert.True(t, positions[0].Size.Equal(decimal.NewFromInt(2)))
}
