package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketContext() model.MarketContext {
	return model.MarketContext{
		AssetPair:  "BTC-USDT",
		Time:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Price:      "50000",
		Volume:     "12.5",
		Indicators: map[string]string{"rsi_14": "55.1", "ema_20": "49900", "atr_14": "120"},
		Window:     20,
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(marketContext(), map[string]any{"leverage": "3", "fee": "0.0004"})
	require.NoError(t, err)

	mc := marketContext()
	mc.Indicators = map[string]string{"atr_14": "120", "rsi_14": "55.1", "ema_20": "49900"}
	b, err := Fingerprint(mc, map[string]any{"fee": "0.0004", "leverage": "3"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	mc.Price = "50001"
	c, err := Fingerprint(mc, map[string]any{"fee": "0.0004", "leverage": "3"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Fingerprint(marketContext(), map[string]any{"leverage": "5", "fee": "0.0004"})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestCachedCallsProviderOncePerContext(t *testing.T) {
	calls := 0
	provider := signal.ProviderFunc(func(context.Context, model.MarketContext) (model.Signal, error) {
		calls++
		return model.Signal{Action: enum.ActionBuy, Confidence: 0.8}, nil
	})
	c := New()
	cached := Cached(provider, c, "cfg-1")

	for range 3 {
		sig, err := cached.Signal(t.Context(), marketContext())
		require.NoError(t, err)
		assert.Equal(t, enum.ActionBuy, sig.Action)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(2), c.Hits())
	assert.Equal(t, uint64(1), c.Misses())
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	calls := 0
	boom := errors.New("provider down")
	provider := signal.ProviderFunc(func(context.Context, model.MarketContext) (model.Signal, error) {
		calls++
		return model.Signal{}, boom
	})
	c := New()
	cached := Cached(provider, c, nil)

	_, err := cached.Signal(t.Context(), marketContext())
	require.ErrorIs(t, err, boom)
	_, err = cached.Signal(t.Context(), marketContext())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.json")
	c := New()
	c.Put("k1", model.Signal{Action: enum.ActionSell, Confidence: 0.4, Reasoning: "r"})
	require.NoError(t, c.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))
	sig, ok := loaded.Get("k1")
	require.True(t, ok)
	assert.Equal(t, enum.ActionSell, sig.Action)

	require.NoError(t, New().Load(filepath.Join(t.TempDir(), "missing.json")))
}
