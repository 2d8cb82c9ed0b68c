package pnl

import (
	"testing"

	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPnLBothDirections(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		exit  string
		size  string
		side  enum.Side
		want  string
	}{
		{"long profits when price rises", "50000", "52000", "0.1", enum.SideLong, "200"},
		{"long loses when price falls", "50000", "48000", "0.1", enum.SideLong, "-200"},
		{"short profits when price falls", "50000", "48000", "0.02", enum.SideShort, "40"},
		{"short loses when price rises", "50000", "52000", "0.02", enum.SideShort, "-40"},
		{"flat is always zero", "50000", "52000", "1", enum.SideFlat, "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PnL(d(tc.entry), d(tc.exit), d(tc.size), tc.side)
			assert.Truef(t, got.Equal(d(tc.want)), "want %s, got %s", tc.want, got)
		})
	}
}

func TestShortRoundTripFromNotional(t *testing.T) {
	entry := d("50000")
	notional := d("1000")
	leverage := d("10")

	margin, err := MarginRequired(notional, leverage)
	require.NoError(t, err)
	assert.True(t, margin.Equal(d("100")), margin.String())

	contracts := notional.Div(entry)
	got := PnL(entry, d("48000"), contracts, enum.SideShort)
	assert.True(t, got.Equal(d("40")), got.String())
}

func TestMarginRequiredRejectsNonPositiveLeverage(t *testing.T) {
	_, err := MarginRequired(d("1000"), decimal.Zero)
	require.ErrorIs(t, err, exception.ErrInvalidLeverage)
}

func TestLiquidationPrice(t *testing.T) {
	mmr := d("0.005")

	long, clamped, err := LiquidationPrice(d("50000"), d("10"), enum.SideLong, mmr)
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.True(t, long.Equal(d("45250")), long.String())

	short, clamped, err := LiquidationPrice(d("50000"), d("10"), enum.SideShort, mmr)
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.True(t, short.Equal(d("54750")), short.String())
}

func TestLiquidationPriceClampsWrongSide(t *testing.T) {
	// mmr larger than 1/leverage pushes the formula across entry
	long, clamped, err := LiquidationPrice(d("100"), d("50"), enum.SideLong, d("0.05"))
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.True(t, long.Equal(d("98")), long.String())

	short, clamped, err := LiquidationPrice(d("100"), d("50"), enum.SideShort, d("0.05"))
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.True(t, short.Equal(d("102")), short.String())
}

func TestLiquidationPriceInvalidInput(t *testing.T) {
	_, _, err := LiquidationPrice(decimal.Zero, d("10"), enum.SideLong, decimal.Zero)
	require.ErrorIs(t, err, exception.ErrInvalidPrice)

	_, _, err = LiquidationPrice(d("100"), d("10"), enum.SideFlat, decimal.Zero)
	require.ErrorIs(t, err, exception.ErrInvalidSide)
}

func TestIsLiquidated(t *testing.T) {
	pos := model.Position{
		AssetPair:        "BTCUSDT",
		Side:             enum.SideLong,
		Size:             d("1"),
		EntryPrice:       d("100"),
		LiquidationPrice: d("90"),
	}
	assert.False(t, IsLiquidated(pos, d("91")))
	assert.True(t, IsLiquidated(pos, d("90")))

	pos.Side = enum.SideShort
	pos.LiquidationPrice = d("110")
	assert.False(t, IsLiquidated(pos, d("109")))
	assert.True(t, IsLiquidated(pos, d("111")))
}

func TestValidateStopLoss(t *testing.T) {
	t.Run("within bounds is untouched", func(t *testing.T) {
		check, err := ValidateStopLoss(d("100"), d("95"), enum.SideLong)
		require.NoError(t, err)
		assert.False(t, check.Adjusted)
		assert.True(t, check.Distance.Equal(d("0.05")))
	})

	t.Run("too tight is widened to minimum", func(t *testing.T) {
		check, err := ValidateStopLoss(d("100"), d("99.9"), enum.SideLong)
		require.NoError(t, err)
		assert.True(t, check.Adjusted)
		assert.True(t, check.Stop.Equal(d("99.5")), check.Stop.String())

		check, err = ValidateStopLoss(d("100"), d("100.1"), enum.SideShort)
		require.NoError(t, err)
		assert.True(t, check.Stop.Equal(d("100.5")), check.Stop.String())
	})

	t.Run("too wide is clamped to maximum", func(t *testing.T) {
		check, err := ValidateStopLoss(d("100"), d("10"), enum.SideLong)
		require.NoError(t, err)
		assert.True(t, check.Adjusted)
		assert.True(t, check.Stop.Equal(d("50")), check.Stop.String())
	})

	t.Run("wrong side is rejected", func(t *testing.T) {
		_, err := ValidateStopLoss(d("100"), d("101"), enum.SideLong)
		require.ErrorIs(t, err, exception.ErrStopLossWrongSide)

		_, err = ValidateStopLoss(d("100"), d("99"), enum.SideShort)
		require.ErrorIs(t, err, exception.ErrStopLossWrongSide)

		_, err = ValidateStopLoss(d("100"), d("100"), enum.SideLong)
		require.ErrorIs(t, err, exception.ErrStopLossWrongSide)
	})
}

func TestPositionSize(t *testing.T) {
	size, err := PositionSize(d("10000"), d("0.01"), d("100"), d("95"))
	require.NoError(t, err)
	assert.True(t, size.Equal(d("20")), size.String())

	_, err = PositionSize(d("10000"), d("1.5"), d("100"), d("95"))
	require.ErrorIs(t, err, exception.ErrInvalidRiskFraction)
}
