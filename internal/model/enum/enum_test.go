package enum

import (
	"encoding"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type textEnum interface {
	encoding.TextMarshaler
	IsAvailable() bool
}

func TestZeroValuesRoundTrip(t *testing.T) {
	testCases := []struct {
		desc  string
		value textEnum
		fresh func() encoding.TextUnmarshaler
	}{
		{"side", Side(0), func() encoding.TextUnmarshaler { v := SideLong; return &v }},
		{"action", Action(0), func() encoding.TextUnmarshaler { v := ActionBuy; return &v }},
		{"intent", Intent(0), func() encoding.TextUnmarshaler { v := IntentClose; return &v }},
		{"platform", Platform(0), func() encoding.TextUnmarshaler { v := PlatformREST; return &v }},
		{"order status", OrderStatus(0), func() encoding.TextUnmarshaler { v := OrderStatusFilled; return &v }},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			require.False(t, tc.value.IsAvailable())
			text, err := tc.value.MarshalText()
			require.NoError(t, err)

			for _, in := range [][]byte{text, nil} {
				out := tc.fresh()
				require.NoError(t, out.UnmarshalText(in))
				assert.False(t, out.(textEnum).IsAvailable(), "%q", in)
			}
		})
	}
}

func TestUnmarshalTextRejectsUnknown(t *testing.T) {
	var side Side
	assert.Error(t, side.UnmarshalText([]byte("SIDEWAYS")))
	var action Action
	assert.Error(t, action.UnmarshalText([]byte("SHORT")))
	var intent Intent
	assert.Error(t, intent.UnmarshalText([]byte("REDUCE")))
	var platform Platform
	assert.Error(t, platform.UnmarshalText([]byte("kraken")))
	var status OrderStatus
	assert.Error(t, status.UnmarshalText([]byte("DONE")))
}

func TestAvailableValuesRoundTrip(t *testing.T) {
	for v := _order_status_beg + 1; v < _order_status_end; v++ {
		text, err := v.MarshalText()
		require.NoError(t, err)
		var out OrderStatus
		require.NoError(t, out.UnmarshalText(text))
		assert.Equal(t, v, out)
	}
	for v := _platform_beg + 1; v < _platform_end; v++ {
		text, err := v.MarshalText()
		require.NoError(t, err)
		var out Platform
		require.NoError(t, out.UnmarshalText(text))
		assert.Equal(t, v, out)
	}
}
