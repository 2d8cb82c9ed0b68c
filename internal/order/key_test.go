package order

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,36}$`)

func TestNewIdempotencyKey(t *testing.T) {
	testCases := []struct {
		namespace  string
		decisionID string
		prefix     string
	}{
		{"trader", "d-42", "trader-d_42-"},
		{"", "abc", "trader-abc-"},
		{"averyverylongnamespace", "x", "averyver-x-"},
		{"bt", "", "bt-"},
		{"bt", "0123456789012345678901234567890123456789", "bt-012345678901234567890123-"},
	}

	for _, tc := range testCases {
		t.Run(tc.prefix, func(t *testing.T) {
			key := NewIdempotencyKey(tc.namespace, tc.decisionID)
			assert.Regexp(t, keyPattern, key)
			assert.LessOrEqual(t, len(key), maxKeyLength)
			assert.Equal(t, tc.prefix, key[:len(tc.prefix)])
		})
	}

	assert.NotEqual(t, NewIdempotencyKey("trader", "d1"), NewIdempotencyKey("trader", "d1"))
}

func TestBackoffNext(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 2*time.Second, b.Next(0))
	assert.Equal(t, 2*time.Second, b.Next(1))
	assert.Equal(t, 4*time.Second, b.Next(2))
	assert.Equal(t, 8*time.Second, b.Next(3))
	assert.Equal(t, 15*time.Second, b.Next(4))
	assert.Equal(t, 15*time.Second, b.Next(20))

	b.Jitter = 0.5
	for i := 1; i < 10; i++ {
		wait := b.Next(i)
		assert.GreaterOrEqual(t, wait, b.Min)
		assert.LessOrEqual(t, wait, b.Max)
	}
}
