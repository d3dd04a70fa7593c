package dgs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusCart, OrderStatusPending))
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusProcessing))
	assert.True(t, CanTransition(OrderStatusProcessing, OrderStatusCompleted))
	assert.True(t, CanTransition(OrderStatusProcessing, OrderStatusCancelled))
	assert.True(t, CanTransition(OrderStatusCompleted, OrderStatusRefunded))

	assert.False(t, CanTransition(OrderStatusCart, OrderStatusCompleted))
	assert.False(t, CanTransition(OrderStatusPending, OrderStatusCompleted))
	assert.False(t, CanTransition(OrderStatusRefunded, OrderStatusCompleted))
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusPending))
	assert.False(t, CanTransition(OrderStatusCompleted, OrderStatusCompleted))
}

func TestOrderAmounts(t *testing.T) {
	o := &Order{Amount: 5000}
	assert.Equal(t, int64(5000), o.AuthoritativeAmount())
	assert.Equal(t, int64(5000), o.PricingBase())

	sub, total := int64(5000), int64(4500)
	o.SubtotalAmount, o.TotalAmount = &sub, &total
	assert.Equal(t, int64(4500), o.AuthoritativeAmount())
	assert.Equal(t, int64(5000), o.PricingBase())

	zero := int64(0)
	o.TotalAmount = &zero
	assert.Equal(t, int64(0), o.AuthoritativeAmount())
}

func TestDownloadGrantLive(t *testing.T) {
	now := time.Now().UTC()
	g := &DownloadGrant{DownloadsRemaining: 1, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, g.Live(now))
	assert.False(t, g.Live(now.Add(2*time.Minute)))

	g.DownloadsRemaining = 0
	assert.False(t, g.Live(now))

	g.DownloadsRemaining = 1
	g.RevokedAt = &now
	assert.False(t, g.Live(now))
}

func TestNormalizeCouponCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCouponCode("  save10 "))
}
