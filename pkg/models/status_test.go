package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{StatusPending, StatusRouting, true},
		{StatusRouting, StatusBuilding, true},
		{StatusBuilding, StatusSubmitted, true},
		{StatusSubmitted, StatusConfirmed, true},
		{StatusPending, StatusFailed, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusPending, StatusBuilding, false},
		{StatusRouting, StatusPending, false},
		{StatusBuilding, StatusConfirmed, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusFailed, StatusRouting, false},
		{StatusConfirmed, StatusConfirmed, false},
		{OrderStatus("bogus"), StatusRouting, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestReached(t *testing.T) {
	assert.True(t, StatusBuilding.Reached(StatusRouting))
	assert.True(t, StatusBuilding.Reached(StatusBuilding))
	assert.False(t, StatusRouting.Reached(StatusBuilding))
	assert.True(t, StatusFailed.Reached(StatusSubmitted))
}

func TestOrderUpdateApplyKeepsMonotonicFields(t *testing.T) {
	created := time.Now().Add(-time.Minute)
	executed := created.Add(10 * time.Second)
	order := &Order{ID: "o1", Status: StatusSubmitted, RetryCount: 2, CreatedAt: created, UpdatedAt: created, ExecutedAt: &executed}

	lower := 1
	confirmed := StatusConfirmed
	later := time.Now()
	price := decimal.NewFromFloat(0.00033)
	OrderUpdate{Status: &confirmed, RetryCount: &lower, ExecutedAt: &later, ExecutedPrice: &price, UpdatedAt: later}.Apply(order)

	assert.Equal(t, StatusConfirmed, order.Status)
	assert.Equal(t, 2, order.RetryCount)
	assert.Equal(t, executed, *order.ExecutedAt)
	assert.True(t, order.ExecutedPrice.Equal(price))
	assert.Equal(t, later, order.UpdatedAt)
}

func TestQuoteEffectivePrice(t *testing.T) {
	a := &Quote{Price: decimal.NewFromInt(100), Fee: decimal.NewFromFloat(0.003)}
	b := &Quote{Price: decimal.NewFromInt(99), Fee: decimal.NewFromFloat(0.002)}
	assert.True(t, a.EffectivePrice().Equal(decimal.NewFromFloat(99.7)))
	assert.True(t, b.EffectivePrice().Equal(decimal.NewFromFloat(98.802)))
}

func TestCloneIsDeep(t *testing.T) {
	hash := "0xabc"
	o := &Order{ID: "o1", TxHash: &hash}
	c := o.Clone()
	*c.TxHash = "0xdef"
	assert.Equal(t, "0xabc", *o.TxHash)
}
