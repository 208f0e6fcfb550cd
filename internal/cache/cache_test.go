package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/models"
)

func testOrder(id string) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:                id,
		Kind:              models.OrderKindLimit,
		TokenIn:           "ETH",
		TokenOut:          "USDC",
		AmountIn:          decimal.NewFromInt(3),
		SlippageTolerance: models.DefaultSlippageTolerance,
		UserID:            "u1",
		Status:            models.StatusRouting,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func runCacheContract(t *testing.T, c OrderCache) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, testOrder(id), time.Minute))
	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRouting, got.Status)
	assert.True(t, got.AmountIn.Equal(decimal.NewFromInt(3)))

	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	found := false
	for _, o := range all {
		if o.ID == id {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, c.Delete(ctx, id))
	_, err = c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// insert newest first so set or map order cannot pass by accident
	base := time.Now().UTC().Add(-time.Hour)
	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, uuid.NewString())
	}
	for i := len(want) - 1; i >= 0; i-- {
		o := testOrder(want[i])
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, c.Set(ctx, o, time.Minute))
	}
	all, err = c.ListAll(ctx)
	require.NoError(t, err)
	var got []string
	for _, o := range all {
		got = append(got, o.ID)
	}
	assert.Equal(t, want, got)
}

func TestSortOldestFirst(t *testing.T) {
	base := time.Now().UTC()
	a, b, c := testOrder("a"), testOrder("b"), testOrder("c")
	a.CreatedAt = base.Add(2 * time.Second)
	b.CreatedAt = base
	c.CreatedAt = base
	orders := []*models.Order{a, c, b}

	sortOldestFirst(orders)
	assert.Equal(t, []string{"b", "c", "a"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
}

func TestMemoryOrderCacheContract(t *testing.T) {
	runCacheContract(t, NewMemoryOrderCache())
}

func TestMemoryOrderCacheExpiry(t *testing.T) {
	c := NewMemoryOrderCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testOrder("o1"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "o1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	all, err := c.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryOrderCacheReturnsCopies(t *testing.T) {
	c := NewMemoryOrderCache()
	ctx := context.Background()
	o := testOrder("o1")
	require.NoError(t, c.Set(ctx, o, time.Minute))
	o.Status = models.StatusFailed

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRouting, got.Status)
}

func TestRedisOrderCacheContract(t *testing.T) {
	addr := os.Getenv("ORDERFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORDERFLOW_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	runCacheContract(t, NewRedisOrderCache(client, zap.NewNop(), "test:"+uuid.NewString()))
}
