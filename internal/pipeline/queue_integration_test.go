package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/orderflow/internal/orderqueue"
	"github.com/Aidin1998/orderflow/internal/venue"
	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

func startQueue(t *testing.T, svc *Service, concurrency int) *orderqueue.Queue {
	t.Helper()
	q := orderqueue.New(svc, orderqueue.Options{
		Concurrency: concurrency,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		RateLimit:   10_000,
		RateWindow:  time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q
}

func waitTerminal(t *testing.T, e *env, orderID string) *models.Order {
	t.Helper()
	var order *models.Order
	require.Eventually(t, func() bool {
		o, err := e.store.Get(context.Background(), orderID)
		if err != nil {
			return false
		}
		order = o
		return o.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return order
}

func TestQueueConfirmsOrder(t *testing.T) {
	e := newEnv(t, nil)
	q := startQueue(t, e.svc, 2)

	order, err := e.svc.CreateOrder(context.Background(), request("u1"))
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), order.ID, 0))

	final := waitTerminal(t, e, order.ID)
	assert.Equal(t, models.StatusConfirmed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.Equal(t, happyPath, e.all.statusesFor(order.ID))
}

func TestQueueExhaustsRetryBudget(t *testing.T) {
	e := newEnv(t, nil)
	e.router.quoteFn = func(int) error {
		return errors.NoLiquidity.Explain("no venue quoted SOL/USDC")
	}
	q := startQueue(t, e.svc, 2)

	order, err := e.svc.CreateOrder(context.Background(), request("u1"))
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), order.ID, 0))

	final := waitTerminal(t, e, order.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	require.NotNil(t, final.FailureReason)
	assert.Contains(t, *final.FailureReason, "no venue quoted")
	assert.Equal(t, 3, e.router.quoteCalls())

	statuses := e.all.statusesFor(order.ID)
	assert.Equal(t, []models.OrderStatus{models.StatusPending, models.StatusRouting, models.StatusFailed}, statuses)
}

func TestQueueFailsInvalidTokenImmediately(t *testing.T) {
	raydium := &venue.StaticVenue{VenueName: "raydium", Price: decimal.NewFromInt(150), Fee: decimal.NewFromFloat(0.0025)}
	router := venue.NewRouter([]venue.Venue{raydium}, venue.RouterConfig{}, venue.NewRand(1), zap.NewNop())
	e := newEnv(t, router)
	q := startQueue(t, e.svc, 2)

	req := request("u1")
	req.TokenIn = venue.InvalidToken
	order, err := e.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), order.ID, 0))

	final := waitTerminal(t, e, order.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	require.NotNil(t, final.FailureReason)
	assert.Contains(t, *final.FailureReason, "invalid token pair")
	assert.Nil(t, final.TxHash)
	assert.NotContains(t, e.all.statusesFor(order.ID), models.StatusConfirmed)
}

func TestQueueFailsSubmittedOrderWithoutReexecuting(t *testing.T) {
	e := newEnv(t, nil)
	order, err := e.svc.CreateOrder(context.Background(), request("u1"))
	require.NoError(t, err)
	for _, st := range []models.OrderStatus{models.StatusRouting, models.StatusBuilding, models.StatusSubmitted} {
		_, err := e.svc.UpdateStatus(context.Background(), order.ID, st, "", Fields{Venue: "raydium"})
		require.NoError(t, err)
	}

	q := startQueue(t, e.svc, 2)
	require.NoError(t, q.Enqueue(context.Background(), order.ID, 0))

	final := waitTerminal(t, e, order.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	require.NotNil(t, final.FailureReason)
	assert.Contains(t, *final.FailureReason, "settlement outcome unknown")
	assert.Nil(t, final.TxHash)
	assert.Equal(t, 0, e.router.quoteCalls())
}

func TestQueueBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	router := &fakeRouter{execFn: func(int, *models.Order) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	e := newEnv(t, router)
	q := startQueue(t, e.svc, 10)

	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		order, err := e.svc.CreateOrder(context.Background(), request("u1"))
		require.NoError(t, err)
		ids = append(ids, order.ID)
		require.NoError(t, q.Enqueue(context.Background(), order.ID, 0))
	}

	for _, id := range ids {
		final := waitTerminal(t, e, id)
		assert.Equal(t, models.StatusConfirmed, final.Status)
	}
	assert.LessOrEqual(t, peak.Load(), int32(10))
	assert.Greater(t, peak.Load(), int32(1))

	require.Eventually(t, func() bool {
		st := q.Stats()
		return st.Completed == 50 && st.Active == 0
	}, 5*time.Second, 10*time.Millisecond)
}
