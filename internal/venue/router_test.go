package venue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newTestRouter(venues ...Venue) *Router {
	cfg := DefaultRouterConfig()
	cfg.QuoteTimeout = 100 * time.Millisecond
	cfg.AmbientSlippage = decimal.Zero
	return NewRouter(venues, cfg, NewRand(42), zap.NewNop())
}

func testOrder(amount float64) *models.Order {
	return &models.Order{
		ID:                "order-1",
		Kind:              models.OrderKindMarket,
		TokenIn:           "SOL",
		TokenOut:          "USDC",
		AmountIn:          d(amount),
		SlippageTolerance: models.DefaultSlippageTolerance,
		UserID:            "u1",
		Status:            models.StatusBuilding,
	}
}

func TestBestQuotePicksHighestEffectivePrice(t *testing.T) {
	a := &StaticVenue{VenueName: "a", Price: d(100), Fee: d(0.003)}
	b := &StaticVenue{VenueName: "b", Price: d(99), Fee: d(0.002)}
	r := newTestRouter(b, a)

	q, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
	require.NoError(t, err)
	assert.Equal(t, "a", q.Venue)
	assert.True(t, q.EffectivePrice().Equal(d(99.7)))
}

func TestBestQuoteTieGoesToFirstRegistered(t *testing.T) {
	first := &StaticVenue{VenueName: "first", Price: d(50), Fee: d(0.002)}
	second := &StaticVenue{VenueName: "second", Price: d(50), Fee: d(0.002)}
	r := newTestRouter(first, second)

	for i := 0; i < 20; i++ {
		q, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
		require.NoError(t, err)
		assert.Equal(t, "first", q.Venue)
	}
}

func TestBestQuoteAsksEveryVenue(t *testing.T) {
	a := &StaticVenue{VenueName: "raydium", Price: d(150), Fee: d(0.0025)}
	b := &StaticVenue{VenueName: "meteora", Price: d(149), Fee: d(0.002)}
	r := newTestRouter(a, b)
	assert.Equal(t, []string{"raydium", "meteora"}, r.Venues())

	for i := 0; i < 3; i++ {
		_, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, a.Quotes())
	assert.EqualValues(t, 3, b.Quotes())
}

func TestBestQuoteSkipsFailedVenues(t *testing.T) {
	down := &StaticVenue{VenueName: "down", Price: d(200), QuoteErr: errors.VenueUnavailable.Explain("down")}
	slow := &StaticVenue{VenueName: "slow", Price: d(300), Latency: time.Second}
	up := &StaticVenue{VenueName: "up", Price: d(100)}
	r := newTestRouter(down, slow, up)

	start := time.Now()
	q, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
	require.NoError(t, err)
	assert.Equal(t, "up", q.Venue)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBestQuoteAllFailIsNoLiquidity(t *testing.T) {
	r := newTestRouter(
		&StaticVenue{VenueName: "a", QuoteErr: errors.VenueUnavailable},
		&StaticVenue{VenueName: "b", Latency: time.Second},
	)
	_, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NoLiquidity))
	assert.True(t, errors.IsRetriable(err))
}

func TestQuoteTimeoutIsVenueUnavailable(t *testing.T) {
	r := newTestRouter()
	_, err := r.quoteOne(context.Background(), &StaticVenue{VenueName: "slow", Latency: time.Second}, "SOL", "USDC", d(1))
	assert.True(t, errors.Is(err, errors.VenueUnavailable))
}

func TestExecuteSuccess(t *testing.T) {
	v := &StaticVenue{VenueName: "a", Price: d(150), Liquidity: d(1_000_000), Estimate: d(0.001)}
	r := newTestRouter(v)
	order := testOrder(1000)

	q, err := r.BestQuote(context.Background(), "SOL", "USDC", order.AmountIn)
	require.NoError(t, err)
	res, err := r.Execute(context.Background(), q, order)
	require.NoError(t, err)

	// 1000/1e6 size impact + 0.001 estimate
	assert.True(t, res.RealizedSlippage.Equal(d(0.002)), res.RealizedSlippage.String())
	assert.True(t, res.ExecutedPrice.Equal(d(149.7)), res.ExecutedPrice.String())
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, res.TxHash)
	assert.Equal(t, "a", res.Venue)
	assert.EqualValues(t, 1, v.Settles())
}

func TestExecuteRejectsInvalidToken(t *testing.T) {
	v := &StaticVenue{VenueName: "a", Price: d(1)}
	r := newTestRouter(v)
	order := testOrder(10)
	order.TokenIn = InvalidToken

	q, err := r.BestQuote(context.Background(), order.TokenIn, order.TokenOut, order.AmountIn)
	require.NoError(t, err)
	_, err = r.Execute(context.Background(), q, order)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidPair))
	assert.False(t, errors.IsRetriable(err))
	assert.EqualValues(t, 0, v.Settles())
}

func TestExecuteRejectsAmountAboveCeiling(t *testing.T) {
	r := newTestRouter(&StaticVenue{VenueName: "a", Price: d(1)})
	q := &models.Quote{Venue: "a", Price: d(1), Liquidity: d(1e12)}
	_, err := r.Execute(context.Background(), q, testOrder(1_000_001))
	assert.True(t, errors.Is(err, errors.InvalidAmount))
	assert.False(t, errors.IsRetriable(err))
}

func TestExecuteSlippageExceeded(t *testing.T) {
	r := newTestRouter(&StaticVenue{VenueName: "a", Price: d(1)})
	// 500 / 10000 = 5% size impact against a 1% tolerance
	q := &models.Quote{Venue: "a", Price: d(1), Liquidity: d(10_000)}
	_, err := r.Execute(context.Background(), q, testOrder(500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SlippageExceeded))
	assert.True(t, errors.IsRetriable(err))
}

func TestExecuteHonorsZeroTolerance(t *testing.T) {
	v := &StaticVenue{VenueName: "a", Price: d(150), Fee: d(0.0025), Estimate: d(0.004)}
	r := newTestRouter(v)

	q, err := r.BestQuote(context.Background(), "SOL", "USDC", d(1))
	require.NoError(t, err)

	order := testOrder(1)
	order.SlippageTolerance = decimal.Zero
	_, err = r.Execute(context.Background(), q, order)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SlippageExceeded))
	assert.EqualValues(t, 0, v.Settles())
}

func TestExecuteAbsoluteSlippageCeiling(t *testing.T) {
	r := newTestRouter(&StaticVenue{VenueName: "a", Price: d(1)})
	order := testOrder(600)
	order.SlippageTolerance = d(0.5)
	q := &models.Quote{Venue: "a", Price: d(1), Liquidity: d(10_000)}
	_, err := r.Execute(context.Background(), q, order)
	assert.True(t, errors.Is(err, errors.SlippageExceeded))
}

func TestExecuteSettlementFailurePropagates(t *testing.T) {
	v := &StaticVenue{VenueName: "a", Price: d(1), SettleErr: errors.SettlementFailed.Explain("network congestion")}
	r := newTestRouter(v)
	q := &models.Quote{Venue: "a", Price: d(1), Liquidity: d(1e9)}
	_, err := r.Execute(context.Background(), q, testOrder(1))
	assert.True(t, errors.Is(err, errors.SettlementFailed))
}

func TestSimulatedVenueSeededDeterminism(t *testing.T) {
	cfg := Raydium(0)
	cfg.MinLatency, cfg.MaxLatency = 0, time.Millisecond

	q1, err := NewSimulatedVenue(cfg, NewRand(7)).Quote(context.Background(), "SOL", "USDC", d(1))
	require.NoError(t, err)
	q2, err := NewSimulatedVenue(cfg, NewRand(7)).Quote(context.Background(), "SOL", "USDC", d(1))
	require.NoError(t, err)

	assert.True(t, q1.Price.Equal(q2.Price))
	assert.True(t, q1.Price.GreaterThanOrEqual(d(147)) && q1.Price.LessThanOrEqual(d(153)), q1.Price.String())
	assert.True(t, q1.Fee.Equal(d(0.0025)))
	assert.True(t, q1.Liquidity.GreaterThanOrEqual(d(1_000_000)))
}

func TestSimulatedVenueAlwaysFailing(t *testing.T) {
	cfg := Meteora(1)
	cfg.MinLatency, cfg.MaxLatency = 0, time.Millisecond
	v := NewSimulatedVenue(cfg, NewRand(1))

	_, err := v.Quote(context.Background(), "SOL", "USDC", d(1))
	assert.True(t, errors.Is(err, errors.VenueUnavailable))
	err = v.Settle(context.Background(), nil, nil, decimal.Zero)
	assert.True(t, errors.Is(err, errors.SettlementFailed))
}
