package venue

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/metrics"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// InvalidToken is a symbol every venue rejects at execution
const InvalidToken = "INVALID_TOKEN"

var tracer = otel.Tracer("orderflow/venue")

// RouterConfig bounds quoting and execution
type RouterConfig struct {
	QuoteTimeout time.Duration
	MaxAmount    decimal.Decimal
	MaxSlippage  decimal.Decimal
	// AmbientSlippage is the upper bound of the random market-movement component
	AmbientSlippage decimal.Decimal
}

// DefaultRouterConfig returns the stock limits
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QuoteTimeout:    2 * time.Second,
		MaxAmount:       decimal.NewFromInt(1_000_000),
		MaxSlippage:     decimal.NewFromFloat(0.05),
		AmbientSlippage: decimal.NewFromFloat(0.002),
	}
}

// Router selects the best venue for an order and executes against it
type Router struct {
	venues []Venue
	cfg    RouterConfig
	rng    *Rand
	logger *zap.Logger
	now    func() time.Time
}

// NewRouter creates a router over venues in registration order
func NewRouter(venues []Venue, cfg RouterConfig, rng *Rand, logger *zap.Logger) *Router {
	def := DefaultRouterConfig()
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = def.QuoteTimeout
	}
	if cfg.MaxAmount.IsZero() {
		cfg.MaxAmount = def.MaxAmount
	}
	if cfg.MaxSlippage.IsZero() {
		cfg.MaxSlippage = def.MaxSlippage
	}
	if rng == nil {
		rng = NewRand(0)
	}
	return &Router{venues: venues, cfg: cfg, rng: rng, logger: logger, now: time.Now}
}

// Venues returns the registered venue names in order
func (r *Router) Venues() []string {
	names := make([]string, len(r.venues))
	for i, v := range r.venues {
		names[i] = v.Name()
	}
	return names
}

type quoteResult struct {
	quote *models.Quote
	err   error
}

func (r *Router) quoteOne(ctx context.Context, v Venue, tokenIn, tokenOut string, amount decimal.Decimal) (*models.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QuoteTimeout)
	defer cancel()

	start := time.Now()
	ch := make(chan quoteResult, 1)
	go func() {
		q, err := v.Quote(ctx, tokenIn, tokenOut, amount)
		ch <- quoteResult{q, err}
	}()

	select {
	case res := <-ch:
		metrics.VenueQuoteLatency.WithLabelValues(v.Name()).Observe(time.Since(start).Seconds())
		if res.err != nil {
			if ctx.Err() != nil {
				return nil, errors.VenueUnavailable.Explain("%s quote timed out after %s", v.Name(), r.cfg.QuoteTimeout).Wrap(res.err)
			}
			return nil, res.err
		}
		if res.quote == nil {
			return nil, errors.VenueUnavailable.Explain("%s returned no quote", v.Name())
		}
		return res.quote, nil
	case <-ctx.Done():
		return nil, errors.VenueUnavailable.Explain("%s quote timed out after %s", v.Name(), r.cfg.QuoteTimeout).Wrap(ctx.Err())
	}
}

// BestQuote asks every venue concurrently and returns the quote with the highest
// fee-adjusted price. Ties go to the venue registered first.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*models.Quote, error) {
	ctx, span := tracer.Start(ctx, "venue.BestQuote")
	defer span.End()
	span.SetAttributes(attribute.String("pair", tokenIn+"/"+tokenOut))

	results := make([]quoteResult, len(r.venues))
	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v Venue) {
			defer wg.Done()
			q, err := r.quoteOne(ctx, v, tokenIn, tokenOut, amount)
			results[i] = quoteResult{q, err}
		}(i, v)
	}
	wg.Wait()

	var best *models.Quote
	var bestPrice decimal.Decimal
	var failures []error
	for i, res := range results {
		if res.err != nil {
			metrics.VenueFailures.WithLabelValues(r.venues[i].Name(), "quote").Inc()
			r.logger.Debug("Venue quote failed", zap.String("venue", r.venues[i].Name()), zap.Error(res.err))
			failures = append(failures, res.err)
			continue
		}
		eff := res.quote.EffectivePrice()
		if best == nil || eff.GreaterThan(bestPrice) {
			best, bestPrice = res.quote, eff
		}
	}

	if best == nil {
		err := errors.NoLiquidity.Explain("no venue quoted %s/%s", tokenIn, tokenOut).Wrap(errors.Join(failures...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no liquidity")
		return nil, err
	}

	metrics.VenueSelected.WithLabelValues(best.Venue).Inc()
	span.SetAttributes(attribute.String("venue", best.Venue), attribute.String("effective_price", bestPrice.String()))
	r.logger.Debug("Best quote selected",
		zap.String("venue", best.Venue),
		zap.String("pair", tokenIn+"/"+tokenOut),
		zap.String("price", best.Price.String()),
		zap.String("effective_price", bestPrice.String()))
	return best, nil
}

func (r *Router) venue(name string) Venue {
	for _, v := range r.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

// Execute settles order against the venue that issued quote
func (r *Router) Execute(ctx context.Context, quote *models.Quote, order *models.Order) (*models.SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "venue.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", order.ID), attribute.String("venue", quote.Venue))

	result, err := r.execute(ctx, quote, order)
	if err != nil {
		metrics.VenueFailures.WithLabelValues(quote.Venue, "execute").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err))
		return nil, err
	}
	return result, nil
}

func (r *Router) execute(ctx context.Context, quote *models.Quote, order *models.Order) (*models.SettlementResult, error) {
	if order.TokenIn == InvalidToken || order.TokenOut == InvalidToken {
		return nil, errors.InvalidPair.Explain("invalid token pair %s", order.Pair())
	}
	if !order.AmountIn.IsPositive() {
		return nil, errors.InvalidAmount.Explain("amount must be positive, got %s", order.AmountIn)
	}
	if order.AmountIn.GreaterThan(r.cfg.MaxAmount) {
		return nil, errors.InvalidAmount.Explain("amount %s exceeds maximum %s", order.AmountIn, r.cfg.MaxAmount)
	}

	v := r.venue(quote.Venue)
	if v == nil {
		return nil, errors.VenueUnavailable.Explain("unknown venue %s", quote.Venue)
	}

	slippage := r.realizedSlippage(quote, order)
	tolerance := order.SlippageTolerance
	if slippage.GreaterThan(tolerance) || slippage.GreaterThan(r.cfg.MaxSlippage) {
		return nil, errors.SlippageExceeded.Explain("realized slippage %s exceeds tolerance %s", slippage.StringFixed(6), tolerance)
	}

	if err := v.Settle(ctx, quote, order, slippage); err != nil {
		if ctx.Err() != nil {
			return nil, errors.SettlementFailed.Explain("%s settlement interrupted", quote.Venue).Wrap(err)
		}
		return nil, err
	}

	settledAt := r.now().UTC()
	return &models.SettlementResult{
		Venue:            quote.Venue,
		TxHash:           r.txHash(order, quote, settledAt),
		ExecutedPrice:    quote.Price.Mul(decimal.NewFromInt(1).Sub(slippage)).Round(12),
		RealizedSlippage: slippage,
		SettledAt:        settledAt,
	}, nil
}

// realizedSlippage = ambient movement + size impact + venue estimate
func (r *Router) realizedSlippage(quote *models.Quote, order *models.Order) decimal.Decimal {
	ambient := decimal.NewFromFloat(r.rng.Float64()).Mul(r.cfg.AmbientSlippage)
	size := decimal.Zero
	if quote.Liquidity.IsPositive() {
		size = order.AmountIn.Div(quote.Liquidity)
	}
	return ambient.Add(size).Add(quote.EstimatedSlippage).Round(8)
}

func (r *Router) txHash(order *models.Order, quote *models.Quote, at time.Time) string {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], r.rng.Uint64())
	payload := fmt.Sprintf("%s|%s|%s|%d", order.ID, quote.Venue, quote.Price, at.UnixNano())
	return crypto.Keccak256Hash([]byte(payload), nonce[:]).Hex()
}
