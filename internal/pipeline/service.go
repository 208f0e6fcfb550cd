// Package pipeline drives orders from submission to a terminal outcome.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/internal/cache"
	"github.com/Aidin1998/orderflow/internal/fanout"
	"github.com/Aidin1998/orderflow/internal/store"
	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/metrics"
	"github.com/Aidin1998/orderflow/pkg/models"
	"github.com/Aidin1998/orderflow/pkg/validation"
)

var tracer = otel.Tracer("orderflow/pipeline")

const lockShards = 64

// Router quotes and executes orders
type Router interface {
	BestQuote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*models.Quote, error)
	Execute(ctx context.Context, quote *models.Quote, order *models.Order) (*models.SettlementResult, error)
}

// Broadcaster fans status updates out to subscribers
type Broadcaster interface {
	Publish(update models.StatusUpdate) int
	Subscribe(orderID string, sub fanout.Subscriber) fanout.Handle
	SubscribeWithSnapshot(orderID string, sub fanout.Subscriber, snapshot func() (*models.StatusUpdate, error)) (fanout.Handle, error)
	Unsubscribe(handle fanout.Handle)
}

// Config tunes the pipeline
type Config struct {
	CacheTTL          time.Duration
	SettlementWaitMin time.Duration
	SettlementWaitMax time.Duration
	UserOrdersLimit   int
}

// DefaultConfig returns the stock pipeline settings
func DefaultConfig() Config {
	return Config{
		CacheTTL:          time.Hour,
		SettlementWaitMin: 2 * time.Second,
		SettlementWaitMax: 3 * time.Second,
		UserOrdersLimit:   50,
	}
}

// Service is the order execution pipeline. It is the only writer of order state.
type Service struct {
	store     store.OrderStore
	cache     cache.OrderCache
	router    Router
	hub       Broadcaster
	validator *validation.Validator
	logger    *zap.Logger
	cfg       Config

	now   func() time.Time
	newID func() string
	locks [lockShards]sync.Mutex
}

// NewService wires the pipeline
func NewService(st store.OrderStore, c cache.OrderCache, router Router, hub Broadcaster, v *validation.Validator, cfg Config, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.SettlementWaitMax < cfg.SettlementWaitMin {
		cfg.SettlementWaitMax = cfg.SettlementWaitMin
	}
	if cfg.UserOrdersLimit <= 0 {
		cfg.UserOrdersLimit = def.UserOrdersLimit
	}
	return &Service{
		store:     st,
		cache:     c,
		router:    router,
		hub:       hub,
		validator: v,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

func (s *Service) lockFor(orderID string) *sync.Mutex {
	f := fnv.New32a()
	f.Write([]byte(orderID))
	return &s.locks[f.Sum32()%lockShards]
}

// CreateOrder validates req, persists a pending order, caches it and publishes
// the pending status. Invalid requests return a ValidationError and create nothing.
func (s *Service) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "pipeline.CreateOrder")
	defer span.End()

	if err := s.validator.ValidateOrderRequest(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	slippage := models.DefaultSlippageTolerance
	if req.SlippageTolerance != nil {
		slippage = *req.SlippageTolerance
	}

	now := s.now()
	order := &models.Order{
		ID:                s.newID(),
		Kind:              req.Kind,
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		AmountOut:         req.AmountOut,
		SlippageTolerance: slippage,
		UserID:            req.UserID,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	if err := s.store.Save(ctx, order); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := s.cache.Set(ctx, order, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("Failed to cache new order", zap.String("order_id", order.ID), zap.Error(err))
	}
	s.recordTransition(ctx, order.ID, "", models.StatusPending, "order created")

	metrics.OrdersCreated.WithLabelValues(string(order.Kind)).Inc()
	metrics.OrderTransitions.WithLabelValues(string(models.StatusPending)).Inc()

	s.hub.Publish(models.StatusUpdate{
		OrderID:   order.ID,
		Status:    models.StatusPending,
		Message:   "Order received and queued",
		Timestamp: now,
	})

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("kind", string(order.Kind)),
		zap.String("pair", order.Pair()),
		zap.String("amount_in", order.AmountIn.String()))
	return order, nil
}

// RunToCompletion drives the order through routing, building, submission and
// confirmation. Terminal orders return nil without side effects. A retry
// resumes in place up to building; an order already submitted is never
// quoted or executed again and fails with SettlementUnknown instead.
// Failures are returned without marking the order failed; finalization is
// left to the caller's retry accounting via MarkFailed.
func (s *Service) RunToCompletion(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "pipeline.RunToCompletion")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := s.loadForRun(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err))
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}

	log := s.logger.With(zap.String("order_id", orderID))
	if err := s.run(ctx, order, log); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err))
		log.Info("Order attempt failed",
			zap.String("status", string(order.Status)),
			zap.String("kind", errors.KindOf(err)),
			zap.Error(err))
		return err
	}
	return nil
}

// loadForRun reads the order from the cache, falling back to the store so
// replayed or long-delayed jobs survive a cache restart or TTL expiry.
func (s *Service) loadForRun(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.cache.Get(ctx, orderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("Cache read failed, using store", zap.String("order_id", orderID), zap.Error(err))
	}

	order, err = s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsTerminal() {
		if err := s.cache.Set(ctx, order, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("Failed to re-cache order", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return order, nil
}

func (s *Service) run(ctx context.Context, order *models.Order, log *zap.Logger) error {
	var err error

	if order.Status.Reached(models.StatusSubmitted) {
		// the earlier attempt's settlement result was never recorded
		return errors.SettlementUnknown.Explain("settlement outcome unknown: order %s was submitted by an earlier attempt", order.ID)
	}

	if order, err = s.advance(ctx, order, models.StatusRouting, "Fetching quotes from venues", Fields{}); err != nil {
		return err
	}
	quote, err := s.router.BestQuote(ctx, order.TokenIn, order.TokenOut, order.AmountIn)
	if err != nil {
		return fmt.Errorf("route order: %w", err)
	}
	log.Debug("Routed order", zap.String("venue", quote.Venue), zap.String("price", quote.Price.String()))

	if order, err = s.advance(ctx, order, models.StatusBuilding, fmt.Sprintf("Building transaction on %s", quote.Venue), Fields{Venue: quote.Venue}); err != nil {
		return err
	}

	result, err := s.router.Execute(ctx, quote, order)
	if err != nil {
		return fmt.Errorf("execute order: %w", err)
	}

	orderID := order.ID
	if order, err = s.advance(ctx, order, models.StatusSubmitted, fmt.Sprintf("Transaction submitted to %s", result.Venue), Fields{Venue: result.Venue}); err != nil {
		return errors.SettlementUnknown.Wrap(err).Explain("settlement outcome unknown: %s executed order %s but submission was not recorded", result.Venue, orderID)
	}

	if err := s.waitForSettlement(ctx); err != nil {
		return fmt.Errorf("await settlement: %w", err)
	}

	txHash := result.TxHash
	price := result.ExecutedPrice
	if _, err = s.UpdateStatus(ctx, order.ID, models.StatusConfirmed, "Order confirmed", Fields{
		Venue:         result.Venue,
		TxHash:        &txHash,
		ExecutedPrice: &price,
	}); err != nil {
		return err
	}

	log.Info("Order confirmed",
		zap.String("venue", result.Venue),
		zap.String("tx_hash", txHash),
		zap.String("executed_price", price.String()),
		zap.String("slippage", result.RealizedSlippage.String()))
	return nil
}

// advance moves order to status unless it is already there or beyond
func (s *Service) advance(ctx context.Context, order *models.Order, status models.OrderStatus, message string, fields Fields) (*models.Order, error) {
	if order.Status.Reached(status) {
		return order, nil
	}
	return s.UpdateStatus(ctx, order.ID, status, message, fields)
}

func (s *Service) waitForSettlement(ctx context.Context) error {
	wait := s.cfg.SettlementWaitMin
	if spread := s.cfg.SettlementWaitMax - s.cfg.SettlementWaitMin; spread > 0 {
		wait += time.Duration(rand.Int64N(int64(spread)))
	}
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
