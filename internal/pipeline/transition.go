package pipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/metrics"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// Fields are the optional values written alongside a status change
type Fields struct {
	Venue         string
	TxHash        *string
	ExecutedPrice *decimal.Decimal
	FailureReason *string
	RetryCount    *int
}

// current reads the order from the cache, then the store. cached reports a cache hit.
func (s *Service) current(ctx context.Context, orderID string) (order *models.Order, cached bool, err error) {
	order, err = s.cache.Get(ctx, orderID)
	if err == nil {
		return order, true, nil
	}
	order, err = s.store.Get(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return order, false, nil
}

// UpdateStatus is the single mutation path for order status: it writes the
// store, refreshes or evicts the cache entry and then publishes the update.
// Transitions not allowed by the status graph fail with InvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus, message string, fields Fields) (*models.Order, error) {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, cached, err := s.current(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if !models.CanTransition(from, status) {
		return nil, errors.InvalidTransition.Explain("order %s cannot move from %s to %s", orderID, from, status)
	}

	now := s.now()
	update := models.OrderUpdate{
		Status:        &status,
		TxHash:        fields.TxHash,
		ExecutedPrice: fields.ExecutedPrice,
		FailureReason: fields.FailureReason,
		RetryCount:    fields.RetryCount,
		UpdatedAt:     now,
	}
	if status == models.StatusConfirmed {
		update.ExecutedAt = &now
	}

	if err := s.store.UpdateFields(ctx, orderID, update); err != nil {
		return nil, fmt.Errorf("persist %s: %w", status, err)
	}
	update.Apply(order)

	reason := message
	if fields.FailureReason != nil {
		reason = *fields.FailureReason
	}
	s.recordTransition(ctx, orderID, from, status, reason)

	if status.IsTerminal() {
		if err := s.cache.Delete(ctx, orderID); err != nil {
			s.logger.Warn("Failed to evict order from cache", zap.String("order_id", orderID), zap.Error(err))
		}
		metrics.OrderLatency.WithLabelValues(string(status)).Observe(now.Sub(order.CreatedAt).Seconds())
	} else if cached {
		if err := s.cache.Set(ctx, order, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("Failed to refresh cached order", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	metrics.OrderTransitions.WithLabelValues(string(status)).Inc()

	s.hub.Publish(models.StatusUpdate{
		OrderID:       orderID,
		Status:        status,
		Message:       message,
		Timestamp:     now,
		Venue:         fields.Venue,
		TxHash:        order.TxHash,
		ExecutedPrice: order.ExecutedPrice,
		Error:         fields.FailureReason,
	})

	s.logger.Debug("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	return order, nil
}

// MarkFailed finalizes an order as failed with reason and the number of
// attempts made. Missing or already terminal orders are left untouched.
func (s *Service) MarkFailed(ctx context.Context, orderID, reason string, attempts int) error {
	order, _, err := s.current(ctx, orderID)
	if err != nil {
		if errors.Is(err, errors.OrderNotFound) {
			s.logger.Warn("Cannot fail unknown order", zap.String("order_id", orderID), zap.String("reason", reason))
			return nil
		}
		return err
	}
	if order.Status.IsTerminal() {
		return nil
	}

	_, err = s.UpdateStatus(ctx, orderID, models.StatusFailed, "Order failed", Fields{
		FailureReason: &reason,
		RetryCount:    &attempts,
	})
	if errors.Is(err, errors.InvalidTransition) {
		// lost a race with another terminal write
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Warn("Order failed",
		zap.String("order_id", orderID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
	return nil
}

// RecordAttempt persists the number of failed attempts without changing status
func (s *Service) RecordAttempt(ctx context.Context, orderID string, attempts int) error {
	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	update := models.OrderUpdate{RetryCount: &attempts, UpdatedAt: s.now()}
	if err := s.store.UpdateFields(ctx, orderID, update); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	order, err := s.cache.Get(ctx, orderID)
	if err != nil {
		return nil
	}
	update.Apply(order)
	if err := s.cache.Set(ctx, order, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("Failed to refresh cached order", zap.String("order_id", orderID), zap.Error(err))
	}
	return nil
}

func (s *Service) recordTransition(ctx context.Context, orderID string, from, to models.OrderStatus, reason string) {
	t := &models.OrderTransition{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		CreatedAt:  s.now(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		t.TraceID = sc.TraceID().String()
	}
	if err := s.store.RecordTransition(ctx, t); err != nil {
		s.logger.Error("Failed to record state transition", zap.String("order_id", orderID), zap.Error(err))
	}
}
