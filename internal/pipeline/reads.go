package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/internal/fanout"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// GetOrderStatus returns the current order, or OrderNotFound
func (s *Service) GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	order, _, err := s.current(ctx, orderID)
	return order, err
}

// GetUserOrders returns the user's most recent orders. limit is clamped to the configured maximum.
func (s *Service) GetUserOrders(ctx context.Context, userID string, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > s.cfg.UserOrdersLimit {
		limit = s.cfg.UserOrdersLimit
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// GetActiveOrders lists in-flight orders from the cache, or the store if the cache is unreachable
func (s *Service) GetActiveOrders(ctx context.Context) ([]*models.Order, error) {
	orders, err := s.cache.ListAll(ctx)
	if err == nil {
		return orders, nil
	}
	s.logger.Warn("Cache listing failed, using store", zap.Error(err))
	return s.store.ListActive(ctx)
}

// GetTransitions returns the recorded status history of an order
func (s *Service) GetTransitions(ctx context.Context, orderID string) ([]*models.OrderTransition, error) {
	if _, _, err := s.current(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Transitions(ctx, orderID)
}

// Subscribe registers sub for updates of orderID, or every order with fanout.Wildcard
func (s *Service) Subscribe(orderID string, sub fanout.Subscriber) fanout.Handle {
	return s.hub.Subscribe(orderID, sub)
}

// SubscribeWithCurrent sends the order's current status to sub before any later update
func (s *Service) SubscribeWithCurrent(ctx context.Context, orderID string, sub fanout.Subscriber) (fanout.Handle, error) {
	return s.hub.SubscribeWithSnapshot(orderID, sub, func() (*models.StatusUpdate, error) {
		order, err := s.GetOrderStatus(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return snapshotOf(order), nil
	})
}

// Unsubscribe removes a subscription
func (s *Service) Unsubscribe(handle fanout.Handle) {
	s.hub.Unsubscribe(handle)
}

func snapshotOf(order *models.Order) *models.StatusUpdate {
	return &models.StatusUpdate{
		OrderID:       order.ID,
		Status:        order.Status,
		Message:       "Current order status",
		Timestamp:     order.UpdatedAt,
		TxHash:        order.TxHash,
		ExecutedPrice: order.ExecutedPrice,
		Error:         order.FailureReason,
	}
}
