package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// GormOrderStore implements OrderStore using GORM
type GormOrderStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ OrderStore = (*GormOrderStore)(nil)

// NewGormOrderStore creates a new GORM-based order store
func NewGormOrderStore(db *gorm.DB, logger *zap.Logger) *GormOrderStore {
	return &GormOrderStore{db: db, logger: logger}
}

// Save inserts a new order
func (s *GormOrderStore) Save(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		s.logger.Error("Failed to create order", zap.Error(err), zap.String("order_id", order.ID))
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// UpdateFields applies a partial update to an existing order
func (s *GormOrderStore) UpdateFields(ctx context.Context, orderID string, update models.OrderUpdate) error {
	result := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(update.Columns())
	if result.Error != nil {
		s.logger.Error("Failed to update order", zap.Error(result.Error), zap.String("order_id", orderID))
		return fmt.Errorf("failed to update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.OrderNotFound.Explain("order %s not found", orderID)
	}
	return nil
}

// Get retrieves an order by its ID
func (s *GormOrderStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.OrderNotFound.Explain("order %s not found", orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ListByUser returns the user's orders, most recent first
func (s *GormOrderStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list user orders: %w", err)
	}
	return orders, nil
}

// ListActive returns every order not yet in a terminal status, oldest first
func (s *GormOrderStore) ListActive(ctx context.Context) ([]*models.Order, error) {
	var orders []*models.Order
	if err := s.db.WithContext(ctx).
		Where("status IN ?", models.ActiveStatuses).
		Order("created_at ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return orders, nil
}

// RecordTransition appends a row to the transition history
func (s *GormOrderStore) RecordTransition(ctx context.Context, t *models.OrderTransition) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Transitions returns the transition history of an order in insertion order
func (s *GormOrderStore) Transitions(ctx context.Context, orderID string) ([]*models.OrderTransition, error) {
	var rows []*models.OrderTransition
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return rows, nil
}
