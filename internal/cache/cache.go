// Package cache provides the expiring view of in-flight orders
package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Aidin1998/orderflow/pkg/models"
)

var (
	// ErrCacheMiss indicates a cache miss
	ErrCacheMiss = errors.New("cache miss")
)

// OrderCache holds active orders keyed by id with a bounded lifetime
type OrderCache interface {
	Set(ctx context.Context, order *models.Order, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (*models.Order, error)
	Delete(ctx context.Context, orderID string) error
	// ListAll returns unexpired orders, oldest first
	ListAll(ctx context.Context) ([]*models.Order, error)
}

// sortOldestFirst orders by creation time, ties by id
func sortOldestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
