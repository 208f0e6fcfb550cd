package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/orderflow/pkg/models"
)

type memoryEntry struct {
	order     *models.Order
	expiresAt time.Time
}

// MemoryOrderCache is an in-process OrderCache for tests and single-node runs
type MemoryOrderCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ OrderCache = (*MemoryOrderCache)(nil)

// NewMemoryOrderCache creates an empty in-memory cache
func NewMemoryOrderCache() *MemoryOrderCache {
	return &MemoryOrderCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryOrderCache) Set(_ context.Context, order *models.Order, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[order.ID] = memoryEntry{order: order.Clone(), expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryOrderCache) Get(_ context.Context, orderID string) (*models.Order, error) {
	c.mu.RLock()
	e, ok := c.entries[orderID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[orderID]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, orderID)
		}
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return e.order.Clone(), nil
}

func (c *MemoryOrderCache) Delete(_ context.Context, orderID string) error {
	c.mu.Lock()
	delete(c.entries, orderID)
	c.mu.Unlock()
	return nil
}

// ListAll returns unexpired orders, oldest first
func (c *MemoryOrderCache) ListAll(_ context.Context) ([]*models.Order, error) {
	now := c.now()
	c.mu.Lock()
	orders := make([]*models.Order, 0, len(c.entries))
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			continue
		}
		orders = append(orders, e.order.Clone())
	}
	c.mu.Unlock()

	sortOldestFirst(orders)
	return orders, nil
}
