package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/models"
)

// RedisOrderCache implements OrderCache using Redis. Each order lives under
// its own expiring key; a set indexes the ids so ListAll avoids KEYS scans.
type RedisOrderCache struct {
	client redis.Cmdable
	log    *zap.Logger
	prefix string
}

var _ OrderCache = (*RedisOrderCache)(nil)

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisOrderCache creates a new Redis-based order cache
func NewRedisOrderCache(client redis.Cmdable, log *zap.Logger, prefix string) *RedisOrderCache {
	if prefix == "" {
		prefix = "order:active"
	}
	return &RedisOrderCache{client: client, log: log, prefix: prefix}
}

func (c *RedisOrderCache) key(orderID string) string {
	return c.prefix + ":" + orderID
}

func (c *RedisOrderCache) indexKey() string {
	return c.prefix + ":index"
}

// Set stores the order and refreshes its TTL
func (c *RedisOrderCache) Set(ctx context.Context, order *models.Order, ttl time.Duration) error {
	data, err := json.Marshal(order)
	if err != nil {
		c.log.Error("failed to marshal order for cache", zap.Error(err))
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(order.ID), data, ttl)
	pipe.SAdd(ctx, c.indexKey(), order.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error("failed to set order in cache", zap.Error(err), zap.String("order_id", order.ID))
		return err
	}
	return nil
}

// Get retrieves a cached order
func (c *RedisOrderCache) Get(ctx context.Context, orderID string) (*models.Order, error) {
	data, err := c.client.Get(ctx, c.key(orderID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		c.log.Error("failed to get order from cache", zap.Error(err), zap.String("order_id", orderID))
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		c.log.Error("failed to unmarshal cached order", zap.Error(err), zap.String("order_id", orderID))
		return nil, err
	}
	return &order, nil
}

// Delete evicts an order
func (c *RedisOrderCache) Delete(ctx context.Context, orderID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.key(orderID))
	pipe.SRem(ctx, c.indexKey(), orderID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error("failed to delete order from cache", zap.Error(err), zap.String("order_id", orderID))
		return err
	}
	return nil
}

// ListAll returns every unexpired cached order, oldest first, and prunes
// expired ids from the index
func (c *RedisOrderCache) ListAll(ctx context.Context) ([]*models.Order, error) {
	ids, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	orders := make([]*models.Order, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var order models.Order
		if err := json.Unmarshal([]byte(s), &order); err != nil {
			c.log.Warn("skipping unreadable cached order", zap.String("order_id", ids[i]), zap.Error(err))
			continue
		}
		orders = append(orders, &order)
	}

	if len(stale) > 0 {
		if err := c.client.SRem(ctx, c.indexKey(), stale...).Err(); err != nil {
			c.log.Warn("failed to prune cache index", zap.Error(err))
		}
	}
	sortOldestFirst(orders)
	return orders, nil
}
