// Package fanout delivers order status updates to live subscribers.
package fanout

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/metrics"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// Wildcard subscribes to every order
const Wildcard = "*"

const publishShards = 64

// Subscriber receives status updates. Send must be safe for concurrent use
// and should not block; a returned error drops the subscriber.
type Subscriber interface {
	Send(update models.StatusUpdate) error
	Closed() bool
}

// Handle identifies one subscription
type Handle struct {
	ID      uint64
	OrderID string
}

// Stats is a point-in-time view of the registry
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	PerOrder         map[string]int `json:"per_order"`
}

type subscription struct {
	handle Handle
	sub    Subscriber
}

// Hub maps order ids (or Wildcard) to subscribers
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscription
	nextID uint64

	// serializes publishes per order so no subscriber sees reordered updates
	shards [publishShards]sync.Mutex

	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]*subscription),
		logger: logger,
	}
}

func (h *Hub) shardFor(orderID string) *sync.Mutex {
	f := fnv.New32a()
	f.Write([]byte(orderID))
	return &h.shards[f.Sum32()%publishShards]
}

// Subscribe registers sub for orderID or Wildcard
func (h *Hub) Subscribe(orderID string, sub Subscriber) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	handle := Handle{ID: h.nextID, OrderID: orderID}
	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[uint64]*subscription)
		h.subs[orderID] = set
	}
	set[handle.ID] = &subscription{handle: handle, sub: sub}
	metrics.FanoutConnections.Inc()

	h.logger.Debug("Subscriber added", zap.String("order_id", orderID), zap.Uint64("handle", handle.ID))
	return handle
}

// SubscribeWithSnapshot sends the result of snapshot to sub and registers it,
// both while holding the order's publish lock, so no update published in
// between is lost or delivered ahead of the snapshot.
func (h *Hub) SubscribeWithSnapshot(orderID string, sub Subscriber, snapshot func() (*models.StatusUpdate, error)) (Handle, error) {
	lock := h.shardFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	current, err := snapshot()
	if err != nil {
		return Handle{}, err
	}
	if current != nil {
		if err := sub.Send(*current); err != nil {
			return Handle{}, err
		}
	}
	return h.Subscribe(orderID, sub), nil
}

// Unsubscribe removes one subscription. Unknown handles are ignored.
func (h *Hub) Unsubscribe(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(handle)
}

// UnsubscribeAll removes every subscription held by sub
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for _, s := range set {
			if s.sub == sub {
				h.removeLocked(s.handle)
			}
		}
	}
}

func (h *Hub) removeLocked(handle Handle) {
	set, ok := h.subs[handle.OrderID]
	if !ok {
		return
	}
	if _, ok := set[handle.ID]; !ok {
		return
	}
	delete(set, handle.ID)
	if len(set) == 0 {
		delete(h.subs, handle.OrderID)
	}
	metrics.FanoutConnections.Dec()
}

func (h *Hub) snapshot(orderID string) []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*subscription, 0, len(h.subs[orderID])+len(h.subs[Wildcard]))
	for _, s := range h.subs[orderID] {
		out = append(out, s)
	}
	if orderID != Wildcard {
		for _, s := range h.subs[Wildcard] {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers update to the order's subscribers and every wildcard
// subscriber. Returns the number of successful deliveries.
func (h *Hub) Publish(update models.StatusUpdate) int {
	lock := h.shardFor(update.OrderID)
	lock.Lock()
	defer lock.Unlock()

	var dead []Handle
	delivered := 0
	for _, s := range h.snapshot(update.OrderID) {
		if s.sub.Closed() {
			dead = append(dead, s.handle)
			continue
		}
		if err := s.sub.Send(update); err != nil {
			h.logger.Debug("Dropping subscriber after failed send",
				zap.String("order_id", s.handle.OrderID),
				zap.Uint64("handle", s.handle.ID),
				zap.Error(err))
			dead = append(dead, s.handle)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, handle := range dead {
			h.removeLocked(handle)
		}
		h.mu.Unlock()
	}
	return delivered
}

// Stats returns subscriber counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{PerOrder: make(map[string]int, len(h.subs))}
	for orderID, set := range h.subs {
		stats.PerOrder[orderID] = len(set)
		stats.TotalConnections += len(set)
	}
	return stats
}
