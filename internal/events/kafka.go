// Package events mirrors order status updates onto a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/pkg/metrics"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// Config contains the event stream settings
type Config struct {
	Brokers       []string
	Topic         string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns the stock event stream settings
func DefaultConfig() Config {
	return Config{
		Brokers:       []string{"localhost:9092"},
		Topic:         "orderflow.order-status",
		BufferSize:    10000,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
		WriteTimeout:  time.Second,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a fan-out subscriber that buffers status updates and writes
// them to Kafka in batches, keyed by order id so one order's events stay on
// one partition.
type Publisher struct {
	cfg    Config
	writer messageWriter
	logger *zap.Logger

	buffer chan models.StatusUpdate
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher creates a publisher writing to cfg.Topic
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	cfg = withDefaults(cfg)
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.FlushInterval,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return newPublisher(cfg, writer, logger)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

func newPublisher(cfg Config, writer messageWriter, logger *zap.Logger) *Publisher {
	cfg = withDefaults(cfg)
	p := &Publisher{
		cfg:    cfg,
		writer: writer,
		logger: logger.With(zap.String("topic", cfg.Topic)),
		buffer: make(chan models.StatusUpdate, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go p.flushWorker()
	return p
}

// Send queues update for the stream. A full buffer drops the event rather
// than stalling status delivery to other subscribers.
func (p *Publisher) Send(update models.StatusUpdate) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("event publisher closed")
	}
	select {
	case p.buffer <- update:
	default:
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
		p.logger.Warn("Event buffer full, dropping status event",
			zap.String("order_id", update.OrderID),
			zap.String("status", string(update.Status)))
	}
	return nil
}

// Closed reports whether Close has been called
func (p *Publisher) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Publisher) flushWorker() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case update, ok := <-p.buffer:
			if !ok {
				flush()
				return
			}
			msg, err := encode(update)
			if err != nil {
				metrics.EventsPublished.WithLabelValues("error").Inc()
				p.logger.Error("Failed to encode status event", zap.String("order_id", update.OrderID), zap.Error(err))
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Publisher) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Add(float64(len(batch)))
		p.logger.Error("Failed to publish status events", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues("written").Add(float64(len(batch)))
}

func encode(update models.StatusUpdate) (kafka.Message, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal status event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(update.OrderID),
		Value: data,
		Time:  update.Timestamp,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(update.Status)},
		},
	}, nil
}

// Close stops accepting events, flushes what is buffered and closes the writer.
// ctx bounds the wait for the final flush.
func (p *Publisher) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.buffer)
		p.mu.Unlock()

		select {
		case <-p.done:
		case <-ctx.Done():
			p.logger.Warn("Timed out flushing status events", zap.Error(ctx.Err()))
		}
		err = p.writer.Close()
	})
	return err
}
