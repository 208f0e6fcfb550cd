package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/internal/cache"
	"github.com/Aidin1998/orderflow/internal/config"
	"github.com/Aidin1998/orderflow/internal/events"
	"github.com/Aidin1998/orderflow/internal/fanout"
	"github.com/Aidin1998/orderflow/internal/orderqueue"
	"github.com/Aidin1998/orderflow/internal/pipeline"
	"github.com/Aidin1998/orderflow/internal/server"
	"github.com/Aidin1998/orderflow/internal/store"
	"github.com/Aidin1998/orderflow/internal/telemetry"
	"github.com/Aidin1998/orderflow/internal/venue"
	"github.com/Aidin1998/orderflow/pkg/logger"
	"github.com/Aidin1998/orderflow/pkg/validation"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	bootLevel := os.Getenv("ORDERFLOW_LOG_LEVEL")
	if bootLevel == "" {
		bootLevel = "info"
	}
	zapLogger, atom := logger.NewLogger(bootLevel)
	defer zapLogger.Sync()

	configPath := os.Getenv("ORDERFLOW_CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	loader := config.NewLoader(configPath, zapLogger)
	cfg, err := loader.Load()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	atom.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader.OnChange(func(c *config.Config) {
		atom.SetLevel(logger.ParseLevel(c.LogLevel))
	})
	if err := loader.Watch(ctx); err != nil {
		zapLogger.Warn("Config hot-reload unavailable", zap.Error(err))
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	// Order store
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		zapLogger.Fatal("Failed to open order store", zap.Error(err))
	}
	orderStore := store.NewGormOrderStore(db, zapLogger)

	// Active order cache
	var orderCache cache.OrderCache = cache.NewMemoryOrderCache()
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		orderCache = cache.NewRedisOrderCache(client, zapLogger, "")
	} else {
		zapLogger.Info("Redis disabled, using in-process order cache")
	}

	// Venues
	rng := venue.NewRand(cfg.Venues.Seed)
	router := venue.NewRouter([]venue.Venue{
		venue.NewSimulatedVenue(venue.Raydium(cfg.Venues.FailureRate), rng),
		venue.NewSimulatedVenue(venue.Meteora(cfg.Venues.FailureRate), rng),
	}, venue.RouterConfig{
		QuoteTimeout:    cfg.Venues.QuoteTimeout,
		MaxAmount:       decimal.NewFromFloat(cfg.Venues.MaxAmount),
		MaxSlippage:     decimal.NewFromFloat(cfg.Venues.MaxSlippage),
		AmbientSlippage: venue.DefaultRouterConfig().AmbientSlippage,
	}, rng, zapLogger)

	hub := fanout.NewHub(zapLogger)

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, zapLogger)
		hub.Subscribe(fanout.Wildcard, publisher)
		zapLogger.Info("Streaming status events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svc := pipeline.NewService(orderStore, orderCache, router, hub, validation.NewValidator(zapLogger), pipeline.Config{
		CacheTTL:          cfg.Pipeline.CacheTTL,
		SettlementWaitMin: cfg.Pipeline.SettlementWaitMin,
		SettlementWaitMax: cfg.Pipeline.SettlementWaitMax,
		UserOrdersLimit:   cfg.Pipeline.UserOrdersLimit,
	}, zapLogger)

	// Work queue
	queueOpts := orderqueue.Options{
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxRetries,
		BaseBackoff: cfg.Queue.BaseBackoff,
		MaxBackoff:  cfg.Queue.MaxBackoff,
		RateLimit:   cfg.Queue.RateLimit,
		RateWindow:  cfg.Queue.RateWindow,
	}
	if cfg.Queue.JournalDir != "" {
		journal, err := orderqueue.OpenJournal(cfg.Queue.JournalDir)
		if err != nil {
			zapLogger.Fatal("Failed to open queue journal", zap.Error(err))
		}
		queueOpts.Journal = journal
	}
	queue := orderqueue.New(svc, queueOpts, zapLogger)
	if err := queue.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start queue", zap.Error(err))
	}

	// HTTP server
	apiServer := server.NewServer(zapLogger, svc, queue, hub, server.Options{
		ServiceName:    cfg.Tracing.ServiceName,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebSocket: server.WebSocketOptions{
			PingInterval: cfg.WebSocket.PingInterval,
			PongTimeout:  cfg.WebSocket.PongTimeout,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			SendBuffer:   cfg.WebSocket.SendBuffer,
		},
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Queue.DrainTimeout)
	defer cancelDrain()
	if err := queue.Close(drainCtx); err != nil {
		zapLogger.Warn("Queue did not drain cleanly", zap.Error(err))
	}
	if queueOpts.Journal != nil {
		if err := queueOpts.Journal.Close(); err != nil {
			zapLogger.Error("Failed to close queue journal", zap.Error(err))
		}
	}

	if publisher != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.Close(flushCtx); err != nil {
			zapLogger.Error("Failed to close event publisher", zap.Error(err))
		}
		cancelFlush()
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownTracing(context.Background()); err != nil {
		zapLogger.Error("Failed to flush traces", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
