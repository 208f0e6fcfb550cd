// Package server exposes the order pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/internal/fanout"
	"github.com/Aidin1998/orderflow/internal/orderqueue"
	"github.com/Aidin1998/orderflow/pkg/errors"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// OrderService is the slice of the pipeline the transport needs
type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.Order, error)
	MarkFailed(ctx context.Context, orderID, reason string, attempts int) error
	GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID string, limit int) ([]*models.Order, error)
	GetActiveOrders(ctx context.Context) ([]*models.Order, error)
	GetTransitions(ctx context.Context, orderID string) ([]*models.OrderTransition, error)
	Subscribe(orderID string, sub fanout.Subscriber) fanout.Handle
	SubscribeWithCurrent(ctx context.Context, orderID string, sub fanout.Subscriber) (fanout.Handle, error)
	Unsubscribe(handle fanout.Handle)
}

// JobQueue schedules orders for execution
type JobQueue interface {
	Enqueue(ctx context.Context, orderID string, priority int) error
	Stats() orderqueue.Stats
	Pause()
	Resume()
}

// StatsSource reports fan-out subscriber counts
type StatsSource interface {
	Stats() fanout.Stats
}

// Options configure the transport
type Options struct {
	ServiceName    string
	AllowedOrigins []string
	WebSocket      WebSocketOptions
}

// Server represents the HTTP server
type Server struct {
	logger *zap.Logger
	orders OrderService
	queue  JobQueue
	hub    StatsSource
	opts   Options
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, orders OrderService, queue JobQueue, hub StatsSource, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "orderflow"
	}
	opts.WebSocket = opts.WebSocket.withDefaults()
	return &Server{
		logger: logger,
		orders: orders,
		queue:  queue,
		hub:    hub,
		opts:   opts,
	}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.opts.ServiceName))
	router.Use(s.corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws/orders", s.handleWildcardStream)
	router.GET("/ws/orders/:id", s.handleOrderStream)

	v1 := router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", s.handleCreateOrder)
			orders.POST("/execute", s.handleCreateOrder)
			orders.GET("/active", s.handleGetActiveOrders)
			orders.GET("/:id", s.handleGetOrder)
			orders.GET("/:id/transitions", s.handleGetTransitions)
		}

		v1.GET("/users/:userId/orders", s.handleGetUserOrders)

		queue := v1.Group("/queue")
		{
			queue.GET("/stats", s.handleQueueStats)
			queue.POST("/pause", s.handleQueuePause)
			queue.POST("/resume", s.handleQueueResume)
		}

		v1.GET("/ws/stats", s.handleStreamStats)
	}

	router.NoRoute(func(c *gin.Context) {
		s.writeProblem(c, errors.NewNotFoundError("no route for "+c.Request.Method+" "+c.Request.URL.Path, c.Request.URL.Path), nil)
	})

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	if len(s.opts.AllowedOrigins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = s.opts.AllowedOrigins
	return cors.New(cfg)
}

// writeError renders err as RFC 7807 problem details
func (s *Server) writeError(c *gin.Context, err error) {
	s.writeProblem(c, errors.FromError(err, c.Request.URL.Path), err)
}

func (s *Server) writeProblem(c *gin.Context, problem *errors.ProblemDetails, err error) {
	if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.HasTraceID() {
		problem.WithTraceID(sc.TraceID().String())
	}

	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	body, mErr := json.Marshal(problem)
	if mErr != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(problem.Status, "application/problem+json", body)
	c.Abort()
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.Validation.Explain("malformed request body: %v", err))
		return
	}

	ctx := c.Request.Context()
	order, err := s.orders.CreateOrder(ctx, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.queue.Enqueue(ctx, order.ID, req.Priority); err != nil {
		if mfErr := s.orders.MarkFailed(ctx, order.ID, err.Error(), 0); mfErr != nil {
			s.logger.Error("Failed to finalize unqueued order", zap.String("order_id", order.ID), zap.Error(mfErr))
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":   order.ID,
		"status":     order.Status,
		"message":    "Order queued for execution",
		"stream_url": "/ws/orders/" + order.ID,
		"order":      order,
	})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.orders.GetOrderStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGetTransitions(c *gin.Context) {
	transitions, err := s.orders.GetTransitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "transitions": transitions})
}

func (s *Server) handleGetActiveOrders(c *gin.Context) {
	orders, err := s.orders.GetActiveOrders(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) handleGetUserOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(c, errors.Validation.Explain("limit must be a positive integer").
				WithField("gte", "limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	orders, err := s.orders.GetUserOrders(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("userId"), "orders": orders, "count": len(orders)})
}

func (s *Server) handleQueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) handleQueuePause(c *gin.Context) {
	s.queue.Pause()
	s.logger.Info("Queue paused via API")
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) handleQueueResume(c *gin.Context) {
	s.queue.Resume()
	s.logger.Info("Queue resumed via API")
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) handleStreamStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}
