package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/orderflow/internal/fanout"
	"github.com/Aidin1998/orderflow/pkg/models"
)

// WebSocketOptions tune status stream connections
type WebSocketOptions struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = o.PingInterval * 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one streaming connection. It implements fanout.Subscriber.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	opts   WebSocketOptions
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, opts WebSocketOptions, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		opts:   opts,
		logger: logger,
	}
}

// Send queues update for the writer. A full buffer drops the client.
func (c *wsClient) Send(update models.StatusUpdate) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		c.close()
		return fmt.Errorf("send buffer full")
	}
}

func (c *wsClient) Closed() bool { return c.closed.Load() }

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// readPump discards client frames and tracks pongs. It returns when the peer goes away.
func (c *wsClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump sends queued updates and heartbeats to the client
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) handleOrderStream(c *gin.Context) {
	orderID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := s.orders.GetOrderStatus(ctx, orderID); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	log := s.logger.With(zap.String("order_id", orderID))
	client := newWSClient(conn, s.opts.WebSocket, log)

	handle, err := s.orders.SubscribeWithCurrent(ctx, orderID, client)
	if err != nil {
		log.Warn("Subscribe failed after upgrade", zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}
	s.serveClient(client, handle, log)
}

func (s *Server) handleWildcardStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	log := s.logger.With(zap.String("order_id", fanout.Wildcard))
	client := newWSClient(conn, s.opts.WebSocket, log)
	handle := s.orders.Subscribe(fanout.Wildcard, client)
	s.serveClient(client, handle, log)
}

func (s *Server) serveClient(client *wsClient, handle fanout.Handle, log *zap.Logger) {
	log.Debug("Status stream opened", zap.Uint64("handle", handle.ID))
	go client.writePump()
	client.readPump()
	s.orders.Unsubscribe(handle)
	log.Debug("Status stream closed", zap.Uint64("handle", handle.ID))
}
