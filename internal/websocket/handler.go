package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"lectern/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is part of the transport handshake, which is
		// outside this server's scope. Deployments front this with their
		// own policy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Dispatcher consumes decoded frames and connection lifecycle events. The
// message router implements it; the indirection keeps this package free of
// routing logic.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, data []byte)
	HandleDisconnect(ctx context.Context, conn *Connection)
}

// HandlerConfig tunes the per-connection read loop.
type HandlerConfig struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	ReadTimeout time.Duration
	WriteWait   time.Duration
	SendBuffer  int
}

// Handler upgrades HTTP requests, tracks connections in the registry, and
// pumps inbound frames into the dispatcher.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	cfg        HandlerConfig
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, dispatcher Dispatcher, m *metrics.Metrics, cfg HandlerConfig) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
	}
}

// HandleWebSocket is the gin endpoint for /ws. Role and language arrive in
// the register message, not the handshake, so the upgrade is unconditional.
func (h *Handler) HandleWebSocket(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "websocket").Msg("upgrade failed")
		return
	}

	conn := NewConnection(ws, h.cfg.SendBuffer, h.cfg.WriteWait)
	h.registry.Add(conn)
	h.metrics.ConnectionOpened()

	log.Info().Str("module", "websocket").Str("conn", conn.ID()).
		Str("remote", c.Request.RemoteAddr).Msg("connection opened")

	go h.readLoop(ctx, conn)
}

// readLoop reads frames until the connection dies, forwarding each text
// frame to the dispatcher. Cleanup runs exactly once on exit.
func (h *Handler) readLoop(ctx context.Context, conn *Connection) {
	defer func() {
		h.dispatcher.HandleDisconnect(ctx, conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		log.Info().Str("module", "websocket").Str("conn", conn.ID()).Msg("connection closed")
	}()

	conn.conn.SetReadLimit(h.cfg.ReadLimit)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "websocket").Str("conn", conn.ID()).Msg("read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(ctx, conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteWait)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
