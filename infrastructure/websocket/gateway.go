// Package websocket is the connection gateway: it upgrades HTTP requests,
// pumps frames in and out of each socket and reports closed connections.
package websocket

import (
	"care-signal/auth"
	"care-signal/contract"
	"care-signal/domain"
	"care-signal/errors"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// FrameHandler consumes the traffic of every connection. HandleFrame is
// called sequentially per connection, HandleClose exactly once at the end.
type FrameHandler interface {
	HandleFrame(ctx context.Context, conn contract.Connection, raw []byte)
	HandleClose(ctx context.Context, conn contract.Connection)
}

type Gateway struct {
	log            *slog.Logger
	upgrader       websocket.Upgrader
	handler        FrameHandler
	tokens         *auth.TokenManager
	bufferSize     int
	keepAlive      time.Duration
	maxMessageSize int64
}

// NewGateway builds the gateway. A nil token manager disables authentication
// and the gateway trusts the identifiers clients register with.
func NewGateway(log *slog.Logger, handler FrameHandler, tokens *auth.TokenManager,
	bufferSize int, keepAlive time.Duration, maxMessageSize int64) *Gateway {
	return &Gateway{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handler:        handler,
		tokens:         tokens,
		bufferSize:     bufferSize,
		keepAlive:      keepAlive,
		maxMessageSize: maxMessageSize,
	}
}

// ServeWS authenticates the handshake, upgrades it and runs the connection
// until either side closes it.
func (g *Gateway) ServeWS(c *gin.Context) {
	var identity *domain.Identity
	if g.tokens != nil {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			g.unauthorized(c, "authentication required")
			return
		}
		var err error
		identity, err = g.tokens.ValidateToken(token)
		if err != nil {
			g.log.Debug("Handshake rejected", "remote", c.ClientIP(), "error", err)
			g.unauthorized(c, "invalid or expired token")
			return
		}
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, identity, g.log, g.bufferSize, g.keepAlive)
	g.log.Debug("Connection opened", "handle", conn.Handle(), "remote", c.ClientIP())

	ctx := c.Request.Context()
	go conn.writePump()
	conn.readPump(g.maxMessageSize, func(raw []byte) {
		g.handler.HandleFrame(ctx, conn, raw)
	})

	g.handler.HandleClose(context.WithoutCancel(ctx), conn)
	g.log.Debug("Connection closed", "handle", conn.Handle())
}

func (g *Gateway) unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  errors.CodeUnauthenticated,
	})
}
