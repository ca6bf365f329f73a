package websocket

import (
	"care-signal/domain"
	"care-signal/errors"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// closeGrace bounds the close handshake, which waits behind any write in flight.
	closeGrace = time.Second
)

type outboundFrame struct {
	Event domain.EventName `json:"event"`
	ID    *int64           `json:"id,omitempty"`
	Data  any              `json:"data,omitempty"`
}

// Connection is one live client socket. A reader and a writer goroutine
// share it; Send only ever enqueues on the buffered send channel.
type Connection struct {
	handle    domain.ConnectionHandle
	identity  *domain.Identity
	conn      *websocket.Conn
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	keepAlive time.Duration
}

func NewConnection(conn *websocket.Conn, identity *domain.Identity, log *slog.Logger,
	bufferSize int, keepAlive time.Duration) *Connection {
	handle := domain.NewConnectionHandle()
	return &Connection{
		handle:    handle,
		identity:  identity,
		conn:      conn,
		log:       log.With("handle", handle),
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		keepAlive: keepAlive,
	}
}

func (c *Connection) Handle() domain.ConnectionHandle { return c.handle }

func (c *Connection) Identity() *domain.Identity { return c.identity }

// Send encodes evt and queues it. A full buffer means the client does not
// keep up: the connection is closed rather than blocking the caller.
func (c *Connection) Send(evt domain.Event) error {
	payload, err := json.Marshal(outboundFrame{Event: evt.Name, ID: evt.ID, Data: evt.Data})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("Slow consumer, closing connection", "event", evt.Name)
		c.Close()
		return errors.ErrSlowConsumer
	}
}

// Close is idempotent and never blocks the caller. The send channel is never
// closed, the writer stops on done. The close frame and the socket teardown
// run apart since a write to a stalled client holds the socket's write lock.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))
			_ = c.conn.Close()
		}()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// readPump blocks, handing every text frame to onFrame in arrival order.
func (c *Connection) readPump(maxMessageSize int64, onFrame func([]byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	pongWait := c.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onFrame(data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.keepAlive)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write error", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

// pongWait leaves room for two missed pings.
func (c *Connection) pongWait() time.Duration {
	return 2*c.keepAlive + writeWait
}
