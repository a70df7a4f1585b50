package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientOptions tunes a connection's pumps.
type ClientOptions struct {
	// Time allowed to write a frame to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong from the peer.
	PongWait time.Duration
	// Outbound queue length.
	SendBuffer int
	// Maximum inbound frame size.
	MaxMessageBytes int64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	return o
}

// pingPeriod must stay below PongWait.
func (o ClientOptions) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Client is one authorized connection bound to a single conversation.
type Client struct {
	ID             string
	UserID         string
	ConversationID string

	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
	opts     ClientOptions

	closed atomic.Bool
	once   sync.Once
}

// NewClient builds a client for conn. conn may be nil for a client that is
// only ever fed through the registry.
func NewClient(conn *websocket.Conn, reg *Registry, userID, conversationID string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, opts.SendBuffer),
		registry:       reg,
		opts:           opts,
	}
}

// Close leaves the room and then closes the outbound queue. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		if c.registry != nil {
			c.registry.Leave(c)
		}
		close(c.send)
		log.Debug().
			Str("client_id", c.ID).
			Str("user_id", c.UserID).
			Str("conversation_id", c.ConversationID).
			Msg("realtime client closed")
	})
}

// Closed reports whether Close has run.
func (c *Client) Closed() bool { return c.isClosed() }

func (c *Client) isClosed() bool { return c.closed.Load() }

// enqueue hands frame to the write pump without blocking. It must only run
// while the registry read lock is held, which keeps it ordered before the
// Leave inside Close and therefore before the channel is closed.
func (c *Client) enqueue(frame []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Start runs the pumps for a client with a live connection.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump keeps the connection alive. Inbound frames carry no commands;
// messages are sent over HTTP.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.ID).Str("conversation_id", c.ConversationID).Msg("websocket read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
}

// writePump owns every write to the connection. One frame per event.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				dropped.WithLabelValues("write_error").Inc()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
