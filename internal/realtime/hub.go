package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-realtime-chat/internal/config"
	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// Hub owns the room registry, upgrades authorized requests and fans events
// out to rooms. It satisfies services.Broadcaster.
type Hub struct {
	registry *Registry
	upgrader websocket.Upgrader
	opts     ClientOptions
}

// NewHub builds a hub from the realtime configuration.
func NewHub(cfg config.RealtimeConfig) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		opts: ClientOptions{
			WriteWait:       cfg.WriteWait,
			PongWait:        cfg.PongWait,
			SendBuffer:      cfg.SendBuffer,
			MaxMessageBytes: cfg.MaxMessageBytes,
		}.withDefaults(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Registry exposes the hub's rooms.
func (h *Hub) Registry() *Registry { return h.registry }

// Upgrade switches an already authorized request to a WebSocket, joins the
// resulting client to its conversation's room and starts its pumps.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID, conversationID string) (*Client, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the peer.
		rejections.WithLabelValues("upgrade").Inc()
		return nil, errors.Wrap(err, "realtime.Upgrade")
	}
	c := NewClient(conn, h.registry, userID, conversationID, h.opts)
	if err := h.registry.Join(c); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.Start()
	log.Info().
		Str("client_id", c.ID).
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Int("room_size", h.registry.RoomSize(conversationID)).
		Msg("realtime client joined")
	return c, nil
}

// BroadcastNewMessage delivers a new_message envelope to the message's room.
func (h *Hub) BroadcastNewMessage(ctx context.Context, ev domain.NewMessageEvent) int {
	if ev.Message == nil {
		return 0
	}
	env, err := domain.NewMessageEnvelope(ev)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", ev.Message.ConversationID).Msg("encode new_message")
		return 0
	}
	return h.broadcast(ev.Message.ConversationID, env)
}

// BroadcastConversationUpdate delivers a conversation_update envelope.
func (h *Hub) BroadcastConversationUpdate(ctx context.Context, ev domain.ConversationUpdateEvent) int {
	env, err := domain.ConversationUpdateEnvelope(ev)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", ev.ConversationID).Msg("encode conversation_update")
		return 0
	}
	return h.broadcast(ev.ConversationID, env)
}

// broadcast marshals env once and enqueues it on every open client of the
// room. A client whose queue is full is closed off the hot path.
func (h *Hub) broadcast(conversationID string, env domain.Envelope) int {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("encode envelope")
		return 0
	}

	var (
		n    int
		slow []*Client
	)
	h.registry.each(conversationID, func(c *Client) {
		if c.isClosed() {
			dropped.WithLabelValues("closed").Inc()
			return
		}
		if c.enqueue(frame) {
			n++
			return
		}
		dropped.WithLabelValues("slow_consumer").Inc()
		slow = append(slow, c)
	})

	for _, c := range slow {
		log.Warn().
			Str("client_id", c.ID).
			Str("user_id", c.UserID).
			Str("conversation_id", conversationID).
			Str("reason", "slow_consumer").
			Msg("dropping realtime client")
		go c.Close()
	}
	deliveries.WithLabelValues(string(env.Type)).Add(float64(n))
	return n
}

// Shutdown closes every client. Their write pumps send a close frame.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.Clients() {
		c.Close()
	}
}

// originChecker allows any origin when the list is empty or holds "*".
// Requests without an Origin header are not from browsers and pass.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
