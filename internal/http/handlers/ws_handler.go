package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
)

// ConnAuthorizer vets a handshake before the protocol upgrade.
type ConnAuthorizer interface {
	Authorize(ctx context.Context, userID, conversationID string) error
}

// Upgrader switches an authorized request to a live connection.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, userID, conversationID string) (*realtime.Client, error)
}

// RealtimeHandler serves the WebSocket handshake.
type RealtimeHandler struct {
	auth ConnAuthorizer
	hub  Upgrader
}

// NewRealtimeHandler binds the handshake to an authorizer and a hub.
func NewRealtimeHandler(auth ConnAuthorizer, hub Upgrader) *RealtimeHandler {
	return &RealtimeHandler{auth: auth, hub: hub}
}

// Connect godoc
// @ID          connectRealtime
// @Summary     Open the real-time channel
// @Description Upgrades to a WebSocket that receives new_message and conversation_update envelopes for one conversation.
// @Description The connection is rejected before upgrade unless userId names a participant of conversationId.
// @Tags        Realtime
// @Param       userId          query  string  true  "Caller id"
// @Param       conversationId  query  string  true  "Conversation id"
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing parameters"
// @Failure     401  {object}  handlers.ErrorResponse  "Unknown user"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown conversation"
// @Router      /ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	userID, convID := c.Query("userId"), c.Query("conversationId")

	if err := h.auth.Authorize(c.Request.Context(), userID, convID); err != nil {
		switch {
		case errors.Is(err, realtime.ErrMissingParams):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, realtime.ErrUnknownUser):
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
		case errors.Is(err, realtime.ErrUnknownConversation):
			fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		case errors.Is(err, realtime.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
		default:
			_ = c.Error(err)
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		}
		return
	}

	// On failure the upgrader has already answered the client.
	if _, err := h.hub.Upgrade(c.Writer, c.Request, userID, convID); err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Str("conversation_id", convID).Msg("websocket upgrade failed")
		c.Abort()
	}
}
