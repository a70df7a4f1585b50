package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// OpenConversationRequest names the other participant.
type OpenConversationRequest struct {
	PeerID string `json:"peer_id" binding:"required" example:"4b0b7c9e-8f0e-4a1c-9d55-2f3a7f6a9b10"`
}

// ListConversationsResponse is one page of the caller's conversations,
// most recently active first.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// OpenConversation godoc
// @ID          openConversation
// @Summary     Open a conversation
// @Description Returns the conversation shared with peer_id, creating it on first use. 201 when created, 200 when it already existed.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header    string                            true  "Caller id"
// @Param       body       body      handlers.OpenConversationRequest  true  "Peer"
// @Success     200        {object}  domain.Conversation
// @Success     201        {object}  domain.Conversation
// @Failure     400        {object}  handlers.ErrorResponse  "Missing peer or self conversation"
// @Failure     401        {object}  handlers.ErrorResponse  "Unknown caller"
// @Failure     404        {object}  handlers.ErrorResponse  "Peer not found"
// @Router      /conversations [post]
func (h *Handlers) OpenConversation(c *gin.Context) {
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer_id required")
		return
	}
	conv, created, err := h.convs.Open(c.Request.Context(), currentUser(c), req.PeerID)
	if err != nil {
		respondErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  true   "Caller id"
// @Param       page       query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListConversationsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.convs.ListPage(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header    string  true  "Caller id"
// @Param       id         path      string  true  "Conversation id"  format(uuid)
// @Success     200        {object}  domain.Conversation
// @Failure     403        {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404        {object}  handlers.ErrorResponse  "Not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conv, err := h.convs.Get(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
