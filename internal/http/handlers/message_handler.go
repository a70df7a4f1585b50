package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/search"
	"github.com/tbourn/go-realtime-chat/internal/services"
	"github.com/tbourn/go-realtime-chat/internal/utils"
)

// SendMessageRequest is a new message. Text needs content; image, video and
// voice need media_url and may carry content as a caption.
type SendMessageRequest struct {
	MessageType string  `json:"message_type" binding:"required" example:"text"`
	Content     *string `json:"content,omitempty" example:"See you at 8?"`
	MediaURL    *string `json:"media_url,omitempty" example:"https://cdn.example.com/m/abc.jpg"`
}

// ListMessagesResponse is one page of history in send order.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SearchHit is one ranked search match.
type SearchHit struct {
	MessageID string  `json:"message_id"`
	Seq       int64   `json:"seq"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// SearchMessagesResponse lists hits, best first.
type SearchMessagesResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// messageDB exposes the store behind the concrete service for ETags and
// idempotency records. Fakes have none, which disables both.
func (h *Handlers) messageDB() *gorm.DB {
	if svc, isSvc := h.msgs.(*services.MessageService); isSvc {
		return svc.DB
	}
	return nil
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Admits, persists and broadcasts a message to the conversation's live connections.
// @Description Free users without a premium peer are limited per calendar day; the 429 body then carries upgrade_hint and resets_at.
// @Description A repeated Idempotency-Key replays the stored message with Idempotency-Replayed: true.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header    string                       true   "Caller id"
// @Param       Idempotency-Key  header    string                       false  "Key for safe retries"
// @Param       id               path      string                       true   "Conversation id"  format(uuid)
// @Param       body             body      handlers.SendMessageRequest  true   "Message"
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse       "Invalid message"
// @Failure     403  {object}  handlers.ErrorResponse       "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse       "Conversation not found"
// @Failure     429  {object}  handlers.QuotaErrorResponse  "Daily quota exhausted"
// @Failure     500  {object}  handlers.ErrorResponse       "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid, convID := currentUser(c), c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_type required")
		return
	}

	db := h.messageDB()
	key, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && db != nil {
		rec, err := repo.GetIdempotency(ctx, db, uid, convID, key, time.Now().UTC())
		if err == nil {
			if prev, err := repo.GetMessage(ctx, db, rec.MessageID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, prev)
				return
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency replay lookup failed")
		}
	}

	m, err := h.msgs.Send(ctx, services.SendInput{
		SenderID:       uid,
		ConversationID: convID,
		Type:           req.MessageType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	if hasKey && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, uid, convID, key, m.ID, http.StatusCreated, h.IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("message_id", m.ID).Msg("store idempotency key")
		}
	}
	ok(c, http.StatusCreated, m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Conversation history (paginated)
// @Description Messages in send order. Supports a weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID      header  string  true   "Caller id"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       id             path    string  true   "Conversation id"  format(uuid)
// @Param       page           query   int     false  "Page number"      minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"   minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for the conversation's messages"
// @Success     304  {string}  string  "Not Modified"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid, convID := currentUser(c), c.Param("id")

	// Membership first so the ETag never leaks activity to outsiders.
	if _, err := h.convs.Get(ctx, uid, convID); err != nil {
		respondErr(c, err)
		return
	}

	if db := h.messageDB(); db != nil {
		if st, err := repo.MessageHistoryStats(ctx, db, convID); err == nil {
			count, seq, ts := st.Version()
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d"`, convID, count, seq, ts)
			c.Header("ETag", etag)
			if c.GetHeader("If-None-Match") == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.msgs.ListPage(ctx, uid, convID, page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Search a conversation
// @Description Ranks the conversation's text and captions against q.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header  string  true   "Caller id"
// @Param       id         path    string  true   "Conversation id"  format(uuid)
// @Param       q          query   string  true   "Search text"
// @Param       k          query   int     false  "Max results"      minimum(1) maximum(50) default(20)
// @Success     200  {object}  handlers.SearchMessagesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Empty query"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Router      /conversations/{id}/messages/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	q := c.Query("q")
	k := utils.Clamp(utils.AtoiDefault(c.Query("k"), h.SearchTopK), 1, 50)

	res, err := h.msgs.Search(c.Request.Context(), currentUser(c), c.Param("id"), q, k)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, SearchMessagesResponse{Query: q, Results: toHits(res)})
}

func toHits(res []search.Result) []SearchHit {
	out := make([]SearchHit, 0, len(res))
	for _, r := range res {
		out = append(out, SearchHit{MessageID: r.ID, Seq: r.Seq, Snippet: r.Snippet, Score: r.Score})
	}
	return out
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark a message read
// @Description Only the recipient may mark a message read. The first change is broadcast as a conversation_update with reason "read".
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID  header    string  true  "Caller id"
// @Param       id         path      string  true  "Message id"  format(uuid)
// @Success     200        {object}  domain.Message
// @Failure     403        {object}  handlers.ErrorResponse  "Sender cannot mark own message"
// @Failure     404        {object}  handlers.ErrorResponse  "Message not found"
// @Router      /messages/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	m, err := h.msgs.MarkRead(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}
