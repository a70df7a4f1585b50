package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/search"
	"github.com/tbourn/go-realtime-chat/internal/services"
	"github.com/tbourn/go-realtime-chat/internal/utils"
)

// UserService registers and loads users.
type UserService interface {
	Register(ctx context.Context, displayName string) (*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
}

// ConversationService opens and lists one-to-one conversations.
type ConversationService interface {
	Open(ctx context.Context, userID, peerID string) (*domain.Conversation, bool, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
}

// MessageService sends, lists, searches and acknowledges messages.
type MessageService interface {
	Send(ctx context.Context, in services.SendInput) (*domain.Message, error)
	ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	MarkRead(ctx context.Context, userID, messageID string) (*domain.Message, error)
	Search(ctx context.Context, userID, conversationID, query string, k int) ([]search.Result, error)
}

// SubscriptionService applies purchases and reports quota state.
type SubscriptionService interface {
	Apply(ctx context.Context, userID, platform, purchaseToken string) (*domain.User, error)
	Status(ctx context.Context, userID string) (*services.SubscriptionStatus, error)
}

// Handlers groups the REST endpoints.
type Handlers struct {
	users UserService
	convs ConversationService
	msgs  MessageService
	subs  SubscriptionService

	// IdempotencyTTL bounds how long an Idempotency-Key replays its message.
	IdempotencyTTL time.Duration
	// SearchTopK caps search results.
	SearchTopK int
}

// New binds the handlers to their services.
func New(users UserService, convs ConversationService, msgs MessageService, subs SubscriptionService) *Handlers {
	return &Handlers{
		users:          users,
		convs:          convs,
		msgs:           msgs,
		subs:           subs,
		IdempotencyTTL: 24 * time.Hour,
		SearchTopK:     20,
	}
}

// Pagination describes the page returned alongside a list.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// clampPagination reads page and page_size, defaulting to 1 and 20 and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return page, pageSize
}

func currentUser(c *gin.Context) string { return middleware.UserID(c) }
