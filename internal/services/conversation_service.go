// Package services – ConversationService
//
// This file implements ConversationService, which opens, lists and fetches
// two-party conversations. A conversation is identified by its unordered user
// pair: opening an existing pair returns the stored row instead of creating a
// second one.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ErrMissingPeer is returned when Open is called without a peer id.
var ErrMissingPeer = errors.New("peer_id is required")

// ConversationRepo defines the repository contract required by
// ConversationService.
type ConversationRepo interface {
	// GetUser fetches a user by id.
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// CreateConversation inserts a conversation for the pair (a, b).
	CreateConversation(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error)

	// FindConversationByPair matches either ordering of (a, b).
	FindConversationByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error)

	// GetConversation fetches a conversation by id.
	GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)

	// CountConversations returns the total for pagination.
	CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListConversationsPage returns a page, most recently active first.
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
}

// ConversationService provides conversation-level operations.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conversation repository used by this service.
	Repo ConversationRepo
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r}
}

// Open returns the conversation between userID and peerID, creating it on
// first use. created reports whether a new row was inserted.
func (s *ConversationService) Open(ctx context.Context, userID, peerID string) (conv *domain.Conversation, created bool, err error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Open",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("peer.id", peerID),
		),
	)
	defer span.End()

	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, false, ErrMissingPeer
	}
	if peerID == userID {
		return nil, false, ErrSelfConversation
	}
	if _, err := s.Repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUnauthorized
		}
		return nil, false, err
	}
	if _, err := s.Repo.GetUser(ctx, s.DB, peerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}

	conv, err = s.Repo.FindConversationByPair(ctx, s.DB, userID, peerID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	conv, err = s.Repo.CreateConversation(ctx, s.DB, userID, peerID)
	if err != nil {
		// lost a create race on the pair index; the winner's row is the answer
		if found, ferr := s.Repo.FindConversationByPair(ctx, s.DB, userID, peerID); ferr == nil {
			return found, false, nil
		}
		return nil, false, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	return conv, true, nil
}

// ListPage returns a page of the user's conversations, most recently active
// first. It applies defaults for invalid page/pageSize and returns the total.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Get returns a conversation the user takes part in.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	conv, err := s.Repo.GetConversation(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}
