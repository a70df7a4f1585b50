// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// A conversation belongs to an unordered pair of users. New rows are stored
// with the pair sorted so the unique index covers both orderings; lookups
// still match either ordering.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// orderedPair returns a and b sorted lexically.
func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// CreateConversation inserts a conversation for the pair (a, b).
func CreateConversation(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	u1, u2 := orderedPair(a, b)
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		User1ID:   u1,
		User2ID:   u2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// FindConversationByPair returns the conversation between a and b regardless
// of the order the ids were stored in, or ErrNotFound.
func FindConversationByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)", a, b, b, a).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by id, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns how many conversations userID takes part in.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns userID's conversations, most recently active
// first. Conversations without messages sort after active ones, newest first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END, last_message_at DESC, created_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AllocateSeq advances the conversation's sequence counter and returns the
// new value. Call it inside the transaction that inserts the message.
func AllocateSeq(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		UpdateColumn("last_seq", gorm.Expr("last_seq + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	var seq int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Select("last_seq").
		Scan(&seq).Error
	return seq, err
}

// TouchConversation records the time of the newest message.
func TouchConversation(ctx context.Context, db *gorm.DB, conversationID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message_at": at,
			"updated_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
