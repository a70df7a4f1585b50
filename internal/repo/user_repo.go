// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model,
// including the subscription and free-tier counter columns.
//
// All functions accept a *gorm.DB so they run unchanged inside a transaction.
// Missing rows surface as ErrNotFound.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a free-tier user with a fresh UUID.
func CreateUser(ctx context.Context, db *gorm.DB, displayName string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:               uuid.NewString(),
		DisplayName:      displayName,
		SubscriptionType: domain.SubscriptionFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetDailyCount stores the free-tier counter together with the day it belongs to.
func SetDailyCount(ctx context.Context, db *gorm.DB, userID string, count int, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"daily_message_count": count,
			"last_message_date":   at,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubscription replaces the user's tier and expiry. Counters are left alone.
func SetSubscription(ctx context.Context, db *gorm.DB, userID, subType string, expiresAt *time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"subscription_type":       subType,
			"subscription_expires_at": expiresAt,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DowngradeLapsed moves every premium user whose expiry is at or before now
// back to the free tier and returns how many rows changed.
func DowngradeLapsed(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("subscription_type = ? AND (subscription_expires_at IS NULL OR subscription_expires_at <= ?)", domain.SubscriptionPremium, now).
		Updates(map[string]any{
			"subscription_type": domain.SubscriptionFree,
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
