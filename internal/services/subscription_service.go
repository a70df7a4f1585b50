// Package services – SubscriptionService
//
// This file implements SubscriptionService. It applies verified platform
// purchases, reports subscription and free-quota status, and downgrades
// subscriptions whose paid period has ended. None of these flows touch the
// daily message counter.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/subscription"
)

// ErrVerifierUnavailable is returned by Apply when no verifier is configured.
var ErrVerifierUnavailable = errors.New("purchase verification is not configured")

// SubscriptionStatus is the caller-facing view of a user's plan and quota.
type SubscriptionStatus struct {
	Type              string     `json:"type"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PremiumActive     bool       `json:"premium_active"`
	DailyMessageCount int        `json:"daily_message_count"`
	// RemainingToday is nil for premium-active users (no limit applies).
	RemainingToday *int      `json:"remaining_today,omitempty"`
	ResetsAt       time.Time `json:"resets_at"`
}

// SubscriptionService manages premium state.
type SubscriptionService struct {
	DB        *gorm.DB
	Verifier  subscription.Verifier
	Admission *AdmissionController
}

// NewSubscriptionService constructs a SubscriptionService. v may be nil, in
// which case Apply reports ErrVerifierUnavailable.
func NewSubscriptionService(db *gorm.DB, v subscription.Verifier, adm *AdmissionController) *SubscriptionService {
	return &SubscriptionService{DB: db, Verifier: v, Admission: adm}
}

// Apply verifies a platform purchase and, when valid, grants premium until
// the verifier's expiry date.
func (s *SubscriptionService) Apply(ctx context.Context, userID, platform, purchaseToken string) (*domain.User, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Apply",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("platform", platform),
		),
	)
	defer span.End()

	platform = strings.TrimSpace(platform)
	purchaseToken = strings.TrimSpace(purchaseToken)
	if platform == "" || purchaseToken == "" {
		return nil, ErrMissingPurchase
	}
	if _, ok := subscription.NormalizePlatform(platform); !ok {
		return nil, ErrInvalidPurchase
	}
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if s.Verifier == nil {
		return nil, ErrVerifierUnavailable
	}

	v, err := s.Verifier.Verify(ctx, platform, purchaseToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		return nil, err
	}
	now := s.Admission.now()
	if !v.IsValid || !v.ExpiryDate.After(now) {
		span.SetAttributes(attribute.Bool("purchase.valid", false))
		return nil, ErrInvalidPurchase
	}

	expiry := v.ExpiryDate.UTC()
	if err := repo.SetSubscription(ctx, s.DB, userID, domain.SubscriptionPremium, &expiry); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", userID).Time("expires_at", expiry).Msg("premium applied")
	return repo.GetUser(ctx, s.DB, userID)
}

// Status reports the user's plan and today's free allowance.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := s.Admission.now()
	st := &SubscriptionStatus{
		Type:              u.SubscriptionType,
		ExpiresAt:         u.SubscriptionExpiresAt,
		PremiumActive:     u.PremiumActive(now),
		DailyMessageCount: u.DailyMessageCount,
		ResetsAt:          s.Admission.nextDay(now),
	}
	if !s.Admission.sameDay(u.LastMessageDate, now) {
		st.DailyMessageCount = 0
	}
	if !st.PremiumActive {
		left := s.Admission.Remaining(u, now)
		st.RemainingToday = &left
	}
	return st, nil
}

// ExpireLapsed downgrades premium users whose expiry is not after now and
// returns how many rows changed.
func (s *SubscriptionService) ExpireLapsed(ctx context.Context) (int64, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "ExpireLapsed")
	defer span.End()

	n, err := repo.DowngradeLapsed(ctx, s.DB, s.Admission.now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("downgraded", n))
	return n, nil
}
