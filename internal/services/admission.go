// Package services – AdmissionController
//
// This file implements the send-time admission policy. A send is allowed when
// either participant holds an active premium subscription; otherwise the
// sender's free daily allowance applies. The allowance resets lazily: a
// counter whose last message fell on an earlier calendar day is treated as
// zero, and no background job ever rewrites it.
//
// Every call reads fresh rows. Callers inside a transaction pass their tx
// handle through DecideTx so the decision and the counter update agree.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
)

// Admission outcomes, also used as the reason label on
// admission_decisions_total.
const (
	ReasonSenderPremium       = "sender_premium"
	ReasonOtherPremium        = "other_premium"
	ReasonNewDay              = "new_day"
	ReasonUnderQuota          = "under_quota"
	ReasonQuotaExhausted      = "quota_exhausted"
	ReasonUnknownSender       = "unknown_sender"
	ReasonUnknownConversation = "unknown_conversation"
	ReasonNotParticipant      = "not_participant"
)

var admissionDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Send admission decisions by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(admissionDecisions)
}

// Decision is the full admission outcome.
type Decision struct {
	Allowed       bool
	Reason        string
	SenderPremium bool
	OtherPremium  bool
	// Stale is true when the sender's counter belongs to an earlier day.
	Stale bool
	// Used is the sender's effective count for today (0 when stale).
	Used     int
	Limit    int
	ResetsAt time.Time

	Sender       *domain.User
	Conversation *domain.Conversation
}

// AdmissionController decides whether a sender may post into a conversation.
type AdmissionController struct {
	DB *gorm.DB

	// FreeDailyLimit is the per-day allowance for free senders in
	// conversations without a premium participant.
	FreeDailyLimit int
	// Location defines calendar days for the quota. Nil means time.Local.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewAdmissionController builds a controller with the given allowance.
func NewAdmissionController(db *gorm.DB, freeDailyLimit int, loc *time.Location) *AdmissionController {
	return &AdmissionController{DB: db, FreeDailyLimit: freeDailyLimit, Location: loc}
}

// CanSend reports whether senderID may send into conversationID right now.
// Unknown senders or conversations are denied without an error; only
// infrastructure failures return one.
func (a *AdmissionController) CanSend(ctx context.Context, senderID, conversationID string) (bool, error) {
	d, err := a.Decide(ctx, senderID, conversationID)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Decide returns the full decision using the controller's own DB handle.
func (a *AdmissionController) Decide(ctx context.Context, senderID, conversationID string) (Decision, error) {
	return a.DecideTx(ctx, a.DB, senderID, conversationID)
}

// DecideTx evaluates admission against db, which may be a transaction.
func (a *AdmissionController) DecideTx(ctx context.Context, db *gorm.DB, senderID, conversationID string) (Decision, error) {
	tr := otel.Tracer("services/AdmissionController")
	ctx, span := tr.Start(ctx, "Decide",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	now := a.now()
	d := Decision{Limit: a.FreeDailyLimit, ResetsAt: a.nextDay(now)}

	sender, err := repo.GetUser(ctx, db, senderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a.record(d, false, ReasonUnknownSender), nil
		}
		return d, err
	}
	d.Sender = sender

	conv, err := repo.GetConversation(ctx, db, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a.record(d, false, ReasonUnknownConversation), nil
		}
		return d, err
	}
	d.Conversation = conv
	if !conv.HasParticipant(senderID) {
		return a.record(d, false, ReasonNotParticipant), nil
	}

	d.SenderPremium = sender.PremiumActive(now)
	if d.SenderPremium {
		return a.record(d, true, ReasonSenderPremium), nil
	}

	// A missing peer row counts as free.
	other, err := repo.GetUser(ctx, db, conv.Other(senderID))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return d, err
	}
	d.OtherPremium = other.PremiumActive(now)
	if d.OtherPremium {
		return a.record(d, true, ReasonOtherPremium), nil
	}

	d.Stale = !a.sameDay(sender.LastMessageDate, now)
	d.Used = sender.DailyMessageCount
	if d.Stale {
		d.Used = 0
	}
	span.SetAttributes(attribute.Int("quota.used", d.Used), attribute.Bool("quota.stale", d.Stale))

	switch {
	case d.Used >= a.FreeDailyLimit:
		return a.record(d, false, ReasonQuotaExhausted), nil
	case d.Stale:
		return a.record(d, true, ReasonNewDay), nil
	default:
		return a.record(d, true, ReasonUnderQuota), nil
	}
}

// CountAfterSend is the counter value to store after u sends at now: the
// lazy reset to zero is applied first when the stored day is stale.
func (a *AdmissionController) CountAfterSend(u *domain.User, now time.Time) int {
	if !a.sameDay(u.LastMessageDate, now) {
		return 1
	}
	return u.DailyMessageCount + 1
}

// Remaining returns how many free sends u has left on now's calendar day.
func (a *AdmissionController) Remaining(u *domain.User, now time.Time) int {
	used := u.DailyMessageCount
	if !a.sameDay(u.LastMessageDate, now) {
		used = 0
	}
	if left := a.FreeDailyLimit - used; left > 0 {
		return left
	}
	return 0
}

// QuotaError converts a denial into the error handed to callers.
func (d Decision) QuotaError() *QuotaExceededError {
	return &QuotaExceededError{Limit: d.Limit, UpgradeHint: DefaultUpgradeHint, ResetsAt: d.ResetsAt}
}

func (a *AdmissionController) record(d Decision, allowed bool, reason string) Decision {
	d.Allowed = allowed
	d.Reason = reason
	admissionDecisions.WithLabelValues(reason).Inc()
	return d
}

func (a *AdmissionController) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *AdmissionController) loc() *time.Location {
	if a.Location != nil {
		return a.Location
	}
	return time.Local
}

// sameDay compares calendar dates in the quota location. A nil date is
// never the same day.
func (a *AdmissionController) sameDay(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	y1, m1, d1 := last.In(a.loc()).Date()
	y2, m2, d2 := now.In(a.loc()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// nextDay returns midnight after now in the quota location.
func (a *AdmissionController) nextDay(now time.Time) time.Time {
	y, m, d := now.In(a.loc()).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, a.loc())
}
