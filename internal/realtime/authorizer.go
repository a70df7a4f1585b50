// Package realtime implements the live delivery channel: handshake
// authorization, per-conversation rooms of WebSocket connections, and the
// non-blocking fan-out of committed events to those rooms.
package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/repo"
)

// Handshake rejections. Anything else returned by Authorize is an
// infrastructure failure.
var (
	ErrMissingParams       = errors.New("userId and conversationId are required")
	ErrUnknownUser         = errors.New("unknown user")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNotParticipant      = errors.New("user is not a participant of this conversation")
)

// Authorizer checks a connection request once, before the upgrade.
type Authorizer struct {
	DB *gorm.DB
	// Timeout bounds the lookups; <= 0 means only ctx applies.
	Timeout time.Duration
}

// NewAuthorizer returns an Authorizer with the given lookup timeout.
func NewAuthorizer(db *gorm.DB, timeout time.Duration) *Authorizer {
	return &Authorizer{DB: db, Timeout: timeout}
}

// Authorize verifies that userID exists and takes part in conversationID.
func (a *Authorizer) Authorize(ctx context.Context, userID, conversationID string) error {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return reject(ErrMissingParams)
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	if _, err := repo.GetUser(ctx, a.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return reject(ErrUnknownUser)
		}
		return reject(errors.Wrap(err, "realtime.Authorize: load user"))
	}
	conv, err := repo.GetConversation(ctx, a.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return reject(ErrUnknownConversation)
		}
		return reject(errors.Wrap(err, "realtime.Authorize: load conversation"))
	}
	if !conv.HasParticipant(userID) {
		return reject(ErrNotParticipant)
	}
	return nil
}

// RejectReason maps an Authorize error to its metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingParams):
		return "missing_params"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrUnknownConversation):
		return "unknown_conversation"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	default:
		return "internal"
	}
}

func reject(err error) error {
	rejections.WithLabelValues(RejectReason(err)).Inc()
	return err
}
