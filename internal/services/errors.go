// Package services defines the business logic for users, conversations,
// messages and subscriptions. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Identity and lookup errors.
var (
	// ErrUnauthorized indicates the caller identity does not resolve to a user.
	ErrUnauthorized = errors.New("unknown user")

	// ErrUserNotFound indicates a referenced (non-caller) user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist or is not
	// visible to the caller.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbidden is returned when the caller is not a participant of the
	// referenced conversation.
	ErrForbidden = errors.New("not a participant of this conversation")
)

// Validation errors.
var (
	ErrInvalidMessageType = errors.New("message_type must be one of: text, image, video, voice")
	ErrEmptyContent       = errors.New("text messages need content")
	ErrMissingMediaURL    = errors.New("media messages need a media_url")
	ErrUnexpectedMediaURL = errors.New("text messages cannot carry a media_url")
	ErrInvalidMediaURL    = errors.New("media_url must be an absolute http(s) URL")
	ErrTooLong            = errors.New("content too long")
	ErrInvalidDisplayName = errors.New("display_name must be 1-64 characters")
	ErrSelfConversation   = errors.New("cannot open a conversation with yourself")
	ErrEmptyQuery         = errors.New("query is empty")
	ErrInvalidPurchase    = errors.New("purchase token is not valid")
	ErrMissingPurchase    = errors.New("platform and purchase_token are required")
)

// ErrQuotaExceeded is the sentinel matched by *QuotaExceededError.
var ErrQuotaExceeded = errors.New("daily free message quota exhausted")

// QuotaExceededError is returned when admission denies a send. It carries
// what a client needs to render an upgrade prompt.
type QuotaExceededError struct {
	Limit       int
	UpgradeHint string
	ResetsAt    time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s (limit %d, resets at %s)", ErrQuotaExceeded.Error(), e.Limit, e.ResetsAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// DefaultUpgradeHint is shown to free users who hit the daily limit.
const DefaultUpgradeHint = "Upgrade to premium for unlimited messages, or wait until tomorrow."
