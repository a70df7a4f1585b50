// Package domain defines the persistence models for users, conversations and
// messages. These types are mapped with GORM and form the core data layer of
// the messaging backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Subscription tiers stored on User.SubscriptionType.
const (
	SubscriptionFree    = "free"
	SubscriptionPremium = "premium"
)

// Message kinds stored on Message.Type.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageVideo = "video"
	MessageVoice = "voice"
)

// User is a messaging identity together with its subscription and free-tier
// quota state.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DisplayName: name shown to the other participant.
//   - SubscriptionType: "free" or "premium" (enforced by DB constraint).
//   - SubscriptionExpiresAt: end of the paid period; nil when never subscribed.
//   - DailyMessageCount: messages sent on LastMessageDate's calendar day.
//   - LastMessageDate: time of the last counted send; compared by date only.
//   - DeletedAt: soft deletion marker (full account deletion only).
type User struct {
	ID                    string         `json:"id"                                gorm:"type:char(36);primaryKey"`
	DisplayName           string         `json:"display_name"                      gorm:"type:varchar(64);not null"`
	SubscriptionType      string         `json:"subscription_type"                 gorm:"type:varchar(16);not null;default:'free';check:subscription_type IN ('free','premium')"`
	SubscriptionExpiresAt *time.Time     `json:"subscription_expires_at,omitempty" gorm:"index"`
	DailyMessageCount     int            `json:"daily_message_count"               gorm:"not null;default:0;check:daily_message_count >= 0"`
	LastMessageDate       *time.Time     `json:"last_message_date,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `json:"-"                                 gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// PremiumActive reports whether the user holds a premium subscription whose
// expiry is strictly after now.
func (u *User) PremiumActive(now time.Time) bool {
	if u == nil || u.SubscriptionType != SubscriptionPremium || u.SubscriptionExpiresAt == nil {
		return false
	}
	return u.SubscriptionExpiresAt.After(now)
}

// Conversation is the single thread shared by an unordered pair of users.
// Exactly one row exists per pair; lookups check both orderings.
//
// LastSeq is the sequence number of the newest message and is advanced inside
// the transaction that persists it, so message order equals commit order.
type Conversation struct {
	ID            string     `json:"id"                        gorm:"type:char(36);primaryKey"`
	User1ID       string     `json:"user1_id"                  gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_pair,priority:1;index"`
	User2ID       string     `json:"user2_id"                  gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_pair,priority:2;index"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" gorm:"index"`
	LastSeq       int64      `json:"last_seq"                  gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// Other returns the participant that is not userID. It returns "" when
// userID does not take part in the conversation.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.User1ID:
		return c.User2ID
	case c.User2ID:
		return c.User1ID
	default:
		return ""
	}
}

// Message is a single entry in a conversation. Messages are immutable once
// created except for IsRead.
//
// Fields:
//   - ConversationID: owning conversation (indexed together with Seq).
//   - SenderID: one of the conversation's participants.
//   - Seq: per-conversation commit order; the display and delivery order.
//   - Type: text, image, video or voice (enforced by DB constraint).
//   - Content: text body, or an optional caption for media messages.
//   - MediaURL: reference to the stored media object for non-text types.
type Message struct {
	ID             string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id"     gorm:"type:char(36);not null;uniqueIndex:ux_conversation_seq,priority:1"`
	SenderID       string    `json:"sender_id"           gorm:"type:varchar(64);not null;index"`
	Seq            int64     `json:"seq"                 gorm:"not null;uniqueIndex:ux_conversation_seq,priority:2"`
	Type           string    `json:"message_type"        gorm:"type:varchar(8);not null;check:type IN ('text','image','video','voice')"`
	Content        *string   `json:"content,omitempty"   gorm:"type:text"`
	MediaURL       *string   `json:"media_url,omitempty" gorm:"type:varchar(2048)"`
	IsRead         bool      `json:"is_read"             gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Conversation is the parent thread. Messages are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ValidMessageType reports whether t is one of the supported message kinds.
func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoice:
		return true
	}
	return false
}
