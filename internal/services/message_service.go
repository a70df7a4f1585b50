// Package services – MessageService
//
// This file implements MessageService, which owns the message create path:
// validation, participant checks, admission, persistence, the conversation
// touch, the free-tier counter update and the post-commit broadcast. It also
// serves history pages, read receipts and in-conversation text search.
//
// Ordering: a per-conversation lock is held from Seq allocation until both
// events are enqueued on the broadcaster, so commit order, Seq order and
// delivery order agree. A per-sender lock (taken second) serializes counter
// updates for one sender across conversations.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
	"github.com/tbourn/go-realtime-chat/internal/search"
)

// Broadcaster delivers committed events to live connections. Implementations
// must not block; the return value is the number of connections reached.
type Broadcaster interface {
	BroadcastNewMessage(ctx context.Context, ev domain.NewMessageEvent) int
	BroadcastConversationUpdate(ctx context.Context, ev domain.ConversationUpdateEvent) int
}

// SendInput is the caller-supplied part of a new message.
type SendInput struct {
	SenderID       string
	ConversationID string
	Type           string
	Content        *string
	MediaURL       *string
}

// MessageService coordinates message persistence and fan-out.
type MessageService struct {
	DB          *gorm.DB
	Admission   *AdmissionController
	Broadcaster Broadcaster

	// MaxContentRunes caps message text; <= 0 disables the check.
	MaxContentRunes int
	// SearchMinScore drops weak search hits.
	SearchMinScore float64

	once        sync.Once
	convLocks   *keyedMutex
	senderLocks *keyedMutex
}

// NewMessageService wires a MessageService with default limits.
func NewMessageService(db *gorm.DB, adm *AdmissionController, b Broadcaster) *MessageService {
	return &MessageService{
		DB:              db,
		Admission:       adm,
		Broadcaster:     b,
		MaxContentRunes: 4000,
	}
}

func (s *MessageService) init() {
	s.once.Do(func() {
		s.convLocks = newKeyedMutex()
		s.senderLocks = newKeyedMutex()
	})
}

// Send validates, admits, persists and broadcasts one message. The returned
// message is the committed row; broadcast outcome never affects the result.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", in.ConversationID),
			attribute.String("user.id", in.SenderID),
			attribute.String("message.type", in.Type),
		),
	)
	defer span.End()
	s.init()

	content, mediaURL, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	conv, err := repo.GetConversation(ctx, s.DB, in.ConversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, ErrForbidden
	}

	unlockConv := s.convLocks.Lock(in.ConversationID)
	defer unlockConv()
	unlockSender := s.senderLocks.Lock(in.SenderID)

	// one clock for the decision and the stored timestamps
	now := s.Admission.now().UTC()
	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        content,
		MediaURL:       mediaURL,
		CreatedAt:      now,
	}

	var decision Decision
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.Admission.DecideTx(ctx, tx, in.SenderID, in.ConversationID)
		if err != nil {
			return err
		}
		decision = d
		if !d.Allowed {
			return denial(d)
		}

		seq, err := repo.AllocateSeq(ctx, tx, in.ConversationID)
		if err != nil {
			return err
		}
		msg.Seq = seq
		if err := repo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		if err := repo.TouchConversation(ctx, tx, in.ConversationID, now); err != nil {
			return err
		}
		// Anyone not premium-active is counted, even when the peer's premium
		// admitted the send.
		if !d.SenderPremium {
			next := s.Admission.CountAfterSend(d.Sender, now)
			if err := repo.SetDailyCount(ctx, tx, in.SenderID, next, now); err != nil {
				return err
			}
		}
		conv = d.Conversation
		conv.LastSeq = seq
		conv.LastMessageAt = &now
		return nil
	})
	unlockSender()
	if err != nil {
		span.SetAttributes(attribute.String("admission.reason", decision.Reason))
		var qe *QuotaExceededError
		if !errors.As(err, &qe) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "send failed")
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("admission.reason", decision.Reason),
		attribute.Int64("message.seq", msg.Seq),
	)

	if s.Broadcaster != nil {
		n := s.Broadcaster.BroadcastNewMessage(ctx, domain.NewMessageEvent{Message: msg})
		upd := domain.UpdateFromConversation(conv, domain.UpdateReasonMessage)
		upd.MessageID = msg.ID
		s.Broadcaster.BroadcastConversationUpdate(ctx, upd)
		span.SetAttributes(attribute.Int("broadcast.deliveries", n))
	}
	return msg, nil
}

// denial maps a negative decision to the caller-facing error.
func denial(d Decision) error {
	switch d.Reason {
	case ReasonUnknownSender:
		return ErrUnauthorized
	case ReasonUnknownConversation:
		return ErrConversationNotFound
	case ReasonNotParticipant:
		return ErrForbidden
	default:
		return d.QuotaError()
	}
}

// validate normalizes content and checks the type/content/media combination.
func (s *MessageService) validate(in SendInput) (content, mediaURL *string, err error) {
	if strings.TrimSpace(in.SenderID) == "" {
		return nil, nil, ErrUnauthorized
	}
	if !domain.ValidMessageType(in.Type) {
		return nil, nil, ErrInvalidMessageType
	}

	if in.Content != nil {
		c := strings.TrimSpace(norm.NFC.String(*in.Content))
		if c != "" {
			if s.MaxContentRunes > 0 && utf8.RuneCountInString(c) > s.MaxContentRunes {
				return nil, nil, ErrTooLong
			}
			content = &c
		}
	}
	if in.MediaURL != nil {
		if u := strings.TrimSpace(*in.MediaURL); u != "" {
			mediaURL = &u
		}
	}

	if in.Type == domain.MessageText {
		if content == nil {
			return nil, nil, ErrEmptyContent
		}
		if mediaURL != nil {
			return nil, nil, ErrUnexpectedMediaURL
		}
		return content, nil, nil
	}

	if mediaURL == nil {
		return nil, nil, ErrMissingMediaURL
	}
	if u, perr := url.Parse(*mediaURL); perr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, ErrInvalidMediaURL
	}
	return content, mediaURL, nil
}

// ListPage returns a page of a conversation's history in Seq order. Only
// participants may read it.
func (s *MessageService) ListPage(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, offset, pageSize)
	return items, total, err
}

// MarkRead flags a message as read by its recipient and broadcasts a
// conversation_update with reason "read" the first time it changes.
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()
	s.init()

	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	conv, err := repo.GetConversation(ctx, s.DB, msg.ConversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID == userID {
		return nil, ErrForbidden
	}

	unlock := s.convLocks.Lock(conv.ID)
	defer unlock()

	changed, err := repo.MarkMessageRead(ctx, s.DB, messageID)
	if err != nil {
		return nil, err
	}
	msg.IsRead = true
	if changed && s.Broadcaster != nil {
		// reload so LastSeq reflects any sends that committed meanwhile
		if fresh, err := repo.GetConversation(ctx, s.DB, conv.ID); err == nil {
			conv = fresh
		} else {
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("reload conversation for read receipt")
		}
		upd := domain.UpdateFromConversation(conv, domain.UpdateReasonRead)
		upd.MessageID = msg.ID
		s.Broadcaster.BroadcastConversationUpdate(ctx, upd)
	}
	span.SetAttributes(attribute.Bool("changed", changed))
	return msg, nil
}

// Search ranks the conversation's text-bearing messages against query.
func (s *MessageService) Search(ctx context.Context, userID, conversationID, query string, k int) ([]search.Result, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.Int("k", k),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := repo.ListMessagesWithContent(ctx, s.DB, conversationID)
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, search.Document{ID: m.ID, Seq: m.Seq, Text: *m.Content})
	}
	res := search.NewIndex(docs, search.WithMinScore(s.SearchMinScore)).TopK(query, k)
	if res == nil {
		res = []search.Result{}
	}
	span.SetAttributes(attribute.Int("results", len(res)))
	return res, nil
}

func (s *MessageService) participantConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}
