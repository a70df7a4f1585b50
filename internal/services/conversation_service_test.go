package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
)

// ----- Fake repo -----

type fakeConvRepo struct {
	users map[string]bool

	findConv  *domain.Conversation
	findErr   error
	findCalls int

	createA, createB string
	createErr        error
	createCalls      int

	getConv *domain.Conversation
	getErr  error

	countTotal int64
	countErr   error

	pageOffset, pageLimit int
	pageItems             []domain.Conversation
	pageErr               error
}

func (r *fakeConvRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	if !r.users[id] {
		return nil, gorm.ErrRecordNotFound
	}
	return &domain.User{ID: id}, nil
}

func (r *fakeConvRepo) CreateConversation(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	r.createCalls++
	r.createA, r.createB = a, b
	if r.createErr != nil {
		return nil, r.createErr
	}
	return &domain.Conversation{ID: "new", User1ID: a, User2ID: b}, nil
}

func (r *fakeConvRepo) FindConversationByPair(ctx context.Context, db *gorm.DB, a, b string) (*domain.Conversation, error) {
	r.findCalls++
	// after a failed create the second lookup sees the winner's row
	if r.createErr != nil && r.findCalls > 1 && r.findConv != nil {
		return r.findConv, nil
	}
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.findConv, nil
}

func (r *fakeConvRepo) GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return r.getConv, r.getErr
}

func (r *fakeConvRepo) CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeConvRepo) ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

// ----- Tests -----

func TestConversationService_Open_Validation(t *testing.T) {
	r := &fakeConvRepo{users: map[string]bool{"a": true}}
	s := NewConversationService(nil, r)

	if _, _, err := s.Open(context.Background(), "a", "  "); !errors.Is(err, ErrMissingPeer) {
		t.Fatalf("blank peer: got %v", err)
	}
	if _, _, err := s.Open(context.Background(), "a", "a"); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("self: got %v", err)
	}
	if _, _, err := s.Open(context.Background(), "ghost", "a"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown caller: got %v", err)
	}
	if _, _, err := s.Open(context.Background(), "a", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown peer: got %v", err)
	}
	if r.createCalls != 0 {
		t.Fatalf("nothing should be created, got %d", r.createCalls)
	}
}

func TestConversationService_Open_ReturnsExisting(t *testing.T) {
	existing := &domain.Conversation{ID: "c1", User1ID: "a", User2ID: "b"}
	r := &fakeConvRepo{users: map[string]bool{"a": true, "b": true}, findConv: existing}
	s := NewConversationService(nil, r)

	conv, created, err := s.Open(context.Background(), "b", "a")
	if err != nil || created || conv.ID != "c1" {
		t.Fatalf("want existing c1, got %+v created=%v err=%v", conv, created, err)
	}
	if r.createCalls != 0 {
		t.Fatalf("existing pair must not be re-created")
	}
}

func TestConversationService_Open_Creates(t *testing.T) {
	r := &fakeConvRepo{users: map[string]bool{"a": true, "b": true}, findErr: gorm.ErrRecordNotFound}
	s := NewConversationService(nil, r)

	conv, created, err := s.Open(context.Background(), "a", " b ")
	if err != nil || !created || conv.ID != "new" {
		t.Fatalf("want new conversation, got %+v created=%v err=%v", conv, created, err)
	}
	if r.createA != "a" || r.createB != "b" {
		t.Fatalf("create args = %q,%q", r.createA, r.createB)
	}
}

func TestConversationService_Open_CreateRaceFallsBackToFind(t *testing.T) {
	winner := &domain.Conversation{ID: "winner", User1ID: "a", User2ID: "b"}
	r := &fakeConvRepo{
		users:     map[string]bool{"a": true, "b": true},
		findErr:   gorm.ErrRecordNotFound,
		findConv:  winner,
		createErr: errors.New("UNIQUE constraint failed"),
	}
	s := NewConversationService(nil, r)

	conv, created, err := s.Open(context.Background(), "a", "b")
	if err != nil || created || conv.ID != "winner" {
		t.Fatalf("want winner row, got %+v created=%v err=%v", conv, created, err)
	}
}

func TestConversationService_Open_FindError(t *testing.T) {
	boom := errors.New("db down")
	r := &fakeConvRepo{users: map[string]bool{"a": true, "b": true}, findErr: boom}
	s := NewConversationService(nil, r)

	if _, _, err := s.Open(context.Background(), "a", "b"); !errors.Is(err, boom) {
		t.Fatalf("got %v; want %v", err, boom)
	}
}

func TestConversationService_ListPage_DefaultsAndOffset(t *testing.T) {
	r := &fakeConvRepo{countTotal: 3, pageItems: []domain.Conversation{{ID: "c3"}}}
	s := NewConversationService(nil, r)

	items, total, err := s.ListPage(context.Background(), "a", 0, 0)
	if err != nil || total != 3 || len(items) != 1 {
		t.Fatalf("unexpected: items=%v total=%d err=%v", items, total, err)
	}
	if r.pageOffset != 0 || r.pageLimit != 20 {
		t.Fatalf("defaults: offset=%d limit=%d", r.pageOffset, r.pageLimit)
	}

	if _, _, err := s.ListPage(context.Background(), "a", 3, 5); err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if r.pageOffset != 10 || r.pageLimit != 5 {
		t.Fatalf("page 3: offset=%d limit=%d", r.pageOffset, r.pageLimit)
	}
}

func TestConversationService_ListPage_EmptyAndErrors(t *testing.T) {
	s := NewConversationService(nil, &fakeConvRepo{})
	items, total, err := s.ListPage(context.Background(), "a", 1, 10)
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty: items=%v total=%d err=%v", items, total, err)
	}

	boom := errors.New("count failed")
	s = NewConversationService(nil, &fakeConvRepo{countErr: boom})
	if _, _, err := s.ListPage(context.Background(), "a", 1, 10); !errors.Is(err, boom) {
		t.Fatalf("got %v; want %v", err, boom)
	}
}

func TestConversationService_Get(t *testing.T) {
	conv := &domain.Conversation{ID: "c1", User1ID: "a", User2ID: "b"}

	s := NewConversationService(nil, &fakeConvRepo{getConv: conv})
	if got, err := s.Get(context.Background(), "b", "c1"); err != nil || got.ID != "c1" {
		t.Fatalf("participant: %+v err=%v", got, err)
	}
	if _, err := s.Get(context.Background(), "x", "c1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider: got %v", err)
	}

	s = NewConversationService(nil, &fakeConvRepo{getErr: gorm.ErrRecordNotFound})
	if _, err := s.Get(context.Background(), "a", "c1"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("missing: got %v", err)
	}
}
