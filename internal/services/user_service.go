package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-realtime-chat/internal/domain"
	"github.com/tbourn/go-realtime-chat/internal/repo"
)

// MaxDisplayNameRunes caps User.DisplayName.
const MaxDisplayNameRunes = 64

// UserService provisions and looks up messaging identities.
type UserService struct {
	DB *gorm.DB
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// Register creates a free-tier user. The display name is NFC-normalized,
// trimmed and must be 1-64 runes.
func (s *UserService) Register(ctx context.Context, displayName string) (*domain.User, error) {
	name := strings.Join(strings.Fields(norm.NFC.String(displayName)), " ")
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		return nil, ErrInvalidDisplayName
	}
	return repo.CreateUser(ctx, s.DB, name)
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}
