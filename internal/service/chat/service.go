// Package chat manages the caller's directory of chat sessions.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/store"
)

// MaxTitleLength is the longest title a session may carry, in characters.
const MaxTitleLength = 100

// PlaceholderTitle names a session the user has not titled yet. The exchange
// service renames such sessions from the first user message.
func PlaceholderTitle(t time.Time) string {
	return "New Chat " + t.UTC().Format("15:04:05")
}

// Service encapsulates session listing, creation and renaming.
type Service struct {
	store store.Store
	log   *zap.Logger
	clock func() time.Time
}

// NewService wires the session directory onto a store.
func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{
		store: st,
		log:   log.Named("sessions"),
		clock: time.Now,
	}
}

// List pages through ownerID's sessions, most recently active first.
func (s *Service) List(ctx context.Context, ownerID string, page chat.PageRequest) (chat.Page[chat.Session], error) {
	if ownerID == "" {
		return chat.Page[chat.Session]{}, apperr.ErrUnauthorized
	}
	if err := page.Validate(); err != nil {
		return chat.Page[chat.Session]{}, err
	}
	return s.store.ListSessions(ctx, ownerID, page)
}

// Create provisions a session. A blank title becomes a timestamped placeholder.
func (s *Service) Create(ctx context.Context, ownerID, title string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, apperr.ErrUnauthorized
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = PlaceholderTitle(s.clock())
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return chat.Session{}, apperr.Invalid("title must be at most %d characters", MaxTitleLength)
	}

	session, err := s.store.CreateSession(ctx, ownerID, title)
	if err != nil {
		return chat.Session{}, err
	}

	s.log.Info("session created", zap.String("session", session.ID), zap.String("owner", ownerID))
	return session, nil
}

// Rename replaces the title of a session the caller owns.
func (s *Service) Rename(ctx context.Context, id, ownerID, title string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, apperr.ErrUnauthorized
	}

	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return chat.Session{}, apperr.Invalid("title must be between 1 and %d characters", MaxTitleLength)
	}

	return s.store.RenameSession(ctx, id, ownerID, title)
}

// Open returns the caller's most recently active session, creating one with a
// placeholder title on first visit.
func (s *Service) Open(ctx context.Context, ownerID string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, apperr.ErrUnauthorized
	}

	latest, err := s.store.ListSessions(ctx, ownerID, chat.PageRequest{Take: 1})
	if err != nil {
		return chat.Session{}, err
	}
	if len(latest.Items) > 0 {
		return latest.Items[0], nil
	}
	return s.Create(ctx, ownerID, "")
}
