// Package store is the persistence gateway for users, chat sessions and
// messages. Two implementations share one contract: a GORM-backed relational
// store for production and an in-memory store for local runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
)

// Store lists every persistence primitive the services rely on.
//
// Session listings are ordered by UpdatedAt descending, message listings by
// CreatedAt ascending with the message id as a tie breaker. Both use keyset
// cursors: the cursor is the id of the last row already returned.
type Store interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	FindUserByEmail(ctx context.Context, email string) (user.User, error)

	CreateSession(ctx context.Context, ownerID, title string) (chat.Session, error)
	GetSession(ctx context.Context, id string) (chat.Session, error)
	ListSessions(ctx context.Context, ownerID string, page chat.PageRequest) (chat.Page[chat.Session], error)
	// RenameSession fails with apperr.ErrNotFound when the session is missing
	// or not owned by ownerID.
	RenameSession(ctx context.Context, id, ownerID, title string) (chat.Session, error)
	// TouchSession bumps UpdatedAt and, when title is non-empty, replaces the title.
	TouchSession(ctx context.Context, id, title string) error

	// AppendMessage does not modify the owning session.
	AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string, page chat.PageRequest) (chat.Page[chat.Message], error)
	// RecentMessages returns up to limit newest messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
	// CountMessages counts messages of the given role created at or after
	// since. A zero since counts the whole session.
	CountMessages(ctx context.Context, sessionID string, role chat.Role, since time.Time) (int64, error)
}

// LoadOwned returns the session when it exists and belongs to ownerID. A
// session owned by someone else is reported as apperr.ErrNotFound so callers
// cannot discover foreign ids.
func LoadOwned(ctx context.Context, s Store, id, ownerID string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, apperr.ErrUnauthorized
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return chat.Session{}, apperr.ErrNotFound
		}
		return chat.Session{}, err
	}
	if !session.OwnedBy(ownerID) {
		return chat.Session{}, apperr.ErrNotFound
	}
	return session, nil
}

// now is the timestamp source for both implementations. Postgres keeps
// microseconds, so values are truncated up front to compare equal after a
// round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
