package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
)

// MemoryStore keeps everything in process memory. Suitable for local runs
// without a database and for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]user.User
	emails   map[string]string
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	clock    func() time.Time
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]user.User),
		emails:   make(map[string]string),
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		clock:    now,
	}
}

// CreateUser stores a new account; e-mails are unique.
func (s *MemoryStore) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.emails[key]; exists {
		return user.User{}, fmt.Errorf("%w: email already in use", apperr.ErrConflict)
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.clock()
	s.users[u.ID] = u
	s.emails[key] = u.ID
	return u, nil
}

// FindUserByEmail looks up an account by e-mail.
func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return user.User{}, apperr.ErrNotFound
	}
	return s.users[id], nil
}

// CreateSession provisions a session for ownerID.
func (s *MemoryStore) CreateSession(_ context.Context, ownerID, title string) (chat.Session, error) {
	ts := s.clock()
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, apperr.ErrNotFound
	}
	return session, nil
}

// ListSessions pages through ownerID's sessions, most recently updated first.
func (s *MemoryStore) ListSessions(_ context.Context, ownerID string, page chat.PageRequest) (chat.Page[chat.Session], error) {
	page = page.WithDefault(chat.DefaultSessionPageSize)

	s.mu.RLock()
	owned := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			owned = append(owned, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
		}
		return owned[i].ID > owned[j].ID
	})

	rows, ok := afterCursor(owned, page, func(session chat.Session) string { return session.ID })
	if !ok {
		return chat.Page[chat.Session]{Items: []chat.Session{}}, nil
	}
	return chat.NewPage(rows, page.Take, func(session chat.Session) string { return session.ID }), nil
}

// RenameSession replaces the title of a session owned by ownerID.
func (s *MemoryStore) RenameSession(_ context.Context, id, ownerID, title string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !session.OwnedBy(ownerID) {
		return chat.Session{}, apperr.ErrNotFound
	}

	session.Title = title
	session.UpdatedAt = s.clock()
	s.sessions[id] = session
	return session, nil
}

// TouchSession marks activity on a session and optionally retitles it.
func (s *MemoryStore) TouchSession(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return apperr.ErrNotFound
	}

	if title != "" {
		session.Title = title
	}
	session.UpdatedAt = s.clock()
	s.sessions[id] = session
	return nil
}

// AppendMessage appends a message to the session history.
func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.Message{}, apperr.ErrNotFound
	}

	// Id and timestamp are taken together under the lock so both orders agree.
	createdAt := s.clock()
	id, err := uuid.NewV7()
	if err != nil {
		return chat.Message{}, apperr.Storage("generate message id", err)
	}

	message := chat.Message{
		ID:        id.String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
	s.messages[sessionID] = append(s.messages[sessionID], message)
	return message, nil
}

// ListMessages pages through a session's history, oldest first.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, page chat.PageRequest) (chat.Page[chat.Message], error) {
	page = page.WithDefault(chat.DefaultMessagePageSize)

	transcript, err := s.transcript(sessionID)
	if err != nil {
		return chat.Page[chat.Message]{}, err
	}

	rows, ok := afterCursor(transcript, page, func(m chat.Message) string { return m.ID })
	if !ok {
		return chat.Page[chat.Message]{Items: []chat.Message{}}, nil
	}
	return chat.NewPage(rows, page.Take, func(m chat.Message) string { return m.ID }), nil
}

// RecentMessages returns the newest limit messages in ascending order.
func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	transcript, err := s.transcript(sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(transcript) > limit {
		transcript = transcript[len(transcript)-limit:]
	}
	return transcript, nil
}

// CountMessages counts role messages created at or after since.
func (s *MemoryStore) CountMessages(_ context.Context, sessionID string, role chat.Role, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, m := range s.messages[sessionID] {
		if m.Role == role && !m.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// transcript returns a copy of the session's messages in creation order.
func (s *MemoryStore) transcript(sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, apperr.ErrNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// afterCursor returns at most take+1 rows following the cursor row. ok is
// false when a cursor was given but does not appear in rows.
func afterCursor[T any](rows []T, page chat.PageRequest, id func(T) string) ([]T, bool) {
	start := 0
	if page.Cursor != "" {
		found := false
		for i, row := range rows {
			if id(row) == page.Cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}

	end := start + page.Take + 1
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], true
}
