package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
)

type userRecord struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"size:320;not null;uniqueIndex"`
	Name         *string   `gorm:"size:100"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
}

func (userRecord) TableName() string { return "users" }

type sessionRecord struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	Title     string     `gorm:"size:100;not null"`
	UserID    string     `gorm:"type:uuid;not null;index:idx_chat_sessions_user_updated,priority:1"`
	User      userRecord `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime:false;index:idx_chat_sessions_user_updated,priority:2"`
}

func (sessionRecord) TableName() string { return "chat_sessions" }

func (r sessionRecord) toDomain() chat.Session {
	return chat.Session{
		ID:        r.ID,
		Title:     r.Title,
		OwnerID:   r.UserID,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type messageRecord struct {
	ID        string        `gorm:"type:uuid;primaryKey;index:idx_messages_session_created,priority:3"`
	SessionID string        `gorm:"type:uuid;not null;index:idx_messages_session_created,priority:1"`
	Session   sessionRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Role      string        `gorm:"size:16;not null"`
	Content   string        `gorm:"type:text;not null"`
	CreatedAt time.Time     `gorm:"not null;autoCreateTime:false;index:idx_messages_session_created,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

func (r messageRecord) toDomain() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      chat.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// Migrate creates or updates the schema used by GormStore.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&userRecord{}, &sessionRecord{}, &messageRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// GormStore implements Store on a relational database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection pool. The caller owns the pool's
// lifecycle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	rec := userRecord{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    now(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if u.Name != "" {
		name := u.Name
		rec.Name = &name
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return user.User{}, fmt.Errorf("%w: email already in use", apperr.ErrConflict)
		}
		return user.User{}, apperr.Storage("create user", err)
	}

	u.ID = rec.ID
	u.CreatedAt = rec.CreatedAt
	return u, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (user.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user.User{}, apperr.ErrNotFound
		}
		return user.User{}, apperr.Storage("find user", err)
	}

	u := user.User{
		ID:           rec.ID,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
	if rec.Name != nil {
		u.Name = *rec.Name
	}
	return u, nil
}

func (s *GormStore) CreateSession(ctx context.Context, ownerID, title string) (chat.Session, error) {
	ts := now()
	rec := sessionRecord{
		ID:        uuid.NewString(),
		Title:     title,
		UserID:    ownerID,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := s.db.WithContext(ctx).Omit("User").Create(&rec).Error; err != nil {
		return chat.Session{}, apperr.Storage("create session", err)
	}
	return rec.toDomain(), nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	if !isUUID(id) {
		return chat.Session{}, apperr.ErrNotFound
	}
	rec, err := s.findSession(s.db.WithContext(ctx).Where("id = ?", id))
	if err != nil {
		return chat.Session{}, err
	}
	return rec.toDomain(), nil
}

func (s *GormStore) ListSessions(ctx context.Context, ownerID string, page chat.PageRequest) (chat.Page[chat.Session], error) {
	page = page.WithDefault(chat.DefaultSessionPageSize)
	db := s.db.WithContext(ctx)

	query := db.Where("user_id = ?", ownerID)
	if page.Cursor != "" {
		if !isUUID(page.Cursor) {
			return chat.Page[chat.Session]{Items: []chat.Session{}}, nil
		}
		cursor, err := s.findSession(db.Where("id = ? AND user_id = ?", page.Cursor, ownerID))
		if errors.Is(err, apperr.ErrNotFound) {
			return chat.Page[chat.Session]{Items: []chat.Session{}}, nil
		}
		if err != nil {
			return chat.Page[chat.Session]{}, err
		}
		query = query.Where("(updated_at < ? OR (updated_at = ? AND id < ?))", cursor.UpdatedAt, cursor.UpdatedAt, cursor.ID)
	}

	var rows []sessionRecord
	err := query.Order("updated_at DESC").Order("id DESC").Limit(page.Take + 1).Find(&rows).Error
	if err != nil {
		return chat.Page[chat.Session]{}, apperr.Storage("list sessions", err)
	}

	sessions := make([]chat.Session, len(rows))
	for i, row := range rows {
		sessions[i] = row.toDomain()
	}
	return chat.NewPage(sessions, page.Take, func(session chat.Session) string { return session.ID }), nil
}

func (s *GormStore) RenameSession(ctx context.Context, id, ownerID, title string) (chat.Session, error) {
	if !isUUID(id) || !isUUID(ownerID) {
		return chat.Session{}, apperr.ErrNotFound
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&sessionRecord{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Updates(map[string]any{"title": title, "updated_at": now()})
	if res.Error != nil {
		return chat.Session{}, apperr.Storage("rename session", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.Session{}, apperr.ErrNotFound
	}

	rec, err := s.findSession(db.Where("id = ?", id))
	if err != nil {
		return chat.Session{}, err
	}
	return rec.toDomain(), nil
}

func (s *GormStore) TouchSession(ctx context.Context, id, title string) error {
	if !isUUID(id) {
		return apperr.ErrNotFound
	}
	changes := map[string]any{"updated_at": now()}
	if title != "" {
		changes["title"] = title
	}

	res := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return apperr.Storage("touch session", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *GormStore) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	// Take the timestamp first so a later id never carries an earlier time.
	createdAt := now()
	id, err := uuid.NewV7()
	if err != nil {
		return chat.Message{}, apperr.Storage("generate message id", err)
	}

	rec := messageRecord{
		ID:        id.String(),
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Omit("Session").Create(&rec).Error; err != nil {
		return chat.Message{}, apperr.Storage("append message", err)
	}
	return rec.toDomain(), nil
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string, page chat.PageRequest) (chat.Page[chat.Message], error) {
	page = page.WithDefault(chat.DefaultMessagePageSize)
	db := s.db.WithContext(ctx)

	if !isUUID(sessionID) {
		return chat.Page[chat.Message]{}, apperr.ErrNotFound
	}

	query := db.Where("session_id = ?", sessionID)
	if page.Cursor != "" {
		if !isUUID(page.Cursor) {
			return chat.Page[chat.Message]{Items: []chat.Message{}}, nil
		}
		var cursor messageRecord
		err := db.Where("id = ? AND session_id = ?", page.Cursor, sessionID).Take(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Page[chat.Message]{Items: []chat.Message{}}, nil
		}
		if err != nil {
			return chat.Page[chat.Message]{}, apperr.Storage("load message cursor", err)
		}
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []messageRecord
	err := query.Order("created_at ASC").Order("id ASC").Limit(page.Take + 1).Find(&rows).Error
	if err != nil {
		return chat.Page[chat.Message]{}, apperr.Storage("list messages", err)
	}

	return chat.NewPage(toMessages(rows), page.Take, func(m chat.Message) string { return m.ID }), nil
}

func (s *GormStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	var rows []messageRecord
	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, apperr.Storage("recent messages", err)
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return toMessages(rows), nil
}

func (s *GormStore) CountMessages(ctx context.Context, sessionID string, role chat.Role, since time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Model(&messageRecord{}).
		Where("session_id = ? AND role = ?", sessionID, string(role))
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since.UTC())
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, apperr.Storage("count messages", err)
	}
	return count, nil
}

func (s *GormStore) findSession(query *gorm.DB) (sessionRecord, error) {
	var rec sessionRecord
	if err := query.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessionRecord{}, apperr.ErrNotFound
		}
		return sessionRecord{}, apperr.Storage("load session", err)
	}
	return rec, nil
}

// isUUID guards uuid-typed columns: Postgres rejects malformed literals with
// an error instead of matching nothing.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func toMessages(rows []messageRecord) []chat.Message {
	messages := make([]chat.Message, len(rows))
	for i, row := range rows {
		messages[i] = row.toDomain()
	}
	return messages
}
