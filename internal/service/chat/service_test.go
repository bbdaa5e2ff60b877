package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	model "github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
	chat "github.com/zhouzirui/career-chat/backend/internal/service/chat"
	"github.com/zhouzirui/career-chat/backend/internal/store"
)

func newService(t *testing.T) (*chat.Service, store.Store, string) {
	t.Helper()
	st := store.NewMemoryStore()
	u, err := st.CreateUser(context.Background(), user.User{Email: "owner@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	return chat.NewService(st, zap.NewNop()), st, u.ID
}

func TestPlaceholderTitle(t *testing.T) {
	stamp := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "New Chat 10:00:00", chat.PlaceholderTitle(stamp))
}

func TestCreateDefaultsToPlaceholder(t *testing.T) {
	svc, _, owner := newService(t)

	session, err := svc.Create(context.Background(), owner, "   ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.Title, "New Chat "))
	assert.Len(t, session.Title, len("New Chat 00:00:00"))
	assert.False(t, session.UpdatedAt.IsZero())
}

func TestCreateKeepsExplicitTitle(t *testing.T) {
	svc, _, owner := newService(t)

	session, err := svc.Create(context.Background(), owner, "  Job search  ")
	require.NoError(t, err)
	assert.Equal(t, "Job search", session.Title)
}

func TestCreateRejectsLongTitle(t *testing.T) {
	svc, _, owner := newService(t)

	_, err := svc.Create(context.Background(), owner, strings.Repeat("x", 101))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateRequiresCaller(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Create(context.Background(), "", "title")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestNewestSessionListedFirst(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, owner, "first")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Create(ctx, owner, "second")
	require.NoError(t, err)

	page, err := svc.List(ctx, owner, model.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, second.ID, page.Items[0].ID)
	assert.Equal(t, first.ID, page.Items[1].ID)
	assert.Nil(t, page.NextCursor)
}

func TestListRejectsTakeOutOfRange(t *testing.T) {
	svc, _, owner := newService(t)

	for _, take := range []int{-1, 51} {
		_, err := svc.List(context.Background(), owner, model.PageRequest{Take: take})
		require.ErrorIs(t, err, apperr.ErrInvalidInput, "take=%d", take)
	}
}

func TestRenameOwnership(t *testing.T) {
	svc, st, owner := newService(t)
	ctx := context.Background()

	intruder, err := st.CreateUser(ctx, user.User{Email: "intruder@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	session, err := svc.Create(ctx, owner, "")
	require.NoError(t, err)

	_, err = svc.Rename(ctx, session.ID, intruder.ID, "mine now")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Rename(ctx, uuid.NewString(), owner, "ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Rename(ctx, session.ID, owner, " ")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	renamed, err := svc.Rename(ctx, session.ID, owner, "Backend roles")
	require.NoError(t, err)
	assert.Equal(t, "Backend roles", renamed.Title)
}

func TestOpenProvisionsOnFirstVisit(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	opened, err := svc.Open(ctx, owner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(opened.Title, "New Chat "))

	again, err := svc.Open(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, again.ID, "second visit reuses the latest session")
}

func TestRenameTrimsBeforeLengthCheck(t *testing.T) {
	svc, _, owner := newService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, owner, "")
	require.NoError(t, err)

	padded := "  " + strings.Repeat("a", chat.MaxTitleLength) + "  "
	renamed, err := svc.Rename(ctx, session.ID, owner, padded)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", chat.MaxTitleLength), renamed.Title)
}
