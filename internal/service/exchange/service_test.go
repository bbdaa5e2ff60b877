package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/metrics"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
	"github.com/zhouzirui/career-chat/backend/internal/store"
)

type stubReplier struct {
	mu       sync.Mutex
	reply    string
	err      error
	readyErr error
	calls    int
	history  []chat.Message
}

func (r *stubReplier) Ready() error { return r.readyErr }

func (r *stubReplier) Reply(_ context.Context, history []chat.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.history = history
	return r.reply, r.err
}

// blockingReplier ignores its context and only returns once released.
type blockingReplier struct {
	release chan struct{}
}

func (r *blockingReplier) Ready() error { return nil }

func (r *blockingReplier) Reply(_ context.Context, _ []chat.Message) (string, error) {
	<-r.release
	return "too late", nil
}

type panickingReplier struct{}

func (panickingReplier) Ready() error { return nil }

func (panickingReplier) Reply(context.Context, []chat.Message) (string, error) {
	panic("model exploded")
}

// failingStore fails AppendMessage for one role.
type failingStore struct {
	*store.MemoryStore
	failRole chat.Role
}

func (s *failingStore) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	if role == s.failRole {
		return chat.Message{}, apperr.Storage("append message", errors.New("connection reset"))
	}
	return s.MemoryStore.AppendMessage(ctx, sessionID, role, content)
}

type fixture struct {
	svc     *Service
	store   store.Store
	owner   string
	session chat.Session
}

func newFixture(t *testing.T, st store.Store, replier Replier, opts Options) fixture {
	t.Helper()
	ctx := context.Background()

	u, err := st.CreateUser(ctx, user.User{Email: "owner@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	session, err := st.CreateSession(ctx, u.ID, "New Chat 10:00:00")
	require.NoError(t, err)

	if opts.RateCeiling == 0 {
		opts.RateCeiling = 20
	}
	return fixture{
		svc:     NewService(st, replier, opts, zap.NewNop(), nil),
		store:   st,
		owner:   u.ID,
		session: session,
	}
}

func listAll(t *testing.T, f fixture) []chat.Message {
	t.Helper()
	page, err := f.svc.ListMessages(context.Background(), f.session.ID, f.owner, chat.PageRequest{Take: chat.MaxPageSize})
	require.NoError(t, err)
	return page.Items
}

func TestSendConcreteScenario(t *testing.T) {
	replier := &stubReplier{reply: "Build two small services and put them on GitHub."}
	f := newFixture(t, store.NewMemoryStore(), replier, Options{})
	ctx := context.Background()

	first, err := f.svc.Send(ctx, f.session.ID, f.owner, "Looking for junior backend roles")
	require.NoError(t, err)
	assert.Equal(t, "Looking for junior backend roles", first.User.Content)
	assert.Equal(t, chat.RoleUser, first.User.Role)
	assert.Equal(t, chat.RoleAssistant, first.Assistant.Role)
	assert.NotEmpty(t, first.Assistant.Content)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Looking for junior backend roles", session.Title)

	_, err = f.svc.Send(ctx, f.session.ID, f.owner, "Any certs?")
	require.NoError(t, err)

	session, err = f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Looking for junior backend roles", session.Title)
}

func TestSendRenamesOnlyOnce(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.session.ID, f.owner, "I want to change careers into data science")
	require.NoError(t, err)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "I want to change careers into data science", session.Title)

	_, err = f.svc.Send(ctx, f.session.ID, f.owner, "New plan: move into product management instead")
	require.NoError(t, err)

	session, err = f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "I want to change careers into data science", session.Title)
}

func TestSendDoesNotRenameTwiceWhenDerivedTitleLooksLikePlaceholder(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.session.ID, f.owner, "New grad looking for work")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.session.ID, f.owner, "Something else entirely")
	require.NoError(t, err)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "New grad looking for work", session.Title)
}

func TestSendKeepsUserTitle(t *testing.T) {
	st := store.NewMemoryStore()
	f := newFixture(t, st, &stubReplier{reply: "ok"}, Options{})
	ctx := context.Background()

	titled, err := st.CreateSession(ctx, f.owner, "Interview prep")
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, titled.ID, f.owner, "How do I answer behavioural questions?")
	require.NoError(t, err)

	got, err := st.GetSession(ctx, titled.ID)
	require.NoError(t, err)
	assert.Equal(t, "Interview prep", got.Title)
	assert.True(t, got.UpdatedAt.After(titled.UpdatedAt) || got.UpdatedAt.Equal(titled.UpdatedAt))
}

func TestSendMessagesVisibleInOrder(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "reply"}, Options{})

	ex, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)

	items := listAll(t, f)
	require.Len(t, items, 2)
	assert.Equal(t, ex.User.ID, items[0].ID)
	assert.Equal(t, "hello", items[0].Content)
	assert.Equal(t, ex.Assistant.ID, items[1].ID)
	assert.Equal(t, chat.RoleAssistant, items[1].Role)
}

func TestSendPassesHistoryIncludingNewMessage(t *testing.T) {
	replier := &stubReplier{reply: "reply"}
	f := newFixture(t, store.NewMemoryStore(), replier, Options{HistoryLoad: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, f.session.ID, f.owner, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	require.Len(t, replier.history, 3)
	last := replier.history[len(replier.history)-1]
	assert.Equal(t, chat.RoleUser, last.Role)
	assert.Equal(t, "question 2", last.Content)
}

func TestSendFallbackOnTimeout(t *testing.T) {
	replier := &blockingReplier{release: make(chan struct{})}
	t.Cleanup(func() { close(replier.release) })

	f := newFixture(t, store.NewMemoryStore(), replier, Options{ReplyTimeout: 50 * time.Millisecond})

	start := time.Now()
	ex, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, FallbackReply, ex.Assistant.Content)
	assert.Len(t, listAll(t, f), 2)
}

func TestSendFallbackOnUpstreamFailure(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{err: errors.New("status 502")}, Options{})

	ex, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, ex.Assistant.Content)
}

func TestSendFallbackOnEmptyReply(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "  "}, Options{})

	ex, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, ex.Assistant.Content)
}

func TestSendFallbackOnPanic(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), panickingReplier{}, Options{})

	ex, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, ex.Assistant.Content)
}

func TestSendForeignSessionIsNotFound(t *testing.T) {
	replier := &stubReplier{reply: "ok"}
	f := newFixture(t, store.NewMemoryStore(), replier, Options{})
	ctx := context.Background()

	intruder, err := f.store.CreateUser(ctx, user.User{Email: "intruder@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, f.session.ID, intruder.ID, "hello")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Send(ctx, uuid.NewString(), f.owner, "hello")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ListMessages(ctx, f.session.ID, intruder.ID, chat.PageRequest{})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Empty(t, listAll(t, f))
	assert.Zero(t, replier.calls)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{RateCeiling: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Send(ctx, f.session.ID, f.owner, "ping")
		require.NoError(t, err, "send %d", i)
	}

	_, err := f.svc.Send(ctx, f.session.ID, f.owner, "ping")
	require.ErrorIs(t, err, apperr.ErrRateLimited)
	assert.Len(t, listAll(t, f), 6, "a throttled send writes nothing")
}

func TestSendRateGuardDisabled(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{RateCeiling: -1})
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := f.svc.Send(ctx, f.session.ID, f.owner, "ping")
		require.NoError(t, err)
	}
}

func TestSendConfigErrorBeforeAnyWrite(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{readyErr: fmt.Errorf("%w: no key", apperr.ErrConfig)}, Options{})

	_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.ErrorIs(t, err, apperr.ErrConfig)
	assert.Empty(t, listAll(t, f))

	session, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Chat 10:00:00", session.Title)
}

func TestSendRejectsBlankContent(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{})

	_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, " \n\t")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSendSurfacesAssistantStorageFailure(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failRole: chat.RoleAssistant}
	f := newFixture(t, st, &stubReplier{reply: "ok"}, Options{})

	_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "keep me")
	require.ErrorIs(t, err, apperr.ErrStorage)

	items := listAll(t, f)
	require.Len(t, items, 1, "the user message is not rolled back")
	assert.Equal(t, "keep me", items[0].Content)
}

func TestSendSurfacesUserStorageFailure(t *testing.T) {
	replier := &stubReplier{reply: "ok"}
	st := &failingStore{MemoryStore: store.NewMemoryStore(), failRole: chat.RoleUser}
	f := newFixture(t, st, replier, Options{})

	_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "lost")
	require.ErrorIs(t, err, apperr.ErrStorage)
	assert.Zero(t, replier.calls)
}

func TestConcurrentSendsKeepEveryMessage(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), &stubReplier{reply: "ok"}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items := listAll(t, f)
	require.Len(t, items, 10)
	users := 0
	for i, m := range items {
		if m.Role == chat.RoleUser {
			users++
		}
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(items[i-1].CreatedAt))
		}
	}
	assert.Equal(t, 5, users)
}

func TestSendRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	st := store.NewMemoryStore()
	f := newFixture(t, st, &stubReplier{err: errors.New("down")}, Options{})
	f.svc = NewService(st, &stubReplier{err: errors.New("down")}, Options{RateCeiling: 20}, zap.NewNop(), m)

	_, err := f.svc.Send(context.Background(), f.session.ID, f.owner, "hello")
	require.NoError(t, err)
	_, err = f.svc.Send(context.Background(), uuid.NewString(), f.owner, "hello")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(metrics.OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(metrics.OutcomeNotFound)))
}

func TestIsPlaceholderTitle(t *testing.T) {
	cases := map[string]bool{
		"":                  true,
		"   ":               true,
		"New Chat 10:00:00": true,
		"new":               true,
		"NEWS digest":       true,
		"Interview prep":    false,
		" New Chat":         false,
	}
	for title, want := range cases {
		assert.Equal(t, want, IsPlaceholderTitle(title), "title=%q", title)
	}
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "I want to change careers into data science",
		DeriveTitle("I want to change careers into data science and machine learning"))
	assert.Equal(t, "Any certs?", DeriveTitle("  Any   certs?\n"))

	long := DeriveTitle(strings.Repeat("a", 150))
	assert.Len(t, long, 100)
}
