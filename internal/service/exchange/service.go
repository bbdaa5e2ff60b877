// Package exchange implements the send-a-message flow: persist the user turn,
// ask the counselor model for a reply and persist that too.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/metrics"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/store"
	"github.com/zhouzirui/career-chat/backend/internal/tracer"
)

// FallbackReply is stored as the assistant turn whenever the model call fails,
// times out or comes back empty.
const FallbackReply = "Thanks for sharing. Give one specific goal or constraint, and practical next steps will be suggested."

const (
	titleTokens    = 8
	maxTitleLength = 100
)

// Replier produces the assistant text for a transcript.
type Replier interface {
	// Ready returns an apperr.ErrConfig when replies cannot be produced at all.
	Ready() error
	Reply(ctx context.Context, history []chat.Message) (string, error)
}

// Options bounds context size, throttling and the model deadline.
type Options struct {
	HistoryLoad  int
	RateWindow   time.Duration
	RateCeiling  int
	ReplyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryLoad <= 0 {
		o.HistoryLoad = 50
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 20 * time.Second
	}
	return o
}

// Service runs message exchanges.
type Service struct {
	store     store.Store
	assistant Replier
	opts      Options
	log       *zap.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
}

// NewService wires the exchange flow.
func NewService(st store.Store, assistant Replier, opts Options, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     st,
		assistant: assistant,
		opts:      opts.withDefaults(),
		log:       log.Named("exchange"),
		metrics:   m,
		clock:     time.Now,
	}
}

// ListMessages pages through a session's history, oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID, callerID string, page chat.PageRequest) (chat.Page[chat.Message], error) {
	if err := page.Validate(); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	if _, err := store.LoadOwned(ctx, s.store, sessionID, callerID); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	return s.store.ListMessages(ctx, sessionID, page)
}

// Send stores content as a user message, renames a placeholder-titled session
// from it, and stores the assistant reply. Ownership, throttling and
// configuration are checked before anything is written. Once the user message
// is stored it is never rolled back; model failures become FallbackReply.
func (s *Service) Send(ctx context.Context, sessionID, callerID, content string) (chat.Exchange, error) {
	ctx, span := tracer.Tracer().Start(ctx, "exchange.Send")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	exchange, outcome, err := s.send(ctx, sessionID, callerID, content)
	s.metrics.RecordExchange(outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return chat.Exchange{}, err
	}
	span.SetAttributes(attribute.String("exchange.outcome", outcome))
	return exchange, nil
}

func (s *Service) send(ctx context.Context, sessionID, callerID, content string) (chat.Exchange, string, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Exchange{}, "invalid", apperr.Invalid("content must not be empty")
	}

	session, err := store.LoadOwned(ctx, s.store, sessionID, callerID)
	if err != nil {
		return chat.Exchange{}, outcomeFor(err), err
	}

	if err := s.checkRate(ctx, sessionID); err != nil {
		return chat.Exchange{}, outcomeFor(err), err
	}

	if err := s.assistant.Ready(); err != nil {
		return chat.Exchange{}, metrics.OutcomeConfig, err
	}

	rename, err := s.shouldRename(ctx, session)
	if err != nil {
		return chat.Exchange{}, metrics.OutcomeStorage, err
	}

	userMsg, err := s.store.AppendMessage(ctx, sessionID, chat.RoleUser, content)
	if err != nil {
		return chat.Exchange{}, metrics.OutcomeStorage, err
	}

	// The user message is durable from here on; finish the exchange even if
	// the caller goes away.
	persistCtx := context.WithoutCancel(ctx)

	title := ""
	if rename {
		title = DeriveTitle(content)
	}
	if err := s.store.TouchSession(persistCtx, sessionID, title); err != nil {
		return chat.Exchange{}, metrics.OutcomeStorage, err
	}
	if title != "" {
		s.log.Info("session renamed", zap.String("session", sessionID), zap.String("title", title))
	}

	reply, outcome := s.generateReply(ctx, sessionID)

	assistantMsg, err := s.store.AppendMessage(persistCtx, sessionID, chat.RoleAssistant, reply)
	if err != nil {
		return chat.Exchange{}, metrics.OutcomeStorage, err
	}

	return chat.Exchange{User: userMsg, Assistant: assistantMsg}, outcome, nil
}

func (s *Service) checkRate(ctx context.Context, sessionID string) error {
	if s.opts.RateCeiling <= 0 {
		return nil
	}
	since := s.clock().Add(-s.opts.RateWindow)
	count, err := s.store.CountMessages(ctx, sessionID, chat.RoleUser, since)
	if err != nil {
		return err
	}
	if count > int64(s.opts.RateCeiling) {
		return fmt.Errorf("%w: %d messages in the last %s", apperr.ErrRateLimited, count, s.opts.RateWindow)
	}
	return nil
}

// shouldRename holds only for a placeholder title on a session that has not
// seen a user message yet, so a derived title starting with "new" is kept.
func (s *Service) shouldRename(ctx context.Context, session chat.Session) (bool, error) {
	if !IsPlaceholderTitle(session.Title) {
		return false, nil
	}
	prior, err := s.store.CountMessages(ctx, session.ID, chat.RoleUser, time.Time{})
	if err != nil {
		return false, err
	}
	return prior == 0, nil
}

// generateReply never fails: errors, panics, empty output and the deadline all
// yield FallbackReply. A late result from an abandoned call is dropped.
func (s *Service) generateReply(ctx context.Context, sessionID string) (string, string) {
	log := s.log.With(zap.String("session", sessionID))

	history, err := s.store.RecentMessages(ctx, sessionID, s.opts.HistoryLoad)
	if err != nil {
		log.Warn("load context failed, using fallback reply", zap.Error(err))
		return FallbackReply, metrics.OutcomeFallback
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ReplyTimeout)
	defer cancel()

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("completion panicked: %v", r)}
			}
		}()
		reply, err := s.assistant.Reply(ctx, history)
		done <- result{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Warn("completion failed, using fallback reply", zap.Error(res.err))
			return FallbackReply, metrics.OutcomeFallback
		}
		if strings.TrimSpace(res.reply) == "" {
			log.Warn("completion returned empty reply, using fallback reply")
			return FallbackReply, metrics.OutcomeFallback
		}
		return res.reply, metrics.OutcomeReplied
	case <-ctx.Done():
		log.Warn("completion timed out, using fallback reply", zap.Duration("timeout", s.opts.ReplyTimeout), zap.Error(ctx.Err()))
		return FallbackReply, metrics.OutcomeFallback
	}
}

// IsPlaceholderTitle reports whether title is blank or starts with "new" in
// any case.
func IsPlaceholderTitle(title string) bool {
	if strings.TrimSpace(title) == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(title), "new")
}

// DeriveTitle builds a session title from the first words of a message.
func DeriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > titleTokens {
		words = words[:titleTokens]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = strings.TrimSpace(string([]rune(title)[:maxTitleLength]))
	}
	return title
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, apperr.ErrRateLimited):
		return metrics.OutcomeRateLimited
	case errors.Is(err, apperr.ErrStorage):
		return metrics.OutcomeStorage
	default:
		return "rejected"
	}
}
