// Package ai talks to the language model that writes counselor replies.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/config"
	"github.com/zhouzirui/career-chat/backend/internal/metrics"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	"github.com/zhouzirui/career-chat/backend/internal/tracer"
)

// ErrEmptyReply is returned when the model answers with blank content.
var ErrEmptyReply = errors.New("completion returned empty content")

// Service turns a session transcript into a counselor reply.
type Service struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	maxTurns  int
	ready     error
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewService selects the provider named in cfg. A missing credential does not
// fail construction: Ready reports it and every Reply returns it.
func NewService(ctx context.Context, cfg config.CompletionConfig, maxTurns int, log *zap.Logger, m *metrics.Metrics) (*Service, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		if !cfg.Ark.Enabled() {
			return newUnready(fmt.Errorf("%w: ARK_MODEL with ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY is required", apperr.ErrConfig), log, m), nil
		}
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("create ark chat model: %w", err)
		}
		return NewServiceWithModel(ctx, chatModel, maxTurns, log, m)
	default:
		if cfg.APIKey == "" {
			return newUnready(fmt.Errorf("%w: OPENROUTER_API_KEY is not set", apperr.ErrConfig), log, m), nil
		}
		return NewServiceWithModel(ctx, NewOpenRouterModel(cfg), maxTurns, log, m)
	}
}

// NewServiceWithModel wires an arbitrary chat model behind the counselor prompt.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, maxTurns int, log *zap.Logger, m *metrics.Metrics) (*Service, error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(newCounselorTemplate())
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile counselor chain: %w", err)
	}

	return &Service{
		chain:     runnable,
		maxTurns:  maxTurns,
		log:       log.Named("ai"),
		metrics:   m,
	}, nil
}

func newUnready(reason error, log *zap.Logger, m *metrics.Metrics) *Service {
	log.Named("ai").Warn("completion provider not configured; sends will fail", zap.Error(reason))
	return &Service{ready: reason, log: log.Named("ai"), metrics: m}
}

// Ready returns an apperr.ErrConfig when no completion credential is configured.
func (s *Service) Ready() error {
	return s.ready
}

// Reply runs the counselor prompt over history and returns the trimmed text.
func (s *Service) Reply(ctx context.Context, history []chat.Message) (string, error) {
	if s.ready != nil {
		return "", s.ready
	}

	ctx, span := tracer.Tracer().Start(ctx, "ai.Reply")
	defer span.End()
	span.SetAttributes(attribute.Int("history.len", len(history)))

	start := time.Now()
	resp, err := s.chain.Invoke(ctx, counselorInput(history, s.maxTurns))
	elapsed := time.Since(start)
	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "timeout"
		}
		s.metrics.RecordCompletion(status, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return "", fmt.Errorf("generate reply: %w", err)
	}

	s.metrics.RecordCompletion("ok", elapsed)
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	s.log.Debug("generated reply", zap.Int("history", len(history)), zap.Int("length", len(reply)), zap.Duration("elapsed", elapsed))
	return reply, nil
}
