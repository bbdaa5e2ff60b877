package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/config"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// UpstreamError reports a non-success HTTP status from the completion endpoint.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.Status, e.Body)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI compatible payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenRouterModel is a model.ChatModel backed by the OpenRouter chat
// completions endpoint. It performs a single request per call and never
// retries.
type OpenRouterModel struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	referer     string
	title       string
	client      *http.Client
}

var _ model.ChatModel = (*OpenRouterModel)(nil)

// NewOpenRouterModel builds a client from cfg. A missing API key is not an
// error here; every call then fails with apperr.ErrConfig.
func NewOpenRouterModel(cfg config.CompletionConfig) *OpenRouterModel {
	return &OpenRouterModel{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		referer:     cfg.Referer,
		title:       cfg.AppTitle,
		client:      &http.Client{},
	}
}

// Generate sends the ordered messages and returns the first choice.
func (m *OpenRouterModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENROUTER_API_KEY is not set", apperr.ErrConfig)
	}

	options := model.GetCommonOptions(&model.Options{
		Model:       &m.model,
		MaxTokens:   &m.maxTokens,
		Temperature: &m.temperature,
	}, opts...)

	payload := chatRequest{
		Model:    *options.Model,
		Messages: make([]wireMessage, 0, len(input)),
	}
	if options.MaxTokens != nil {
		payload.MaxTokens = *options.MaxTokens
	}
	if options.Temperature != nil {
		payload.Temperature = *options.Temperature
	}
	for _, msg := range input {
		payload.Messages = append(payload.Messages, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if m.referer != "" {
		req.Header.Set("HTTP-Referer", m.referer)
	}
	if m.title != "" {
		req.Header.Set("X-Title", m.title)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	var decoded chatResponse
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("completion endpoint error: %s", decoded.Error.Message)
	}

	content := ""
	if len(decoded.Choices) > 0 {
		content = strings.TrimSpace(decoded.Choices[0].Message.Content)
	}
	return schema.AssistantMessage(content, nil), nil
}

// Stream wraps Generate: the endpoint is called in request/response mode and
// the reply is delivered as a single chunk.
func (m *OpenRouterModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is a no-op; the counselor never calls tools.
func (m *OpenRouterModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}
