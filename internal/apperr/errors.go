// Package apperr defines the error kinds shared by services and transport.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized 调用方身份缺失或凭证无效
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound 资源不存在或不属于调用方
	ErrNotFound = errors.New("not found")
	// ErrRateLimited 触发限流
	ErrRateLimited = errors.New("rate limited")
	// ErrConfig 缺少必要配置（例如模型凭证）
	ErrConfig = errors.New("configuration error")
	// ErrStorage 持久化失败
	ErrStorage = errors.New("storage error")
	// ErrInvalidInput 请求参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict 资源冲突（例如邮箱已注册）
	ErrConflict = errors.New("conflict")
)

// Storage wraps a persistence failure so that errors.Is(err, ErrStorage) holds
// while the driver error stays reachable through errors.Unwrap.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Invalid builds an ErrInvalidInput with a caller-facing message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Message returns the text that is safe to show to API callers. Storage
// failures never leak driver details.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStorage):
		return "storage unavailable"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "too many messages, slow down"
	case errors.Is(err, ErrConfig):
		return "assistant is not configured"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConflict):
		return err.Error()
	default:
		return "internal error"
	}
}
