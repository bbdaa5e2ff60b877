package chat

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/auth"
	"github.com/zhouzirui/career-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/career-chat/backend/internal/service/chat"
	"github.com/zhouzirui/career-chat/backend/internal/service/exchange"
	"github.com/zhouzirui/career-chat/backend/internal/validation"
	"github.com/zhouzirui/career-chat/backend/pkg/utils"
)

// Handler 会话与消息的HTTP处理器
type Handler struct {
	sessions  *chatService.Service
	exchanges *exchange.Service
}

// New 创建聊天处理器
func New(sessions *chatService.Service, exchanges *exchange.Service) *Handler {
	return &Handler{
		sessions:  sessions,
		exchanges: exchanges,
	}
}

// RegisterRoutes 注册会话与消息路由，调用方需先挂载 auth.RequireUser
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Post("/", h.handleCreateSession)
		r.Post("/open", h.handleOpenSession)
		r.Patch("/{sessionID}", h.handleRenameSession)
		r.Get("/{sessionID}/messages", h.handleListMessages)
		r.Post("/{sessionID}/messages", h.handleSendMessage)
	})
}

type createSessionRequest struct {
	Title string `json:"title" validate:"omitempty,max=100"`
}

func (req *createSessionRequest) normalize() { req.Title = strings.TrimSpace(req.Title) }

type renameSessionRequest struct {
	Title string `json:"title" validate:"notblank,max=100"`
}

func (req *renameSessionRequest) normalize() { req.Title = strings.TrimSpace(req.Title) }

type sendMessageRequest struct {
	Content string `json:"content" validate:"notblank"`
}

// handleListSessions 分页列出会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	page, err := pageRequest(r)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	sessions, err := h.sessions.List(r.Context(), userID, page)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleCreateSession 创建会话，标题可选
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	var payload createSessionRequest
	if err := decode(r, &payload); err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), userID, payload.Title)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleOpenSession 返回最近的会话，没有则自动创建
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	session, err := h.sessions.Open(r.Context(), userID)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

// handleRenameSession 重命名会话
func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	var payload renameSessionRequest
	if err := decode(r, &payload); err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	session, err := h.sessions.Rename(r.Context(), chi.URLParam(r, "sessionID"), userID, payload.Title)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

// handleListMessages 按时间正序分页列出消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	page, err := pageRequest(r)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	messages, err := h.exchanges.ListMessages(r.Context(), chi.URLParam(r, "sessionID"), userID, page)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleSendMessage 发送消息并返回用户消息与助手回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Require(r.Context())
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	var payload sendMessageRequest
	if err := decode(r, &payload); err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	result, err := h.exchanges.Send(r.Context(), chi.URLParam(r, "sessionID"), userID, payload.Content)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, result)
}

func decode(r *http.Request, dst interface{}) error {
	if err := utils.DecodeJSON(r, dst); err != nil {
		return err
	}
	// 长度校验针对去除首尾空白后的值，与服务层保持一致
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	return validation.Struct(dst)
}

// pageRequest 解析 cursor 与 take 查询参数，take 缺省为 0 表示使用默认值
func pageRequest(r *http.Request) (chat.PageRequest, error) {
	query := r.URL.Query()
	page := chat.PageRequest{Cursor: strings.TrimSpace(query.Get("cursor"))}

	if raw := strings.TrimSpace(query.Get("take")); raw != "" {
		take, err := strconv.Atoi(raw)
		if err != nil || take < 1 {
			return chat.PageRequest{}, apperr.Invalid("take must be between 1 and %d", chat.MaxPageSize)
		}
		page.Take = take
	}

	if err := page.Validate(); err != nil {
		return chat.PageRequest{}, err
	}
	return page, nil
}
