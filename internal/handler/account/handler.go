package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/career-chat/backend/internal/auth"
	accountService "github.com/zhouzirui/career-chat/backend/internal/service/account"
	"github.com/zhouzirui/career-chat/backend/pkg/utils"
)

// Handler 账户注册与登录的HTTP处理器
type Handler struct {
	accounts *accountService.Service
	// secureCookie 控制会话 Cookie 的 Secure 标记
	secureCookie bool
}

// New 创建账户处理器
func New(accounts *accountService.Service, secureCookie bool) *Handler {
	return &Handler{accounts: accounts, secureCookie: secureCookie}
}

// RegisterRoutes 注册账户路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister 注册新用户
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload accountService.Registration
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	created, err := h.accounts.Register(r.Context(), payload)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, created)
}

// handleLogin 校验凭证并签发会话令牌，同时写入 HttpOnly Cookie
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	login, err := h.accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		utils.RespondServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    login.Token,
		Path:     "/",
		Expires:  login.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	utils.RespondJSON(w, http.StatusOK, login)
}
