package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/pkg/utils"
)

// SessionCookie is read when no Authorization header is present.
const SessionCookie = "session_token"

// Authenticate resolves the caller from a bearer token or the session cookie.
// It never rejects; RequireUser does that for protected routes.
func Authenticate(issuer *TokenIssuer, log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := issuer.Parse(raw)
			if err != nil {
				log.Debug("ignoring invalid token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireUser rejects requests without a resolved caller before any protected
// handler runs.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserID(r.Context()); !ok {
			utils.RespondServiceError(w, apperr.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
