package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-chat/backend/internal/auth"
	"github.com/zhouzirui/career-chat/backend/internal/handler/account"
	"github.com/zhouzirui/career-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/career-chat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/career-chat/backend/internal/middleware"
	accountService "github.com/zhouzirui/career-chat/backend/internal/service/account"
	chatService "github.com/zhouzirui/career-chat/backend/internal/service/chat"
	"github.com/zhouzirui/career-chat/backend/internal/service/exchange"
)

// Dependencies lists everything the HTTP layer needs.
type Dependencies struct {
	Sessions  *chatService.Service
	Exchanges *exchange.Service
	Accounts  *accountService.Service
	Tokens    *auth.TokenIssuer
	// Limiter throttles the credential endpoints; nil disables throttling.
	Limiter *auth.Limiter

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	AllowedOrigins []string
	SecureCookies  bool
	// TrustProxy takes the client address from forwarding headers. Only set
	// it behind a proxy that overwrites them, or the login throttle can be
	// dodged by rotating the header.
	TrustProxy bool
	Log        *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middlewarePkg.RequestLogger(deps.Log, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	accountHandler := account.New(deps.Accounts, deps.SecureCookies)
	chatHandler := chat.New(deps.Sessions, deps.Exchanges)

	r.Route("/api", func(api chi.Router) {
		api.Use(auth.Authenticate(deps.Tokens, deps.Log))

		api.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("pong"))
		})

		// Public credential endpoints
		api.Group(func(public chi.Router) {
			if deps.Limiter != nil {
				public.Use(deps.Limiter.Middleware)
			}
			accountHandler.RegisterRoutes(public)
		})

		// Everything else requires a signed-in caller
		api.Group(func(protected chi.Router) {
			protected.Use(auth.RequireUser)
			chatHandler.RegisterRoutes(protected)
		})
	})

	return r
}
