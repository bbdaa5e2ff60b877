package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zhouzirui/career-chat/backend/internal/auth"
	"github.com/zhouzirui/career-chat/backend/internal/config"
	"github.com/zhouzirui/career-chat/backend/internal/database"
	"github.com/zhouzirui/career-chat/backend/internal/handler"
	"github.com/zhouzirui/career-chat/backend/internal/logger"
	"github.com/zhouzirui/career-chat/backend/internal/metrics"
	"github.com/zhouzirui/career-chat/backend/internal/service/account"
	"github.com/zhouzirui/career-chat/backend/internal/service/ai"
	"github.com/zhouzirui/career-chat/backend/internal/service/chat"
	"github.com/zhouzirui/career-chat/backend/internal/service/exchange"
	"github.com/zhouzirui/career-chat/backend/internal/store"
	"github.com/zhouzirui/career-chat/backend/internal/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "career-chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("no .env file loaded, using process environment only", zap.Error(envErr))
	}

	shutdownTracer, err := tracer.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	st, closeStore, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	assistant, err := ai.NewService(ctx, cfg.Completion, cfg.Exchange.MaxTurns, log, m)
	if err != nil {
		return fmt.Errorf("initialize completion provider: %w", err)
	}
	if assistant.Ready() == nil {
		log.Info("completion provider ready", zap.String("provider", cfg.Completion.Provider))
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	router := handler.NewRouter(handler.Dependencies{
		Sessions: chat.NewService(st, log),
		Exchanges: exchange.NewService(st, assistant, exchange.Options{
			HistoryLoad:  cfg.Exchange.HistoryLoad,
			RateWindow:   cfg.Exchange.RateWindow,
			RateCeiling:  cfg.Exchange.RateCeiling,
			ReplyTimeout: cfg.Completion.Timeout,
		}, log, m),
		Accounts:       account.NewService(st, tokens, 0, log),
		Tokens:         tokens,
		Limiter:        auth.NewLimiter(cfg.Auth.LoginRPS, cfg.Auth.LoginBurst),
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookies:  cfg.Server.SecureCookies,
		TrustProxy:     cfg.Server.TrustProxy,
		Log:            log,
	})

	return startServer(ctx, cfg.Server, router, log)
}

// openStore opens the configured backend. The returned closer releases the
// connection pool.
func openStore(cfg config.DatabaseConfig, log *zap.Logger) (store.Store, func(), error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return store.NewGormStore(db), func() { closeDB(db, log) }, nil
}

func closeDB(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("closing database failed", zap.Error(err))
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("career chat backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
