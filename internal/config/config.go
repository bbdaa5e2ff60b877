package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Completion CompletionConfig
	Exchange   ExchangeConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	completion, err := loadCompletionConfig()
	if err != nil {
		return nil, err
	}

	exchange, err := loadExchangeConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Database:   database,
		Auth:       auth,
		Completion: completion,
		Exchange:   exchange,
		Log:        logCfg,
		Telemetry:  telemetry,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins 为允许跨域访问的前端地址。
	AllowedOrigins []string
	SecureCookies  bool
	// TrustProxy 为 true 时才信任 X-Forwarded-For / X-Real-IP。
	TrustProxy bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	secure, err := parseBoolEnv("COOKIE_SECURE", false)
	if err != nil {
		return ServerConfig{}, err
	}

	trustProxy, err := parseBoolEnv("TRUST_PROXY", false)
	if err != nil {
		return ServerConfig{}, err
	}

	var origins []string
	raw := getEnvOrDefault("CORS_ALLOWED_ORIGINS", getEnvOrDefault("PUBLIC_BASE_URL", getEnvOrDefault("NEXTAUTH_URL", "http://localhost:3001")))
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return ServerConfig{Addr: addr, AllowedOrigins: origins, SecureCookies: secure, TrustProxy: trustProxy}, nil
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig 描述持久化存储配置。
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", DriverPostgres))
	if driver != DriverPostgres && driver != DriverMemory {
		return DatabaseConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q", driver)
	}

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if driver == DriverPostgres && dsn == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=%s", DriverPostgres)
	}

	maxIdle, err := parseIntEnv("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return DatabaseConfig{}, err
	}
	maxOpen, err := parseIntEnv("DB_MAX_OPEN_CONNS", 50)
	if err != nil {
		return DatabaseConfig{}, err
	}
	lifetime, err := parseDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour)
	if err != nil {
		return DatabaseConfig{}, err
	}

	return DatabaseConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxIdleConns:    maxIdle,
		MaxOpenConns:    maxOpen,
		ConnMaxLifetime: lifetime,
	}, nil
}

// AuthConfig 描述会话令牌签发配置。
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	// LoginRPS / LoginBurst 限制单个客户端 IP 的登录注册频率。
	LoginRPS   float64
	LoginBurst int
}

func loadAuthConfig() (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return AuthConfig{}, fmt.Errorf("JWT_SECRET is required")
	}

	ttl, err := parseDurationEnv("AUTH_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	rps := 5.0
	if override, err := parseOptionalFloatEnv("AUTH_LOGIN_RPS"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		rps = *override
	}

	burst, err := parseIntEnv("AUTH_LOGIN_BURST", 10)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{JWTSecret: secret, TokenTTL: ttl, LoginRPS: rps, LoginBurst: burst}, nil
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderArk        = "ark"
)

// CompletionConfig 描述大模型补全接口相关配置。
type CompletionConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Referer     string
	AppTitle    string
	Timeout     time.Duration
	Ark         ArkConfig
}

// ArkConfig 描述火山方舟模型配置，仅在 COMPLETION_PROVIDER=ark 时使用。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个方舟模型实例。
func (c CompletionConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Ark.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	temperature := float32(c.Temperature)
	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.Ark.BaseURL,
		Region:      c.Ark.Region,
		APIKey:      c.Ark.APIKey,
		AccessKey:   c.Ark.AccessKey,
		SecretKey:   c.Ark.SecretKey,
		Model:       c.Ark.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadCompletionConfig() (CompletionConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("COMPLETION_PROVIDER", ProviderOpenRouter))
	if provider != ProviderOpenRouter && provider != ProviderArk {
		return CompletionConfig{}, fmt.Errorf("invalid COMPLETION_PROVIDER value %q", provider)
	}

	maxTokens, err := parseIntEnv("COMPLETION_MAX_TOKENS", 500)
	if err != nil {
		return CompletionConfig{}, err
	}

	temperature := 0.2
	if override, err := parseOptionalFloatEnv("COMPLETION_TEMPERATURE"); err != nil {
		return CompletionConfig{}, err
	} else if override != nil {
		temperature = *override
	}

	timeout, err := parseDurationEnv("COMPLETION_TIMEOUT", 20*time.Second)
	if err != nil {
		return CompletionConfig{}, err
	}

	referer := getEnvOrDefault("PUBLIC_BASE_URL", getEnvOrDefault("NEXTAUTH_URL", "http://localhost:3001"))

	return CompletionConfig{
		Provider:    provider,
		APIKey:      strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		BaseURL:     getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Model:       getEnvOrDefault("OPENROUTER_MODEL", "meta-llama/llama-3.3-8b-instruct:free"),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Referer:     referer,
		AppTitle:    getEnvOrDefault("COMPLETION_APP_TITLE", "Oration Career Chat"),
		Timeout:     timeout,
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}, nil
}

// ExchangeConfig 描述消息交换流程的上下文窗口与限流参数。
type ExchangeConfig struct {
	HistoryLoad int
	MaxTurns    int
	RateWindow  time.Duration
	// RateCeiling 为 0 时关闭限流。
	RateCeiling int
}

func loadExchangeConfig() (ExchangeConfig, error) {
	historyLoad, err := parseIntEnv("EXCHANGE_HISTORY_LOAD", 50)
	if err != nil {
		return ExchangeConfig{}, err
	}
	maxTurns, err := parseIntEnv("EXCHANGE_MAX_TURNS", 25)
	if err != nil {
		return ExchangeConfig{}, err
	}
	window, err := parseDurationEnv("EXCHANGE_RATE_WINDOW", time.Minute)
	if err != nil {
		return ExchangeConfig{}, err
	}
	ceiling, err := parseIntEnv("EXCHANGE_RATE_CEILING", 20)
	if err != nil {
		return ExchangeConfig{}, err
	}
	if historyLoad < 1 || maxTurns < 1 || ceiling < 0 {
		return ExchangeConfig{}, fmt.Errorf("exchange limits must be positive (history=%d turns=%d ceiling=%d)", historyLoad, maxTurns, ceiling)
	}

	return ExchangeConfig{
		HistoryLoad: historyLoad,
		MaxTurns:    maxTurns,
		RateWindow:  window,
		RateCeiling: ceiling,
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level      string
	File       string
	Production bool
}

func loadLogConfig() (LogConfig, error) {
	production, err := parseBoolEnv("LOG_PRODUCTION", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		Production: production,
	}, nil
}

// TelemetryConfig 描述链路追踪配置。
type TelemetryConfig struct {
	TracingEnabled bool
	OTLPEndpoint   string
	ServiceName    string
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	enabled, err := parseBoolEnv("OTEL_ENABLED", false)
	if err != nil {
		return TelemetryConfig{}, err
	}
	return TelemetryConfig{
		TracingEnabled: enabled,
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName:    getEnvOrDefault("OTEL_SERVICE_NAME", "career-chat-backend"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
