package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("NEXTAUTH_URL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3001"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.SecureCookies)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)

	assert.Equal(t, ProviderOpenRouter, cfg.Completion.Provider)
	assert.Empty(t, cfg.Completion.APIKey, "missing credential must not fail startup")
	assert.Equal(t, 500, cfg.Completion.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Completion.Temperature, 1e-9)
	assert.Equal(t, 20*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, "http://localhost:3001", cfg.Completion.Referer)

	assert.Equal(t, 50, cfg.Exchange.HistoryLoad)
	assert.Equal(t, 25, cfg.Exchange.MaxTurns)
	assert.Equal(t, time.Minute, cfg.Exchange.RateWindow)
	assert.Equal(t, 20, cfg.Exchange.RateCeiling)
}

func TestLoadServerAddrForms(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":9001":          ":9001",
		"127.0.0.1:9002": "127.0.0.1:9002",
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("PORT", raw)
			got, err := loadServerConfig()
			require.NoError(t, err)
			assert.Equal(t, want, got.Addr)
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"COMPLETION_TIMEOUT":     "soon",
		"COMPLETION_MAX_TOKENS":  "many",
		"COMPLETION_TEMPERATURE": "warm",
		"LOG_PRODUCTION":         "maybe",
		"STORAGE_DRIVER":         "mongo",
		"COMPLETION_PROVIDER":    "nobody",
		"TRUST_PROXY":            "sometimes",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestRefererFallsBackToNextAuthURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("NEXTAUTH_URL", "https://chat.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.Completion.Referer)
}

func TestArkEnabledRequiresModelAndCredential(t *testing.T) {
	assert.False(t, ArkConfig{APIKey: "k"}.Enabled())
	assert.True(t, ArkConfig{APIKey: "k", Model: "m"}.Enabled())
	assert.True(t, ArkConfig{AccessKey: "a", SecretKey: "s", Model: "m"}.Enabled())
	assert.False(t, ArkConfig{AccessKey: "a", Model: "m"}.Enabled())
}

func TestAllowedOriginsList(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}
