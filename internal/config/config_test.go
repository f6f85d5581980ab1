package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("AI_GATEWAY_KEY", "key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, "router:", cfg.CacheKeyPrefix)
	assert.Equal(t, time.Minute, cfg.CacheCleanupInterval)
	assert.Equal(t, GenerationGateway, cfg.GenerationBackend)
	assert.Equal(t, 20, cfg.Router.RateLimitMax)
	assert.Equal(t, 60*time.Second, cfg.Router.RateLimitWindow)
	assert.Equal(t, 30*time.Second, cfg.Router.DedupWindow)
	assert.Equal(t, 10, cfg.Router.DedupMaxEntries)
	assert.False(t, cfg.Router.RequireVisitorID)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.EmbeddingsEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GENERATION_BACKEND", "gemini")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("DEDUP_WINDOW", "10s")
	t.Setenv("REQUIRE_VISITOR_ID", "true")
	t.Setenv("PATTERN_INDEX", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, GenerationGemini, cfg.GenerationBackend)
	assert.Equal(t, 5, cfg.Router.RateLimitMax)
	assert.Equal(t, 10*time.Second, cfg.Router.DedupWindow)
	assert.True(t, cfg.Router.RequireVisitorID)
	assert.True(t, cfg.EmbeddingsEnabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret:            "secret",
			StoreBackend:         StoreSQLite,
			CacheBackend:         CacheMemory,
			CacheCleanupInterval: time.Minute,
			GenerationBackend:    GenerationGateway,
			GatewayKey:           "key",
			PatternIndex:         PatternIndexNone,
			Router: RouterOptions{
				RateLimitMax:    20,
				RateLimitWindow: time.Minute,
				DedupWindow:     30 * time.Second,
				DedupMaxEntries: 10,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"supabase without credentials", func(c *Config) { c.StoreBackend = StoreSupabase }, "SUPABASE_URL"},
		{"unknown store", func(c *Config) { c.StoreBackend = "mongo" }, "STORE_BACKEND"},
		{"unknown cache", func(c *Config) { c.CacheBackend = "memcached" }, "CACHE_BACKEND"},
		{"zero cleanup interval", func(c *Config) { c.CacheCleanupInterval = 0 }, "CACHE_CLEANUP_INTERVAL"},
		{"gateway without key", func(c *Config) { c.GatewayKey = "" }, "AI_GATEWAY_KEY"},
		{"gemini without key", func(c *Config) { c.GenerationBackend = GenerationGemini }, "GEMINI_API_KEY"},
		{"qdrant without url", func(c *Config) { c.PatternIndex = PatternIndexQdrant }, "QDRANT_URL"},
		{"zero ceiling", func(c *Config) { c.Router.RateLimitMax = 0 }, "RATE_LIMIT_MAX"},
		{"zero window", func(c *Config) { c.Router.DedupWindow = 0 }, "DEDUP_WINDOW"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
