package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StoreSupabase = "supabase"

	CacheMemory = "memory"
	CacheRedis  = "redis"

	GenerationGateway = "gateway"
	GenerationGemini  = "gemini"

	PatternIndexNone   = "none"
	PatternIndexMemory = "memory"
	PatternIndexQdrant = "qdrant"
)

type Config struct {
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	JWTSecret string `env:"JWT_SECRET"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DatabaseURL  string `env:"DATABASE_URL" envDefault:"mode_router.db"`
	SupabaseURL  string `env:"SUPABASE_URL"`
	SupabaseKey  string `env:"SUPABASE_KEY"`

	CacheBackend         string        `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheKeyPrefix       string        `env:"CACHE_KEY_PREFIX" envDefault:"router:"`
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m"`
	RedisURL             string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	GenerationBackend string `env:"GENERATION_BACKEND" envDefault:"gateway"`
	GatewayURL        string `env:"AI_GATEWAY_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	GatewayKey        string `env:"AI_GATEWAY_KEY"`
	GatewayModel      string `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	GeminiModel       string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash-latest"`

	Router RouterOptions

	GlobalRateLimit    string   `env:"GLOBAL_RATE_LIMIT" envDefault:"300-M"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	PatternIndex     string `env:"PATTERN_INDEX" envDefault:"none"`
	QdrantURL        string `env:"QDRANT_URL"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"learned_patterns"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`

	RabbitMQURL   string `env:"RABBITMQ_URL"`
	RabbitMQQueue string `env:"RABBITMQ_QUEUE" envDefault:"mode_router_handoffs"`
}

// RouterOptions tunes the gatekeeper's windows and ceilings.
type RouterOptions struct {
	RateLimitMax     int           `env:"RATE_LIMIT_MAX" envDefault:"20"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	DedupWindow      time.Duration `env:"DEDUP_WINDOW" envDefault:"30s"`
	DedupMaxEntries  int           `env:"DEDUP_MAX_ENTRIES" envDefault:"10"`
	RequireVisitorID bool          `env:"REQUIRE_VISITOR_ID" envDefault:"false"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	switch c.StoreBackend {
	case StoreSQLite:
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_KEY are required for the supabase store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.CacheBackend != CacheMemory && c.CacheBackend != CacheRedis {
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheCleanupInterval <= 0 {
		return errors.New("CACHE_CLEANUP_INTERVAL must be positive")
	}

	switch c.GenerationBackend {
	case GenerationGateway:
		if c.GatewayKey == "" {
			return errors.New("AI_GATEWAY_KEY environment variable is required")
		}
	case GenerationGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND %q", c.GenerationBackend)
	}

	switch c.PatternIndex {
	case PatternIndexNone, PatternIndexMemory:
	case PatternIndexQdrant:
		if c.QdrantURL == "" {
			return errors.New("QDRANT_URL is required for the qdrant pattern index")
		}
	default:
		return fmt.Errorf("unknown PATTERN_INDEX %q", c.PatternIndex)
	}

	if c.Router.RateLimitMax <= 0 || c.Router.DedupMaxEntries <= 0 {
		return errors.New("RATE_LIMIT_MAX and DEDUP_MAX_ENTRIES must be positive")
	}
	if c.Router.RateLimitWindow <= 0 || c.Router.DedupWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW and DEDUP_WINDOW must be positive")
	}
	return nil
}

// EmbeddingsEnabled reports whether learned patterns are ranked by similarity.
// Embeddings come from Gemini, so a key is needed regardless of the generation backend.
func (c *Config) EmbeddingsEnabled() bool {
	return c.PatternIndex != PatternIndexNone && c.GeminiAPIKey != ""
}
