package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"streamagency.io/mode-router/internal/api"
	"streamagency.io/mode-router/internal/auth"
	"streamagency.io/mode-router/internal/cache"
	"streamagency.io/mode-router/internal/config"
	"streamagency.io/mode-router/internal/core"
	"streamagency.io/mode-router/internal/events"
	"streamagency.io/mode-router/internal/logging"
	"streamagency.io/mode-router/internal/patterns"
	"streamagency.io/mode-router/internal/store"
)

func main() {
	ingestFile := flag.String("ingest-patterns", "", "Load learned patterns from a markdown table file and exit")
	operatorEmail := flag.String("add-operator", "", "Create an operator account with this email and exit (requires -password)")
	operatorPassword := flag.String("password", "", "Password for -add-operator")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	app := &cliCommands{
		ingestFile:       *ingestFile,
		operatorEmail:    *operatorEmail,
		operatorPassword: *operatorPassword,
	}
	if err := run(cfg, app); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
}

type cliCommands struct {
	ingestFile       string
	operatorEmail    string
	operatorPassword string
}

func run(cfg *config.Config, cmds *cliCommands) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	admin := core.NewAdminService(dataStore)

	if cmds.operatorEmail != "" {
		if cmds.operatorPassword == "" {
			return errors.New("-add-operator requires -password")
		}
		op, err := admin.CreateOperator(ctx, cmds.operatorEmail, cmds.operatorPassword)
		if err != nil {
			return err
		}
		log.Info().Str("operatorID", op.ID).Str("email", op.Email).Msg("Operator created")
		return nil
	}

	var gemini *core.LLMService
	if cfg.GenerationBackend == config.GenerationGemini || cfg.EmbeddingsEnabled() {
		gemini, err = core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer gemini.Close()
	}

	var embed store.Embedder
	if cfg.EmbeddingsEnabled() {
		embed = gemini.Embed
	}

	if cmds.ingestFile != "" {
		log.Info().Str("file", cmds.ingestFile).Msg("Starting learned pattern ingestion")
		n, err := store.IngestPatternsFromFile(ctx, dataStore, cmds.ingestFile, embed)
		if err != nil {
			return fmt.Errorf("pattern ingestion failed: %w", err)
		}
		log.Info().Int("patterns", n).Msg("Pattern ingestion complete")
		return nil
	}

	var redisClient *redis.Client
	if cfg.CacheBackend == config.CacheRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("could not reach redis: %w", err)
		}
		log.Info().Str("addr", opts.Addr).Msg("Redis connection established")
	}

	cacheStore, err := openCache(cfg, redisClient)
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	generator, err := openGenerator(cfg, gemini)
	if err != nil {
		return err
	}

	index, err := openPatternIndex(ctx, cfg, dataStore)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	publisher, err := events.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	if err != nil {
		return err
	}
	defer publisher.Close()

	router := core.NewRouter(
		dataStore,
		core.NewRateLimiter(cacheStore, cfg.Router.RateLimitMax, cfg.Router.RateLimitWindow),
		core.NewDuplicateSuppressor(cacheStore, cfg.Router.DedupWindow, cfg.Router.DedupMaxEntries),
		generator,
		core.WithPatternFinder(core.NewPatternService(dataStore, index, embed)),
		core.WithHandoffNotifier(publisher),
	)

	limiterStore, err := openLimiterStore(redisClient)
	if err != nil {
		return err
	}
	apiHandler := api.NewAPIHandler(router, admin, auth.NewTokenIssuer(cfg.JWTSecret, auth.DefaultTokenTTL), cfg.Router.RequireVisitorID)
	handler, err := api.NewRouter(apiHandler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		GlobalRate:     cfg.GlobalRateLimit,
		LimiterStore:   limiterStore,
	})
	if err != nil {
		return err
	}

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // lifted per request while streaming
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).
			Str("store", cfg.StoreBackend).
			Str("cache", cfg.CacheBackend).
			Str("generation", cfg.GenerationBackend).
			Str("patternIndex", cfg.PatternIndex).
			Msg("Starting mode router")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server exiting gracefully")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSupabase:
		return store.NewSupabaseStore(store.SupabaseConfig{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseKey})
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

func openCache(cfg *config.Config, client *redis.Client) (cache.Store, error) {
	opts := []cache.StoreOption{cache.WithKeyPrefix(cfg.CacheKeyPrefix)}
	if cfg.CacheBackend == config.CacheRedis {
		return cache.NewStore(cache.StoreTypeRedis, append(opts, cache.WithRedisClient(client))...)
	}
	return cache.NewStore(cache.StoreTypeMemory, append(opts, cache.WithCleanupInterval(cfg.CacheCleanupInterval))...)
}

func openLimiterStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return limitermemory.NewStore(), nil
	}
	st, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "router:global"})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return st, nil
}

func openGenerator(cfg *config.Config, gemini *core.LLMService) (core.Generator, error) {
	if cfg.GenerationBackend == config.GenerationGemini {
		return gemini, nil
	}
	return core.NewGatewayClient(cfg.GatewayURL, cfg.GatewayKey, cfg.GatewayModel)
}

// openPatternIndex returns nil when patterns are ranked by success count only.
func openPatternIndex(ctx context.Context, cfg *config.Config, dataStore store.Store) (patterns.Index, error) {
	if !cfg.EmbeddingsEnabled() {
		return nil, nil
	}

	var index patterns.Index
	switch cfg.PatternIndex {
	case config.PatternIndexQdrant:
		q, err := patterns.NewQdrantIndex(patterns.QdrantConfig{
			URL:        cfg.QdrantURL,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
			MinScore:   patterns.DefaultMinScore,
		})
		if err != nil {
			return nil, err
		}
		index = q
	default:
		index = patterns.NewMemoryIndex(patterns.DefaultMinScore)
	}

	all, err := dataStore.GetAllLearnedPatterns(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load learned patterns for the index")
		return index, nil
	}
	if err := index.Sync(ctx, all); err != nil {
		log.Warn().Err(err).Msg("Failed to sync learned patterns to the index")
	}
	return index, nil
}
