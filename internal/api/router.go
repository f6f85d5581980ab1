package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"

	"streamagency.io/mode-router/internal/metrics"
)

type RouterOptions struct {
	AllowedOrigins []string
	// GlobalRate is a limiter rate such as "300-M"; empty disables the per-IP cap.
	GlobalRate   string
	LimiterStore limiter.Store
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: ExposedHeaders,
		MaxAge:         300,
	}).Handler)

	if opts.GlobalRate != "" && opts.LimiterStore != nil {
		mw, err := globalLimiter(opts.GlobalRate, opts.LimiterStore)
		if err != nil {
			return nil, fmt.Errorf("invalid global rate limit %q: %w", opts.GlobalRate, err)
		}
		r.Use(mw)
	}

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/chat", apiHandler.ChatHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", apiHandler.LoginHandler)

			r.Group(func(r chi.Router) {
				r.Use(apiHandler.OperatorAuth)

				r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
				r.Post("/conversations/{conversationID}/takeover", apiHandler.TakeOverHandler)
				r.Post("/conversations/{conversationID}/release", apiHandler.ReleaseHandler)
				r.Put("/settings/ai", apiHandler.SetAIHandler)
				r.Put("/modes/{mode}", apiHandler.UpdateModeHandler)
			})
		})
	})

	return r, nil
}
