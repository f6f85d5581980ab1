package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"
	"github.com/ulule/limiter/v3"

	"streamagency.io/mode-router/internal/core"
	"streamagency.io/mode-router/internal/metrics"
)

type contextKey string

const operatorIDKey contextKey = "operatorID"

func operatorIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(operatorIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// recoverer turns a panic into the generic 500 body instead of a dropped connection.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().Interface("panic", rec).Msg("Recovered from panic")
				writeError(w, http.StatusInternalServerError, core.MsgGenericError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// OperatorAuth requires a valid operator bearer token.
func (h *APIHandler) OperatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		operatorID, err := h.tokens.Validate(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		op, err := h.admin.GetOperator(r.Context(), operatorID)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("operatorID", operatorID).Msg("Failed to load operator")
			writeError(w, http.StatusInternalServerError, core.MsgGenericError)
			return
		}
		if op == nil {
			writeError(w, http.StatusUnauthorized, "Operator not found")
			return
		}

		ctx := context.WithValue(r.Context(), operatorIDKey, op.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// globalLimiter caps requests per client IP across every route. A failing
// limiter store lets requests through.
func globalLimiter(formatted string, store limiter.Store) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(store, rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lctx, err := instance.Get(r.Context(), instance.GetIPKey(r))
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("Global limiter failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

			if lctx.Reached {
				metrics.ObserveRateLimited("global")
				writeError(w, http.StatusTooManyRequests, core.MsgRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
