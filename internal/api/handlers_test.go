package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"streamagency.io/mode-router/internal/auth"
	"streamagency.io/mode-router/internal/cache"
	"streamagency.io/mode-router/internal/core"
	"streamagency.io/mode-router/internal/store"
)

const testSSE = "data: {\"choices\":[{\"delta\":{\"content\":\"Olá\"}}]}\n\ndata: [DONE]\n\n"

type scriptedGenerator struct {
	err   error
	panic bool
}

func (g *scriptedGenerator) Stream(ctx context.Context, req core.GenerationRequest) (io.ReadCloser, error) {
	if g.panic {
		panic("generator exploded")
	}
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(testSSE)), nil
}

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
	admin   *core.AdminService
	gen     *scriptedGenerator
}

type serverOption func(*serverSettings)

type serverSettings struct {
	requireVisitorID bool
	routerOpts       RouterOptions
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	settings := &serverSettings{routerOpts: RouterOptions{AllowedOrigins: []string{"*"}}}
	for _, opt := range opts {
		opt(settings)
	}

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cacheStore, err := cache.NewStore(cache.StoreTypeMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheStore.Close() })

	gen := &scriptedGenerator{}
	router := core.NewRouter(db,
		core.NewRateLimiter(cacheStore, core.DefaultRateLimitMax, core.DefaultRateLimitWindow),
		core.NewDuplicateSuppressor(cacheStore, core.DefaultDedupWindow, core.DefaultDedupMaxEntries),
		gen,
		core.WithPatternFinder(core.NewPatternService(db, nil, nil)),
	)
	admin := core.NewAdminService(db)
	handler := NewAPIHandler(router, admin, auth.NewTokenIssuer("test-secret", time.Hour), settings.requireVisitorID)

	h, err := NewRouter(handler, settings.routerOpts)
	require.NoError(t, err)
	return &testServer{handler: h, store: db, admin: admin, gen: gen}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) chat(t *testing.T, body any) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/api/chat", "", body)
}

func chatBody(text, conversationID, visitorID string) map[string]any {
	return map[string]any{
		"messages":       []map[string]string{{"role": "user", "content": text}},
		"conversationId": conversationID,
		"visitorId":      visitorID,
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestChat_StreamsWithRoutingHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := s.chat(t, chatBody("quanto custa o plano?", "", "visitor-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "sales", rec.Header().Get("X-Detected-Mode"))
	assert.Equal(t, "0.80", rec.Header().Get("X-Mode-Confidence"))
	assert.Equal(t, testSSE, rec.Body.String())

	convID := rec.Header().Get("X-Conversation-Id")
	require.NotEmpty(t, convID)
	conv, err := s.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, store.ModeSales, conv.Mode)
}

func TestChat_HandoffThenDuplicate(t *testing.T) {
	s := newTestServer(t)

	rec := s.chat(t, chatBody("quero falar com um atendente humano", "", "visitor-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["handoff"])
	assert.Equal(t, core.HandoffNotice, body["message"])
	assert.Equal(t, "handoff_human", body["mode"])

	convID := rec.Header().Get("X-Conversation-Id")
	conv, err := s.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingHuman, conv.Status)

	rec = s.chat(t, chatBody("quero falar com um atendente humano", convID, "visitor-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"skipped": true, "reason": "duplicate_message"}, decodeJSON(t, rec))
}

func TestChat_RequestErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.chat(t, `{"messages": [`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, core.MsgGenericError, decodeJSON(t, rec)["error"])

	rec = s.chat(t, map[string]any{"messages": []map[string]string{{"role": "robot", "content": "oi"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]map[string]string, 101)
	for i := range many {
		many[i] = map[string]string{"role": "user", "content": "oi"}
	}
	rec = s.chat(t, map[string]any{"messages": many})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an empty history is routed like any other turn
	rec = s.chat(t, map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "support", rec.Header().Get("X-Detected-Mode"))
}

func TestChat_RequireVisitorID(t *testing.T) {
	s := newTestServer(t, func(o *serverSettings) { o.requireVisitorID = true })

	rec := s.chat(t, chatBody("oi", "", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, core.MsgVisitorIDMissing, decodeJSON(t, rec)["error"])

	rec = s.chat(t, chatBody("oi", "", "visitor-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_UpstreamErrors(t *testing.T) {
	tests := []struct {
		upstream int
		status   int
		message  string
	}{
		{http.StatusTooManyRequests, http.StatusTooManyRequests, core.MsgUpstreamBusy},
		{http.StatusPaymentRequired, http.StatusPaymentRequired, core.MsgUnavailable},
		{http.StatusBadGateway, http.StatusInternalServerError, core.MsgGenericError},
	}
	for _, tt := range tests {
		s := newTestServer(t)
		s.gen.err = &core.GenerationError{StatusCode: tt.upstream, Body: "secret upstream detail"}

		rec := s.chat(t, chatBody("oi", "", "visitor-1"))
		assert.Equal(t, tt.status, rec.Code)
		assert.Equal(t, map[string]any{"error": tt.message}, decodeJSON(t, rec))
	}
}

func TestChat_PanicBecomesGenericError(t *testing.T) {
	s := newTestServer(t)
	s.gen.panic = true

	rec := s.chat(t, chatBody("oi", "", "visitor-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, core.MsgGenericError, decodeJSON(t, rec)["error"])
}

func TestChat_VisitorRateLimit(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < core.DefaultRateLimitMax; i++ {
		rec := s.chat(t, chatBody("oi", "", "visitor-1"))
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}
	rec := s.chat(t, chatBody("oi", "", "visitor-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, core.MsgRateLimited, decodeJSON(t, rec)["error"])
}

func TestAdmin_TakeoverFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.admin.CreateOperator(ctx, "ops@agencia.com", "s3nha")
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"email": "ops@agencia.com", "password": "errada"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"email": "ops@agencia.com", "password": "s3nha"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decodeJSON(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = s.chat(t, chatBody("tenho um problema no login", "", "visitor-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	convID := rec.Header().Get("X-Conversation-Id")

	rec = s.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/takeover", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/takeover", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/takeover", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.chat(t, chatBody("quero falar com um atendente humano", convID, "visitor-1"))
	assert.Equal(t, map[string]any{"skipped": true, "reason": "admin_takeover"}, decodeJSON(t, rec))

	rec = s.do(t, http.MethodGet, "/api/admin/conversations/"+convID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decodeJSON(t, rec)
	conv := details["conversation"].(map[string]any)
	assert.NotEmpty(t, conv["assigned_admin_id"])

	rec = s.do(t, http.MethodPost, "/api/admin/conversations/"+convID+"/release", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.chat(t, chatBody("oi de novo", convID, "visitor-1"))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, "/api/admin/conversations/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_SettingsAndModes(t *testing.T) {
	s := newTestServer(t)
	_, err := s.admin.CreateOperator(context.Background(), "ops@agencia.com", "s3nha")
	require.NoError(t, err)
	rec := s.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"email": "ops@agencia.com", "password": "s3nha"})
	token := decodeJSON(t, rec)["token"].(string)

	rec = s.do(t, http.MethodPut, "/api/admin/settings/ai", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/admin/settings/ai", token, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.chat(t, chatBody("oi", "", "visitor-1"))
	assert.Equal(t, map[string]any{"skipped": true, "reason": "ai_disabled"}, decodeJSON(t, rec))

	rec = s.do(t, http.MethodPut, "/api/admin/settings/ai", token, map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/admin/modes/sales", token, map[string]any{"enabled": true, "prompt_template": "Venda com calma."})
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := s.store.GetModeConfig(context.Background(), store.ModeSales)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "Venda com calma.", cfg.PromptTemplate)

	rec = s.do(t, http.MethodPut, "/api/admin/modes/astrology", token, map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGlobalLimiterAndCORS(t *testing.T) {
	s := newTestServer(t, func(o *serverSettings) {
		o.routerOpts.GlobalRate = "2-M"
		o.routerOpts.LimiterStore = memory.NewStore()
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://widget.example.com")
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"status":"ok"}`, strings.TrimSpace(rec.Body.String()))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Detected-Mode")
	}

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestNewRouter_RejectsBadRate(t *testing.T) {
	_, err := NewRouter(&APIHandler{}, RouterOptions{GlobalRate: "lots", LimiterStore: memory.NewStore()})
	assert.Error(t, err)
}
