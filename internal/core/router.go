package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"streamagency.io/mode-router/internal/events"
	"streamagency.io/mode-router/internal/metrics"
	"streamagency.io/mode-router/internal/store"
)

// User-facing messages. Internal details never reach the visitor.
const (
	HandoffNotice = "Entendi! Vou chamar alguém da nossa equipe para continuar o seu atendimento. " +
		"Um atendente humano vai responder aqui em breve."

	MsgRateLimited      = "Você está enviando mensagens rápido demais. Aguarde um momento e tente novamente."
	MsgUpstreamBusy     = "Muitas requisições no momento. Aguarde alguns segundos e tente novamente."
	MsgUnavailable      = "Serviço temporariamente indisponível. Tente novamente mais tarde."
	MsgGenericError     = "Erro ao processar sua mensagem. Tente novamente."
	MsgVisitorIDMissing = "Identificação do visitante é obrigatória."

	escalationReasonPrefix = "Visitante solicitou atendimento humano: "
	maxReasonExcerpt       = 200
)

type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeHandoff  Outcome = "handoff"
	OutcomeStream   Outcome = "stream"
)

type SkipReason string

const (
	SkipAIDisabled       SkipReason = "ai_disabled"
	SkipAdminTakeover    SkipReason = "admin_takeover"
	SkipDuplicateMessage SkipReason = "duplicate_message"
)

// ChatRequest is one inbound visitor turn.
type ChatRequest struct {
	Messages       []ChatMessage `json:"messages" validate:"max=100,dive"`
	ConversationID string        `json:"conversationId" validate:"max=128"`
	VisitorID      string        `json:"visitorId" validate:"max=128"`
	VisitorName    string        `json:"visitorName" validate:"max=200"`
}

// Decision is what the router chose to do with a turn. Exactly one of the
// outcome-specific fields is meaningful.
type Decision struct {
	Outcome        Outcome
	ConversationID string
	Classification Classification

	StatusCode int    // rejected
	Error      string // rejected
	Reason     SkipReason
	Message    string        // handoff notice
	Stream     io.ReadCloser // stream; caller closes
}

// RouterStore is the subset of persistence the router needs.
type RouterStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	UpdateConversationMode(ctx context.Context, id string, mode store.Mode, confidence float64, at time.Time) error
	EscalateConversation(ctx context.Context, id, reason string, at time.Time) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetAISettings(ctx context.Context) (*store.AISettings, error)
	GetModeConfig(ctx context.Context, mode store.Mode) (*store.ModeConfig, error)
}

type PatternFinder interface {
	Relevant(ctx context.Context, mode store.Mode, query string) []store.LearnedPattern
}

type HandoffNotifier interface {
	PublishHandoff(ctx context.Context, ev events.HandoffEvent) error
}

// Router is the conversational gatekeeper: it decides whether the AI speaks,
// in which mode, and relays the generated stream.
type Router struct {
	store     RouterStore
	limiter   *RateLimiter
	dedup     *DuplicateSuppressor
	generator Generator
	patterns  PatternFinder
	notifier  HandoffNotifier
	now       func() time.Time
}

type RouterOption func(*Router)

func WithPatternFinder(p PatternFinder) RouterOption {
	return func(r *Router) { r.patterns = p }
}

func WithHandoffNotifier(n HandoffNotifier) RouterOption {
	return func(r *Router) { r.notifier = n }
}

// WithClock replaces the time source of the router, its limiter and its suppressor.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
		r.limiter.now = now
		r.dedup.now = now
	}
}

func NewRouter(st RouterStore, limiter *RateLimiter, dedup *DuplicateSuppressor, gen Generator, opts ...RouterOption) *Router {
	r := &Router{
		store:     st,
		limiter:   limiter,
		dedup:     dedup,
		generator: gen,
		notifier:  events.NoopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route runs one turn through the gatekeeper. Policy outcomes (rejections,
// skips, handoff) are returned as decisions; a non-nil error means something
// unexpected broke and the caller should answer with a generic failure.
func (r *Router) Route(ctx context.Context, req ChatRequest) (*Decision, error) {
	logger := zerolog.Ctx(ctx)

	if req.VisitorID != "" && !r.limiter.Allow(ctx, req.VisitorID) {
		metrics.ObserveRateLimited("visitor")
		logger.Info().Str("visitorID", req.VisitorID).Msg("Visitor rate limited")
		return r.finish(&Decision{Outcome: OutcomeRejected, StatusCode: http.StatusTooManyRequests, Error: MsgRateLimited}), nil
	}

	conv, err := r.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	conversationID := req.ConversationID
	if conv != nil {
		conversationID = conv.ID
	}

	settings, err := r.store.GetAISettings(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read AI settings, assuming enabled")
	} else if settings != nil && !settings.Enabled {
		return r.finish(&Decision{Outcome: OutcomeSkipped, Reason: SkipAIDisabled, ConversationID: conversationID}), nil
	}

	if conv != nil && conv.TakenOver() {
		return r.finish(&Decision{Outcome: OutcomeSkipped, Reason: SkipAdminTakeover, ConversationID: conversationID}), nil
	}

	latest := LatestUserMessage(req.Messages)
	cls := Classify(latest)
	metrics.ObserveClassification(string(cls.Mode), cls.Confidence)
	if conv != nil {
		if err := r.store.UpdateConversationMode(ctx, conv.ID, cls.Mode, cls.Confidence, r.now()); err != nil {
			logger.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to persist conversation mode")
		}
	}

	if cls.Mode == store.ModeHandoffHuman {
		return r.finish(r.handoff(ctx, conv, conversationID, req, latest, cls)), nil
	}

	modeCfg, err := r.store.GetModeConfig(ctx, cls.Mode)
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(cls.Mode)).Msg("Failed to read mode config, using default template")
		modeCfg = nil
	}
	var patterns []store.LearnedPattern
	if r.patterns != nil {
		patterns = r.patterns.Relevant(ctx, cls.Mode, latest)
	}
	creditAuthorized := IsCreditAuthorized(latest)

	system := ComposeSystemPrompt(PromptInput{
		Classification:   cls,
		ModeConfig:       modeCfg,
		Patterns:         patterns,
		CreditAuthorized: creditAuthorized,
	})

	logger.Debug().
		Str("conversationID", conversationID).
		Str("mode", string(cls.Mode)).
		Float64("confidence", cls.Confidence).
		Bool("creditsAuthorized", creditAuthorized).
		Int("patterns", len(patterns)).
		Msg("Relaying to generation endpoint")

	body, err := r.generator.Stream(ctx, GenerationRequest{SystemPrompt: system, Messages: GenerationHistory(req.Messages)})
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return r.finish(r.generationRejection(ctx, genErr, conversationID, cls)), nil
		}
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	return r.finish(&Decision{
		Outcome:        OutcomeStream,
		ConversationID: conversationID,
		Classification: cls,
		Stream:         body,
	}), nil
}

// resolveConversation loads the supplied conversation or, for a visitor
// without one, creates it. An unknown supplied id yields nil: the turn is
// still routed but nothing is persisted for it.
func (r *Router) resolveConversation(ctx context.Context, req ChatRequest) (*store.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := r.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation %s: %w", req.ConversationID, err)
		}
		if conv == nil {
			zerolog.Ctx(ctx).Warn().Str("conversationID", req.ConversationID).Msg("Unknown conversation id, routing without persistence")
		}
		return conv, nil
	}
	if req.VisitorID == "" {
		return nil, nil
	}

	now := r.now()
	conv := &store.Conversation{
		VisitorID:      req.VisitorID,
		Mode:           store.ModeSupport,
		ModeConfidence: defaultConfidence,
		Status:         store.StatusActive,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if req.VisitorName != "" {
		name := req.VisitorName
		conv.VisitorName = &name
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("conversationID", conv.ID).Str("visitorID", req.VisitorID).Msg("Conversation created")
	return conv, nil
}

func (r *Router) handoff(ctx context.Context, conv *store.Conversation, conversationID string, req ChatRequest, latest string, cls Classification) *Decision {
	logger := zerolog.Ctx(ctx)

	if r.dedup.IsDuplicate(ctx, conversationID, HandoffNotice) {
		return &Decision{Outcome: OutcomeSkipped, Reason: SkipDuplicateMessage, ConversationID: conversationID, Classification: cls}
	}

	now := r.now()
	reason := escalationReasonPrefix + excerpt(latest, maxReasonExcerpt)
	if conv != nil {
		if err := r.store.EscalateConversation(ctx, conv.ID, reason, now); err != nil {
			logger.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to mark conversation as pending human")
		}
		notice := &store.Message{
			ConversationID: conv.ID,
			Role:           store.RoleAssistant,
			Content:        HandoffNotice,
			IsAIGenerated:  true,
			CreatedAt:      now,
		}
		if err := r.store.CreateMessage(ctx, notice); err != nil {
			logger.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to store handoff notice")
		}
	}
	r.dedup.Record(ctx, conversationID, HandoffNotice)

	ev := events.HandoffEvent{
		Type:           events.TypeHandoffRequested,
		ConversationID: conversationID,
		VisitorID:      req.VisitorID,
		VisitorName:    req.VisitorName,
		Reason:         reason,
		At:             now,
	}
	if err := r.notifier.PublishHandoff(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("conversationID", conversationID).Msg("Failed to publish handoff event")
	}

	logger.Info().Str("conversationID", conversationID).Msg("Conversation handed off to a human")
	return &Decision{Outcome: OutcomeHandoff, ConversationID: conversationID, Classification: cls, Message: HandoffNotice}
}

func (r *Router) generationRejection(ctx context.Context, genErr *GenerationError, conversationID string, cls Classification) *Decision {
	metrics.ObserveGenerationError(genErr.StatusCode)
	d := &Decision{Outcome: OutcomeRejected, ConversationID: conversationID, Classification: cls}
	switch genErr.StatusCode {
	case http.StatusTooManyRequests:
		d.StatusCode, d.Error = http.StatusTooManyRequests, MsgUpstreamBusy
	case http.StatusPaymentRequired:
		d.StatusCode, d.Error = http.StatusPaymentRequired, MsgUnavailable
	default:
		zerolog.Ctx(ctx).Error().
			Int("statusCode", genErr.StatusCode).
			Str("responseBody", genErr.Body).
			Str("conversationID", conversationID).
			Msg("Generation endpoint returned an error")
		d.StatusCode, d.Error = http.StatusInternalServerError, MsgGenericError
	}
	return d
}

func (r *Router) finish(d *Decision) *Decision {
	metrics.ObserveDecision(string(d.Outcome), string(d.Reason), string(d.Classification.Mode))
	return d
}

// LatestUserMessage returns the content of the last user turn, or "".
func LatestUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// GenerationHistory drops caller-supplied system turns; the router owns the
// system instruction.
func GenerationHistory(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == store.RoleUser || m.Role == store.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
