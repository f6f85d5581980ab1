package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streamagency.io/mode-router/internal/auth"
	"streamagency.io/mode-router/internal/store"
)

var (
	ErrUnknownMode         = errors.New("unknown mode")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrConversationMissing = errors.New("conversation not found")
)

const conversationHistoryLimit = 50

// AdminStore is the persistence surface used by operator actions.
type AdminStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	AssignOperator(ctx context.Context, conversationID string, operatorID *string) error
	SetAIEnabled(ctx context.Context, enabled bool) error
	UpsertModeConfig(ctx context.Context, cfg *store.ModeConfig) error
	CreateOperator(ctx context.Context, email, passwordHash string) (*store.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*store.Operator, error)
	GetOperatorByID(ctx context.Context, id string) (*store.Operator, error)
}

type ConversationDetails struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []store.Message     `json:"messages"`
}

// AdminService carries out operator actions: takeover, release, the global
// kill-switch and per-mode prompt overrides.
type AdminService struct {
	store AdminStore
	now   func() time.Time
}

func NewAdminService(st AdminStore) *AdminService {
	return &AdminService{store: st, now: time.Now}
}

func (s *AdminService) CreateOperator(ctx context.Context, email, password string) (*store.Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	op, err := s.store.CreateOperator(ctx, email, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to create operator %s: %w", email, err)
	}
	return op, nil
}

// Authenticate returns the operator for valid credentials or ErrInvalidCredentials.
func (s *AdminService) Authenticate(ctx context.Context, email, password string) (*store.Operator, error) {
	op, err := s.store.GetOperatorByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}
	if op == nil || !auth.CheckPasswordHash(password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return op, nil
}

func (s *AdminService) GetOperator(ctx context.Context, id string) (*store.Operator, error) {
	return s.store.GetOperatorByID(ctx, id)
}

func (s *AdminService) GetConversationDetails(ctx context.Context, id string) (*ConversationDetails, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	if conv == nil {
		return nil, ErrConversationMissing
	}
	messages, err := s.store.GetRecentMessages(ctx, id, conversationHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for conversation %s: %w", id, err)
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return &ConversationDetails{Conversation: conv, Messages: messages}, nil
}

// TakeOver assigns the operator; the AI stays silent on the conversation
// until it is released.
func (s *AdminService) TakeOver(ctx context.Context, conversationID, operatorID string) error {
	return s.assign(ctx, conversationID, &operatorID)
}

func (s *AdminService) Release(ctx context.Context, conversationID string) error {
	return s.assign(ctx, conversationID, nil)
}

func (s *AdminService) assign(ctx context.Context, conversationID string, operatorID *string) error {
	err := s.store.AssignOperator(ctx, conversationID, operatorID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationMissing
	}
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", conversationID, err)
	}
	ev := zerolog.Ctx(ctx).Info().Str("conversationID", conversationID)
	if operatorID != nil {
		ev.Str("operatorID", *operatorID).Msg("Conversation taken over by operator")
	} else {
		ev.Msg("Conversation released to AI")
	}
	return nil
}

func (s *AdminService) SetAIEnabled(ctx context.Context, enabled bool) error {
	if err := s.store.SetAIEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("failed to update AI settings: %w", err)
	}
	zerolog.Ctx(ctx).Info().Bool("enabled", enabled).Msg("AI kill-switch updated")
	return nil
}

func (s *AdminService) UpdateModeConfig(ctx context.Context, mode store.Mode, enabled bool, template string) (*store.ModeConfig, error) {
	if !mode.Valid() || mode == store.ModeHandoffHuman {
		return nil, ErrUnknownMode
	}
	cfg := &store.ModeConfig{
		Mode:           mode,
		Enabled:        enabled,
		PromptTemplate: template,
		UpdatedAt:      s.now(),
	}
	if err := s.store.UpsertModeConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save mode config %s: %w", mode, err)
	}
	return cfg, nil
}
