package store

import (
	"context"
	"time"
)

// Store is the persistence surface used by the router and the admin API.
// Getters return nil, nil when the record does not exist.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversationMode(ctx context.Context, id string, mode Mode, confidence float64, at time.Time) error
	EscalateConversation(ctx context.Context, id, reason string, at time.Time) error
	AssignOperator(ctx context.Context, id string, operatorID *string) error

	CreateMessage(ctx context.Context, msg *Message) error
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	GetAISettings(ctx context.Context) (*AISettings, error)
	SetAIEnabled(ctx context.Context, enabled bool) error

	GetModeConfig(ctx context.Context, mode Mode) (*ModeConfig, error)
	UpsertModeConfig(ctx context.Context, cfg *ModeConfig) error

	CreateLearnedPattern(ctx context.Context, p *LearnedPattern) error
	ListLearnedPatterns(ctx context.Context, mode Mode, limit int) ([]LearnedPattern, error)
	GetAllLearnedPatterns(ctx context.Context) ([]LearnedPattern, error)

	CreateOperator(ctx context.Context, email, passwordHash string) (*Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*Operator, error)
	GetOperatorByID(ctx context.Context, id string) (*Operator, error)

	Close() error
}
